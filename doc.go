// Package gateway implements a session-gated API-entitlement gateway.
//
// Clients present a session identifier and a hardware identifier; the
// gateway validates the session against a remote record store, filters
// the feature catalog down to the user's entitlements, encrypts each
// entitled feature's field values under a key derived from the session
// and hardware pair, and returns the sealed payload with an advisory
// refresh window.
//
// Basic usage:
//
//	store, err := firebase.New(baseURL)
//	if err != nil { ... }
//
//	srv, err := gateway.NewServer(store, &gateway.Config{
//		Secret: secret,
//	})
//	if err != nil { ... }
//
//	handler := gateway.NewHandler(srv, logger)
//	http.ListenAndServe(":8080", handler.Routes())
//
// The derived field key is reproducible by any party holding the same
// session, hardware identifier, and service secret, which is how
// clients decrypt reversible-mode payloads without a key exchange.
package gateway
