// Package firebase implements the record store against a path-addressable
// JSON document store over HTTP (Firebase Realtime Database REST layout).
//
// Documents are fetched with GET <base>/<path>.json and removed with
// DELETE <base>/<path>.json. Any non-2xx response is reported as
// storage.ErrNotFound; the remote protocol gives no way to tell a missing
// document from a transient failure.
package firebase
