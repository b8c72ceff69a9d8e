// Package entitlement decides which feature catalog entries a user may
// access. Permission is a single boolean per feature key; there are no
// roles or hierarchies.
package entitlement

import (
	"errors"

	"github.com/hmxlabs/hmx-gateway/storage"
)

// Single-feature request failures.
var (
	// ErrForbidden means the user's entitlement flag for the requested
	// feature is absent or not true.
	ErrForbidden = errors.New("entitlement: feature forbidden")

	// ErrNotFound means the requested feature key has no catalog entry.
	ErrNotFound = errors.New("entitlement: feature not found")
)

// DefaultMinVersion is the manifest minimum-version fallback for catalog
// entries that do not declare one.
const DefaultMinVersion = "1"

// Flag is one entry of the feature-flag manifest, emitted for every
// catalog entry whether or not the user is entitled to it. Clients gate
// UI on it independently of the encrypted payload.
type Flag struct {
	Enabled    bool   `json:"enabled"`
	MinVersion string `json:"min_version"`
}

// Manifest maps every catalog feature key to its flag.
type Manifest map[string]Flag

// FilterCatalog returns the subset of the catalog the user is entitled
// to, plus the full manifest. Absent or non-true entitlements are
// "denied", never an error.
func FilterCatalog(user *storage.User, catalog storage.Catalog) (storage.Catalog, Manifest) {
	granted := make(storage.Catalog)
	manifest := make(Manifest, len(catalog))

	for key, feature := range catalog {
		enabled := user.Entitled(key)
		if enabled {
			granted[key] = feature
		}
		manifest[key] = Flag{
			Enabled:    enabled,
			MinVersion: minVersion(feature),
		}
	}
	return granted, manifest
}

// FilterOne resolves a single requested feature key. Entitlement is
// checked before catalog presence so a user cannot probe which feature
// keys exist.
func FilterOne(user *storage.User, featureKey string, catalog storage.Catalog) (*storage.Feature, error) {
	if !user.Entitled(featureKey) {
		return nil, ErrForbidden
	}

	feature, ok := catalog[featureKey]
	if !ok {
		return nil, ErrNotFound
	}
	return &feature, nil
}

func minVersion(f storage.Feature) string {
	if f.MinVersion != "" {
		return f.MinVersion
	}
	return DefaultMinVersion
}
