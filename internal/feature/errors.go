package feature

import "errors"

// Registry errors.
//
// Build-time errors are returned by Builder.Register; ErrFeatureNotFound is
// returned by lookups.
var (
	// ErrFeatureNotFound is returned when a feature id is not registered.
	ErrFeatureNotFound = errors.New("feature: not found")

	// ErrDuplicateFeature is returned when registering an id twice.
	ErrDuplicateFeature = errors.New("feature: duplicate id")

	// ErrInvalidFeature is returned when required fields are missing.
	ErrInvalidFeature = errors.New("feature: invalid")

	// ErrRegistryBuilt is returned when registering after Build.
	ErrRegistryBuilt = errors.New("feature: registry already built")
)
