// Package vslerr defines the error kinds used across the vsl packages.
package vslerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w", ErrX) at the
// call site so errors.Is still matches across package boundaries.
var (
	// ErrManifest is returned when the manifest fails to load after
	// retries, has zero segments, or a segment has an empty MRL.
	ErrManifest = errors.New("manifest error")

	// ErrNetwork is returned when opening, peeking, or reading from
	// a URL fails.
	ErrNetwork = errors.New("network error")

	// ErrTruncatedStream is returned when a declared size is below the
	// required floor and retry is enabled.
	ErrTruncatedStream = errors.New("truncated stream")

	// ErrSizeUnknown is returned when the declared size is <= 0 and the
	// fallback byte count is also unavailable.
	ErrSizeUnknown = errors.New("size unknown")

	// ErrSeekOutOfRange is returned for a seek beyond total size or
	// before zero.
	ErrSeekOutOfRange = errors.New("seek out of range")

	// ErrSeekedHeaderInvalid is returned when the post-seek stream
	// fails the signature check or is smaller than expected.
	ErrSeekedHeaderInvalid = errors.New("seeked header invalid")

	// ErrUnsupported is returned for control queries that are not
	// implemented.
	ErrUnsupported = errors.New("unsupported")
)

// ConfigError reports missing scheme, location, or callback bindings.
// Always fatal at open.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError.
func NewConfigError(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}
