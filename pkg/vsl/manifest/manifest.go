// Package manifest adapts a host-supplied segment manifest backend into
// the narrow contract the scheduler and segment layers depend on.
//
// This replaces the VLC vsl_cb_t function-pointer struct with a plain
// Go interface bound once at construction (spec.md "Callback-vtable
// polymorphism").
package manifest

import (
	"context"
	"errors"
	"fmt"

	"github.com/bilibili/vsl/pkg/vsl/vslerr"
)

// Backend is the host-supplied manifest contract. LoadSegment is the
// only optional binding: a Backend that has nothing useful to do per
// segment should return ErrUnsupported from LoadSegment, which the
// Adapter treats as a no-op rather than a hard failure.
type Backend interface {
	// Load (re)resolves the whole manifest. forceReload requests a
	// fresh fetch even if a cached copy would do.
	Load(ctx context.Context, forceReload bool) error

	// LoadSegment optionally refreshes a single segment's metadata
	// before it is opened. The segment layer passes forceReload as true
	// only on the first of the (up to three) open attempts for that
	// segment.
	LoadSegment(ctx context.Context, forceReload bool, order int) error

	// Count returns the segment count. <= 0 is an error.
	Count(ctx context.Context) (int, error)

	// MRL returns the indirection-layer locator for segment order.
	MRL(ctx context.Context, order int) (string, error)

	// URL returns the origin URL for segment order.
	URL(ctx context.Context, order int) (string, error)

	// DurationMS returns the segment duration in milliseconds. 0 is
	// allowed; negative is invalid.
	DurationMS(ctx context.Context, order int) (int64, error)

	// Bytes returns the declared byte size for segment order, or <= 0
	// if unknown.
	Bytes(ctx context.Context, order int) (int64, error)
}

// Adapter is pure delegation over a bound Backend; it owns no state of
// its own beyond the Backend reference.
type Adapter struct {
	backend Backend
}

// New binds a Backend. All required methods are covered by the Backend
// interface so only a nil backend fails construction; Go's
// interface-satisfaction check at the call site (not reflection) is
// what previously played the role of "missing any required binding
// fails construction" in the C vtable — callers that do not want to
// implement LoadSegment should embed NopLoadSegment.
func New(backend Backend) (*Adapter, error) {
	if backend == nil {
		return nil, vslerr.NewConfigError("backend", "manifest backend is nil")
	}
	return &Adapter{backend: backend}, nil
}

// NopLoadSegment can be embedded by a Backend implementation that has
// no per-segment refresh step.
type NopLoadSegment struct{}

// LoadSegment is a no-op.
func (NopLoadSegment) LoadSegment(context.Context, bool, int) error { return nil }

// Load delegates to the backend.
func (a *Adapter) Load(ctx context.Context, forceReload bool) error {
	if err := a.backend.Load(ctx, forceReload); err != nil {
		return fmt.Errorf("manifest load: %w: %v", vslerr.ErrManifest, err)
	}
	return nil
}

// LoadSegment delegates to the backend. ErrUnsupported from the
// backend is treated as a no-op and reported as success.
func (a *Adapter) LoadSegment(ctx context.Context, forceReload bool, order int) error {
	if err := a.backend.LoadSegment(ctx, forceReload, order); err != nil && !errors.Is(err, vslerr.ErrUnsupported) {
		return err
	}
	return nil
}

// Count delegates to the backend.
func (a *Adapter) Count(ctx context.Context) (int, error) {
	n, err := a.backend.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("manifest count: %w: %v", vslerr.ErrManifest, err)
	}
	return n, nil
}

// MRL delegates to the backend.
func (a *Adapter) MRL(ctx context.Context, order int) (string, error) {
	return a.backend.MRL(ctx, order)
}

// URL delegates to the backend.
func (a *Adapter) URL(ctx context.Context, order int) (string, error) {
	return a.backend.URL(ctx, order)
}

// DurationMS delegates to the backend.
func (a *Adapter) DurationMS(ctx context.Context, order int) (int64, error) {
	return a.backend.DurationMS(ctx, order)
}

// Bytes delegates to the backend.
func (a *Adapter) Bytes(ctx context.Context, order int) (int64, error) {
	return a.backend.Bytes(ctx, order)
}
