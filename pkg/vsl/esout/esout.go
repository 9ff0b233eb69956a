// Package esout implements a managed, disposable wrapper over a
// host-owned elementary-stream sink (spec.md §4.4).
//
// The wrapper can be created and torn down across segment transitions
// without ever destroying the real downstream pipeline it feeds --
// the same "weak reference" shape as the teacher's hls.Muxer holding a
// long-lived playlist across segmenter restarts (pkg/video/hls/muxer.go).
package esout

import "context"

// Sink is the host-owned elementary-stream output every inner demuxer
// writes frames to. Implementations are long-lived and outlive any
// single Managed wrapper built over them.
type Sink interface {
	// WriteFrame delivers one demuxed frame to the backend.
	WriteFrame(ctx context.Context, frame Frame) error

	// IsEmpty reports whether the backend's internal buffers have
	// drained (used by the scheduler's post-transition drain).
	IsEmpty() bool

	// GetEmpty forces a one-time buffering-bookkeeping refresh and
	// reports the same thing IsEmpty would -- called once after the
	// stop-buffering latch is consumed (spec.md §4.2 step 5).
	GetEmpty() bool

	// ResetPCR resets the backend's program clock reference tracking
	// after a segment transition.
	ResetPCR()

	// Control forwards an out-of-band query to the backend (volume,
	// track selection, and so on -- anything not already modeled by
	// the scheduler's own Query enum).
	Control(query int, args ...interface{}) error
}

// Frame is the minimal elementary-stream unit passed from an inner
// demuxer to a Sink.
type Frame struct {
	StreamID  int
	PTS       int64
	DTS       int64
	KeyFrame  bool
	Payload   []byte
}

// Managed is a pass-through wrapper over a backend Sink. It holds a
// non-owning reference: Close releases only the wrapper's own
// bookkeeping, never the backend (spec.md §4.4).
type Managed struct {
	backend Sink
	closed  bool
}

// New wraps backend. backend must outlive the Managed instance.
func New(backend Sink) *Managed {
	return &Managed{backend: backend}
}

// WriteFrame delegates to the backend.
func (m *Managed) WriteFrame(ctx context.Context, frame Frame) error {
	return m.backend.WriteFrame(ctx, frame)
}

// IsEmpty delegates to the backend.
func (m *Managed) IsEmpty() bool {
	return m.backend.IsEmpty()
}

// GetEmpty delegates to the backend.
func (m *Managed) GetEmpty() bool {
	return m.backend.GetEmpty()
}

// ResetPCR delegates to the backend.
func (m *Managed) ResetPCR() {
	m.backend.ResetPCR()
}

// Control delegates to the backend.
func (m *Managed) Control(query int, args ...interface{}) error {
	return m.backend.Control(query, args...)
}

// Close releases the wrapper's own bookkeeping. It does NOT close or
// otherwise dispose of the backend -- the backend is shared across
// however many Managed wrappers the scheduler constructs and destroys
// as segments are torn down and replaced (spec.md §4.4: "enables the
// Scheduler to destroy a nested demuxer ... without collapsing the
// real downstream pipeline").
func (m *Managed) Close() error {
	m.closed = true
	return nil
}

// Closed reports whether Close was called -- diagnostic only.
func (m *Managed) Closed() bool { return m.closed }
