package cmd

import (
	"context"
	"sync"

	"github.com/bilibili/vsl/pkg/vsl/esout"
)

// debugSink is a minimal esout.Sink that counts frames and reports
// itself as perpetually drained, so the scheduler's post-transition
// drain never blocks waiting on a real downstream pipeline.
type debugSink struct {
	mu          sync.Mutex
	frameCount  int
	lastPayload int
	resets      int
}

func newDebugSink() *debugSink {
	return &debugSink{}
}

func (s *debugSink) WriteFrame(_ context.Context, frame esout.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameCount++
	s.lastPayload = len(frame.Payload)
	return nil
}

func (s *debugSink) IsEmpty() bool  { return true }
func (s *debugSink) GetEmpty() bool { return true }

func (s *debugSink) ResetPCR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *debugSink) Control(int, ...interface{}) error { return nil }

func (s *debugSink) snapshot() (frames, resets, lastPayload int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameCount, s.resets, s.lastPayload
}
