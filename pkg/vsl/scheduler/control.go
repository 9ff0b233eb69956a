package scheduler

import (
	"context"
	"fmt"

	"github.com/bilibili/vsl/pkg/vsl/vslerr"
)

// GetDuration returns the total playback duration in microseconds.
func (s *Scheduler) GetDuration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalDurationUS
}

// GetTime returns the global playback time in microseconds, translating
// the current inner demuxer's segment-local time into the global
// timeline (spec.md §4.2).
func (s *Scheduler) GetTime() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0, fmt.Errorf("scheduler: get_time: no current segment: %w", vslerr.ErrUnsupported)
	}
	desc := s.descriptors[s.current.order]
	return s.current.demuxer.GetTime() + desc.StartTimeUS, nil
}

// SetTime seeks to a global playback time in microseconds, locating
// the containing segment with a linear scan (spec.md §4.2).
func (s *Scheduler) SetTime(ctx context.Context, globalUS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if globalUS < 0 {
		globalUS = 0
	}

	target := locateSegment(s.descriptors, globalUS)

	if err := s.ensureOpenLocked(ctx, target); err != nil {
		return fmt.Errorf("scheduler: set_time: %w", err)
	}

	desc := s.descriptors[target]
	localUS := globalUS - desc.StartTimeUS
	if localUS < 0 {
		localUS = 0
	}

	if err := s.current.demuxer.SetTime(localUS); err != nil {
		return fmt.Errorf("scheduler: set_time: %w", err)
	}

	// Preserved per spec.md §9 open question 4: the freshly-seeked inner
	// demuxer's time is queried a second time purely for diagnostics.
	// The result is logged, never used to adjust localUS or retried
	// against.
	diagnosticTime := s.current.demuxer.GetTime()
	s.logInfo("set_time", "post-seek inner time check: requested=%d got=%d", localUS, diagnosticTime)

	return nil
}

// locateSegment finds the segment containing globalUS via a linear
// scan over monotonically increasing start times (spec.md §4.2: "O(n)
// is acceptable for typical <100 segments"). Overflow past the last
// segment's end clamps to the last segment.
func locateSegment(descriptors []Descriptor, globalUS int64) int {
	for i, desc := range descriptors {
		if globalUS < desc.StartTimeUS+desc.DurationUS {
			return i
		}
	}
	return len(descriptors) - 1
}

// GetPosition returns playback position as a fraction in [0, 1].
func (s *Scheduler) GetPosition() (float64, error) {
	t, err := s.GetTime()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	total := s.totalDurationUS
	s.mu.Unlock()
	if total <= 0 {
		return 0, nil
	}
	return float64(t) / float64(total), nil
}

// SetPosition seeks to a fractional position in [0, 1].
func (s *Scheduler) SetPosition(ctx context.Context, fraction float64) error {
	s.mu.Lock()
	total := s.totalDurationUS
	s.mu.Unlock()
	return s.SetTime(ctx, int64(fraction*float64(total)))
}

// SetPause forwards pause state to the inner demuxer.
func (s *Scheduler) SetPause(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	if s.current == nil {
		return nil
	}
	return s.current.demuxer.Control(int(QuerySetPause), paused)
}

// GetPTSDelay reports 1000 x network-caching microseconds (spec.md
// §4.3 control surface).
func (s *Scheduler) GetPTSDelay() int64 {
	return int64(s.cfg.NetworkCachingMS) * 1000
}

// Control dispatches a scheduler query (spec.md §6.6). Any query this
// table doesn't model is forwarded verbatim to the current inner
// demuxer.
func (s *Scheduler) Control(ctx context.Context, query Query, args ...interface{}) error {
	switch query {
	case QueryGetDuration:
		return nil
	case QueryCanSeek, QueryCanPause:
		return writeBoolOut(args, true)
	case QueryCanControlPace:
		return writeBoolOut(args, true)
	case QueryCanControlRate:
		return writeBoolOut(args, false)
	case QueryGetContentType:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.current == nil {
			return vslerr.ErrUnsupported
		}
		if len(args) != 1 {
			return vslerr.ErrUnsupported
		}
		out, ok := args[0].(*string)
		if !ok {
			return vslerr.ErrUnsupported
		}
		*out = s.current.access.ContentType()
		return nil
	case QuerySetTitle, QuerySetSeekpoint:
		return vslerr.ErrUnsupported
	case QuerySetPause:
		if len(args) != 1 {
			return vslerr.ErrUnsupported
		}
		paused, ok := args[0].(bool)
		if !ok {
			return vslerr.ErrUnsupported
		}
		return s.SetPause(paused)
	default:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.current == nil {
			return vslerr.ErrUnsupported
		}
		return s.current.demuxer.Control(int(query), args...)
	}
}

// writeBoolOut writes value through the single *bool out-argument a
// can-X query reports through, the same pointer-out-arg convention
// QueryGetContentType uses for its string result.
func writeBoolOut(args []interface{}, value bool) error {
	if len(args) != 1 {
		return vslerr.ErrUnsupported
	}
	out, ok := args[0].(*bool)
	if !ok {
		return vslerr.ErrUnsupported
	}
	*out = value
	return nil
}
