package scheduler

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/bilibili/vsl/pkg/vsl/demux"
	"github.com/bilibili/vsl/pkg/vsl/esout"
	"github.com/bilibili/vsl/pkg/vsl/segment"
	"github.com/bilibili/vsl/pkg/vsl/vslerr"
	"github.com/bilibili/vsl/pkg/vsl/vslevents"
)

// peekBytes is the probe depth ensureOpen uses to confirm the origin
// is actually alive before handing the buffered reader to format
// auto-detection (spec.md §4.2).
const peekBytes = 1024

// Pump runs one iteration of the demux loop (spec.md §4.2). A (0,
// io.EOF) return means the whole playback stream is exhausted, or ctx
// was already cancelled when Pump was called; any other error is a
// hard failure; (0, nil) means no frame was produced this iteration
// (the scheduler advanced to the next segment, or the inner demuxer
// consumed a packet that carries no frame) -- callers should call Pump
// again.
func (s *Scheduler) Pump(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return 0, io.EOF
	}

	if s.telemetry != nil {
		s.telemetry.PumpIterations.Inc()
	}

	if s.current == nil {
		return 0, io.EOF
	}

	n, err := s.current.demuxer.Pump(ctx)

	if err != nil && err != io.EOF {
		s.reportCacheLocked(ctx)
		return n, fmt.Errorf("scheduler: pump: %w", err)
	}

	if err == nil {
		if s.stopBuffering {
			s.sink.GetEmpty()
			s.stopBuffering = false
		}
		s.reportCacheLocked(ctx)
		return n, nil
	}

	// err == io.EOF: segment exhausted.
	order := s.current.order
	if order >= len(s.descriptors)-1 {
		return 0, io.EOF
	}

	if err := s.ensureOpenLocked(ctx, order+1); err != nil {
		return 0, fmt.Errorf("scheduler: pump: advance to %d: %w", order+1, err)
	}

	if s.segmentChanged {
		s.drainLocked(ctx)
		s.segmentChanged = false
	}

	return 0, nil
}

// drainLocked polls the sink in 50 ms steps up to the configured
// network-caching budget, then unconditionally resets the PCR and
// arms the stop-buffering latch (spec.md §4.2 step 5).
func (s *Scheduler) drainLocked(ctx context.Context) {
	budget := time.Duration(s.cfg.NetworkCachingMS) * time.Millisecond
	elapsed := time.Duration(0)

	for elapsed < budget {
		if s.sink.IsEmpty() {
			break
		}
		select {
		case <-ctx.Done():
			break
		case <-time.After(drainStepMS * time.Millisecond):
		}
		elapsed += drainStepMS * time.Millisecond
	}

	s.sink.ResetPCR()
	s.stopBuffering = true
}

// reportCacheLocked implements the cache-report step (spec.md §4.2
// step 3): compute the global cache fraction and, if it changed from
// the last reported whole percent, emit a CacheTotal event.
func (s *Scheduler) reportCacheLocked(ctx context.Context) {
	cur := s.current
	if cur == nil {
		return
	}
	totalSize := cur.access.TotalSize()
	if totalSize <= 0 {
		return
	}
	cached := cur.access.CachedBytes()
	if cached < totalSize {
		return
	}

	desc := s.descriptors[cur.order]
	if desc.DurationUS <= 0 || s.totalDurationUS <= 0 {
		return
	}

	fraction := float64(desc.StartTimeUS) + float64(desc.DurationUS)*float64(cached)/float64(totalSize)
	fraction /= float64(s.totalDurationUS)

	percent := int(math.Round(fraction * 100))
	if percent == s.lastReportedCachePercent {
		return
	}
	s.lastReportedCachePercent = percent

	if s.telemetry != nil {
		s.telemetry.CachePercent.Set(float64(percent))
	}
	if s.bridge != nil {
		s.bridge.PublishCacheTotal(fraction)
	}
	if s.cacheEvents != nil {
		select {
		case s.cacheEvents <- vslevents.CacheTotal{Fraction: fraction}:
		default:
		}
	}
}

// ensureOpen opens targetOrder, tearing down any current runtime
// state first (spec.md §4.2 ensureOpen).
func (s *Scheduler) ensureOpen(ctx context.Context, targetOrder int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureOpenLocked(ctx, targetOrder)
}

func (s *Scheduler) ensureOpenLocked(ctx context.Context, targetOrder int) error {
	if s.current != nil && s.current.order == targetOrder {
		return nil
	}

	hadPrevious := s.current != nil
	if s.current != nil {
		s.current.demuxer.Close()
		s.current.access.Close()
		s.current = nil
	}

	// Preserved literally per spec.md §9 open question 2: the bound
	// check is "> count", not ">= count". A target exactly equal to
	// len(descriptors) passes here and would only fail later, at the
	// descriptor index below -- every real caller (Pump's own
	// last-segment check, SetTime's clamp-to-last) already keeps
	// targetOrder inside range, so this never actually triggers.
	if targetOrder < 0 || targetOrder > len(s.descriptors) {
		return fmt.Errorf("scheduler: ensure_open: order %d out of range (count=%d): %w",
			targetOrder, len(s.descriptors), vslerr.ErrSeekOutOfRange)
	}

	desc := s.descriptors[targetOrder]

	access, err := segment.Open(ctx, s.segScheme, fmt.Sprintf("%d", desc.Order), s.manifest, s.opener)
	if err != nil {
		s.logError("ensure_open", err)
		return fmt.Errorf("scheduler: ensure_open: %w", err)
	}

	buffered := newPeekBuffer(access)
	if _, err := buffered.Peek(peekBytes); err != nil && err != io.EOF {
		access.Close()
		return fmt.Errorf("scheduler: ensure_open: origin dead: %w", vslerr.ErrNetwork)
	}

	managed := esout.New(s.sink)
	inner, err := demux.Open(ctx, buffered, managed)
	if err != nil {
		access.Close()
		return fmt.Errorf("scheduler: ensure_open: %w", err)
	}

	s.current = &segmentRuntime{
		order:        targetOrder,
		access:       access,
		originStream: access,
		bufferFilter: buffered,
		managed:      managed,
		demuxer:      inner,
	}
	s.segmentChanged = hadPrevious

	if s.bridge != nil {
		s.bridge.PublishSegmentTransition(targetOrder)
	}
	if s.telemetry != nil {
		s.telemetry.SegmentTransitions.Inc()
	}

	return nil
}
