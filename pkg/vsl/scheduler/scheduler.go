// Package scheduler implements the Index layer: the ordered segment
// descriptor list, the demux pump loop, and the global/segment-local
// time translation (spec.md §4.2).
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/bilibili/vsl/pkg/log"
	"github.com/bilibili/vsl/pkg/vsl/config"
	"github.com/bilibili/vsl/pkg/vsl/demux"
	"github.com/bilibili/vsl/pkg/vsl/esout"
	"github.com/bilibili/vsl/pkg/vsl/manifest"
	"github.com/bilibili/vsl/pkg/vsl/manifestcache"
	"github.com/bilibili/vsl/pkg/vsl/segment"
	"github.com/bilibili/vsl/pkg/vsl/telemetry"
	"github.com/bilibili/vsl/pkg/vsl/urlopen"
	"github.com/bilibili/vsl/pkg/vsl/vslerr"
	"github.com/bilibili/vsl/pkg/vsl/vslevents"
)

// openAttempts is the number of times Open retries a failed manifest
// load (spec.md §4.2).
const openAttempts = 3

// drainStepMS is the post-transition drain's polling granularity
// (spec.md §4.2 step 5).
const drainStepMS = 50

// Descriptor is one ordered segment's static metadata.
type Descriptor struct {
	Order       int    `json:"order"`
	MRL         string `json:"mrl"`
	StartTimeUS int64  `json:"start_time_us"`
	DurationUS  int64  `json:"duration_us"`
}

// Query enumerates the control codes spec.md §6.6 lists.
type Query int

const (
	QueryGetDuration Query = iota
	QueryGetTime
	QuerySetTime
	QueryGetPosition
	QuerySetPosition
	QuerySetPause
	QueryCanSeek
	QueryCanPause
	QueryCanControlPace
	QueryCanControlRate
	QueryGetPTSDelay
	QueryGetContentType
	QuerySetTitle
	QuerySetSeekpoint
)

// segmentRuntime holds the resources owned by exactly one open
// segment. originStream and bufferFilter are kept only for
// diagnostic inspection (spec.md §9's "weak reference" note) -- no
// code outside String() reads them.
type segmentRuntime struct {
	order        int
	access       *segment.Access
	originStream io.Reader
	bufferFilter *peekBuffer
	managed      *esout.Managed
	demuxer      demux.Demuxer
}

func (r *segmentRuntime) String() string {
	if r == nil {
		return "segmentRuntime(nil)"
	}
	return fmt.Sprintf("segmentRuntime{order=%d, originStream=%p, bufferFilter=%p}",
		r.order, r.originStream, r.bufferFilter)
}

// Scheduler is the Index layer over one manifest's segments. Multiple
// Scheduler instances are fully independent (spec.md §5): no
// package-level mutable state exists anywhere in this package.
type Scheduler struct {
	mu sync.Mutex

	manifest      *manifest.Adapter
	opener        urlopen.Opener
	cfg           *config.Config
	sink          esout.Sink
	segScheme     string
	logger        *log.Logger
	telemetry     *telemetry.Registry
	bridge        *telemetry.Bridge
	cacheEvents   chan<- vslevents.CacheTotal
	snapshotCache *manifestcache.Cache
	snapshotKey   []byte

	descriptors     []Descriptor
	totalDurationUS int64

	current *segmentRuntime

	lastReportedCachePercent int
	stopBuffering            bool
	segmentChanged           bool
	paused                   bool
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithLogger attaches a logger (teacher's pkg/log).
func WithLogger(l *log.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithTelemetry attaches a metrics registry.
func WithTelemetry(r *telemetry.Registry) Option { return func(s *Scheduler) { s.telemetry = r } }

// WithBridge attaches an optional dashboard bridge.
func WithBridge(b *telemetry.Bridge) Option { return func(s *Scheduler) { s.bridge = b } }

// WithCacheEvents attaches the host's CacheTotal event channel
// (spec.md §6.5). Sends are non-blocking: a full or nil channel never
// stalls the pump loop.
func WithCacheEvents(ch chan<- vslevents.CacheTotal) Option {
	return func(s *Scheduler) { s.cacheEvents = ch }
}

// WithManifestCache attaches a degraded-mode snapshot cache, keyed by
// location (SPEC_FULL.md §4.7). It never changes the documented
// three-attempt retry contract: Open still exhausts openAttempts
// against the real Backend first, and only falls back to a cached
// snapshot if every attempt fails and a snapshot exists. A successful
// real load always refreshes the cached snapshot.
func WithManifestCache(c *manifestcache.Cache) Option {
	return func(s *Scheduler) { s.snapshotCache = c }
}

// Open validates indexScheme/location, loads the manifest (up to
// three attempts), builds the ordered descriptor vector, and opens
// segment 0 (spec.md §4.2).
func Open(
	ctx context.Context,
	indexScheme string,
	location string,
	backend manifest.Backend,
	opener urlopen.Opener,
	cfg *config.Config,
	sink esout.Sink,
	opts ...Option,
) (*Scheduler, error) {
	if indexScheme == "" {
		return nil, vslerr.NewConfigError("scheme", "empty")
	}
	if location == "" {
		return nil, vslerr.NewConfigError("location", "empty")
	}

	segScheme, err := segmentSchemeFor(indexScheme)
	if err != nil {
		return nil, err
	}

	m, err := manifest.New(backend)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		manifest:  m,
		opener:    opener,
		cfg:       cfg,
		sink:      sink,
		segScheme: segScheme,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.snapshotCache != nil {
		s.snapshotKey = manifestcache.KeyFor(location)
	}

	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		if lastErr = m.Load(ctx, false); lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		descriptors, ok := s.loadDegradedSnapshot()
		if !ok {
			return nil, fmt.Errorf("scheduler: open: %w", lastErr)
		}
		s.logInfo("open", "manifest load failed after %d attempts, serving cached snapshot: %v", openAttempts, lastErr)
		return s.openFromDescriptors(ctx, descriptors)
	}

	count, err := m.Count(ctx)
	if err != nil || count <= 0 {
		return nil, fmt.Errorf("scheduler: open: no segments: %w", vslerr.ErrManifest)
	}

	descriptors := make([]Descriptor, 0, count)
	var startUS int64
	anyMRL := false
	for i := 0; i < count; i++ {
		mrl, err := m.MRL(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("scheduler: open: mrl for segment %d: %w", i, vslerr.ErrManifest)
		}
		if mrl != "" {
			anyMRL = true
		}
		durationMS, err := m.DurationMS(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("scheduler: open: duration for segment %d: %w", i, vslerr.ErrManifest)
		}
		durationUS := durationMS * 1000

		descriptors = append(descriptors, Descriptor{
			Order:       i,
			MRL:         mrl,
			StartTimeUS: startUS,
			DurationUS:  durationUS,
		})
		startUS += durationUS
	}
	if !anyMRL {
		return nil, fmt.Errorf("scheduler: open: every segment has an empty MRL: %w", vslerr.ErrManifest)
	}

	s.saveDegradedSnapshot(descriptors)

	return s.openFromDescriptors(ctx, descriptors)
}

// openFromDescriptors finishes Open once a descriptor vector has been
// obtained, whether from a live Backend load or a degraded-mode
// snapshot.
func (s *Scheduler) openFromDescriptors(ctx context.Context, descriptors []Descriptor) (*Scheduler, error) {
	s.descriptors = descriptors
	var total int64
	for _, d := range descriptors {
		total = d.StartTimeUS + d.DurationUS
	}
	s.totalDurationUS = total

	if err := s.ensureOpen(ctx, 0); err != nil {
		return nil, err
	}

	s.logInfo("open", "opened %d segments, total duration %d us", len(descriptors), s.totalDurationUS)
	return s, nil
}

// loadDegradedSnapshot consults the optional snapshot cache. Absent a
// cache, a missing key, or a decode failure, ok is false and the
// caller reports the original load error instead.
func (s *Scheduler) loadDegradedSnapshot() ([]Descriptor, bool) {
	if s.snapshotCache == nil {
		return nil, false
	}
	raw, found, err := s.snapshotCache.Get(s.snapshotKey)
	if err != nil || !found {
		return nil, false
	}
	var descriptors []Descriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		return nil, false
	}
	return descriptors, true
}

// saveDegradedSnapshot refreshes the cached snapshot after a
// successful live load. Failures are logged, never fatal.
func (s *Scheduler) saveDegradedSnapshot(descriptors []Descriptor) {
	if s.snapshotCache == nil {
		return
	}
	raw, err := json.Marshal(descriptors)
	if err != nil {
		s.logError("open", fmt.Errorf("encode snapshot: %w", err))
		return
	}
	if err := s.snapshotCache.Put(s.snapshotKey, raw); err != nil {
		s.logError("open", fmt.Errorf("save snapshot: %w", err))
	}
}

func (s *Scheduler) logInfo(src, format string, args ...interface{}) {
	if s.logger == nil {
		return
	}
	s.logger.Info().Src(src).Msgf(format, args...)
}

func (s *Scheduler) logError(src string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Error().Src(src).Msgf("%v", err)
}

// segmentSchemeFor maps an index scheme to its paired segment scheme
// (spec.md §6.2).
func segmentSchemeFor(indexScheme string) (string, error) {
	switch indexScheme {
	case "vslindex":
		return segment.SchemeVSL, nil
	case "sinaindex":
		return segment.SchemeSina, nil
	case "youkuindex":
		return segment.SchemeYouku, nil
	case "cntvindex":
		return segment.SchemeCNTV, nil
	case "sohuindex":
		return segment.SchemeSohu, nil
	case "letvindex":
		return segment.SchemeLetv, nil
	case "iqiyiindex":
		return segment.SchemeIqiyi, nil
	default:
		return "", fmt.Errorf("scheduler: unknown index scheme %q: %w", indexScheme, vslerr.ErrUnsupported)
	}
}

// Close destroys the current runtime state then the descriptor
// vector. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.demuxer.Close()
		s.current.access.Close()
		s.current = nil
	}
	s.descriptors = nil
	return nil
}
