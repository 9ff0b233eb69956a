// Package vslevents defines the events the scheduler emits to its
// host (spec.md §6.5).
package vslevents

// CacheTotal reports the global (whole-playback) cache fraction in
// [0, 1], computed by the scheduler's pump loop cache-report step
// (spec.md §4.2 step 3).
type CacheTotal struct {
	Fraction float64
}

// SegmentTransition reports that the scheduler advanced to a new
// segment order. Ambient addition beyond spec.md; no package in this
// module uses it -- the scheduler reports transitions through
// telemetry.Bridge.PublishSegmentTransition, which has its own JSON
// event shape.
type SegmentTransition struct {
	Order int
}
