// Package segment implements the seek-capable, retry-capable byte
// stream for one segment (spec.md §4.3): the three site-specific seek
// strategies, the post-seek FLV header skip, and the broken-stream
// retry policy.
package segment

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/bilibili/vsl/pkg/vsl/manifest"
	"github.com/bilibili/vsl/pkg/vsl/urlopen"
	"github.com/bilibili/vsl/pkg/vsl/vslerr"
)

// Access scheme strings (spec.md §6.2).
const (
	SchemeVSL   = "vslsegment"
	SchemeSina  = "sinasegment"
	SchemeYouku = "youkusegment"
	SchemeCNTV  = "cntvsegment"
	SchemeSohu  = "sohusegment"
	SchemeLetv  = "letvsegment"
	SchemeIqiyi = "iqiyisegment"
)

// minBytesPerSecond is the floor applied to the computed bitrate
// estimate (spec.md §4.3: "at least 25KBps ~= 200kbps").
const minBytesPerSecond = 25_000

// openAttempts is the number of times Open retries a failed stream
// open (spec.md §4.3).
const openAttempts = 3

// truncatedSizeFloor and truncatedDurationFloorMS gate the
// "possible 6-min cursor" broken-stream heuristic (spec.md §4.3).
const (
	truncatedSizeFloor        = 64_000
	truncatedDurationFloorMS  = 10_000
)

// shortSeekThreshold is the byte distance below which Seek prefers to
// read-and-discard instead of reopening the stream (spec.md §4.3).
const shortSeekThreshold = 128 * 1024

// Access is a seek-capable byte stream over one segment.
type Access struct {
	order      int
	durationMS int64
	bytesPerSec int64

	seekable              bool
	continuous            bool
	retryForBrokenStream  bool
	requireContentLength  bool
	reloadIndexWhenRetry  bool

	url string

	totalSize int64
	cursor    int64
	eof       bool

	activeStream urlopen.Stream

	strategy seekStrategy

	opener   urlopen.Opener
	manifest *manifest.Adapter
}

// reloadIndexWhenRetry is never set by any of the schemes below, same
// as the original C source (the field exists in access_sys_t but no
// Open() branch ever assigns it true) -- preserved as dead-but-present
// configuration rather than removed.

// Order returns the segment order this Access was opened for.
func (a *Access) Order() int { return a.order }

// TotalSize returns the known segment byte length, or 0 if unknown.
func (a *Access) TotalSize() int64 { return a.totalSize }

// Cursor returns the current logical read offset.
func (a *Access) Cursor() int64 { return a.cursor }

// EOF reports whether the last Read or Seek reached the end.
func (a *Access) EOF() bool { return a.eof }

// BytesPerSecond returns the computed (floored) bitrate estimate.
func (a *Access) BytesPerSecond() int64 { return a.bytesPerSec }

// CanSeek reports whether this scheme supports seeking at all
// (spec.md §4.3 control surface: cntv is not seekable).
func (a *Access) CanSeek() bool { return a.seekable }

// CanFastSeek is always false (spec.md §4.3).
func (a *Access) CanFastSeek() bool { return false }

// CanPause is always true (spec.md §4.3).
func (a *Access) CanPause() bool { return true }

// CanControlPace is always true (spec.md §4.3).
func (a *Access) CanControlPace() bool { return true }

// HTTPContinuous reports whether this Access disables HTTP Range
// requests downstream (spec.md §4.3, §6.3).
func (a *Access) HTTPContinuous() bool { return a.continuous }

// schemeConfig captures the per-scheme behavior flags spec.md §4.3
// tabulates.
type schemeConfig struct {
	seekable             bool
	continuous           bool
	retryForBrokenStream bool
	requireContentLength bool
	newStrategy          func() seekStrategy
}

func schemeConfigFor(scheme string) (schemeConfig, error) {
	switch scheme {
	case SchemeSina:
		return schemeConfig{
			seekable:             true,
			continuous:           true,
			retryForBrokenStream: true,
			requireContentLength: true,
			newStrategy:          func() seekStrategy { return sinaSeek{} },
		}, nil
	case SchemeYouku:
		return schemeConfig{
			seekable:    true,
			continuous:  true,
			newStrategy: func() seekStrategy { return youkuSeek{} },
		}, nil
	case SchemeCNTV:
		return schemeConfig{
			seekable:    false,
			continuous:  true,
			newStrategy: func() seekStrategy { return youkuSeek{} },
		}, nil
	case SchemeSohu, SchemeLetv, SchemeIqiyi:
		return schemeConfig{
			seekable:    true,
			continuous:  false,
			newStrategy: func() seekStrategy { return plainRangeSeek{} },
		}, nil
	case SchemeVSL:
		return schemeConfig{
			seekable:    true,
			continuous:  false,
			newStrategy: func() seekStrategy { return plainRangeSeek{} },
		}, nil
	default:
		return schemeConfig{}, fmt.Errorf("segment: unknown scheme %q: %w", scheme, vslerr.ErrUnsupported)
	}
}

// Open opens segment `location` (a non-negative decimal order) under
// `scheme` (spec.md §4.3).
func Open(
	ctx context.Context,
	scheme string,
	location string,
	m *manifest.Adapter,
	opener urlopen.Opener,
) (*Access, error) {
	if location == "" {
		return nil, vslerr.NewConfigError("location", "empty")
	}
	order, err := strconv.Atoi(location)
	if err != nil || order < 0 {
		return nil, vslerr.NewConfigError("location", fmt.Sprintf("invalid order %q", location))
	}

	cfg, err := schemeConfigFor(scheme)
	if err != nil {
		return nil, err
	}

	a := &Access{
		order:                order,
		seekable:             cfg.seekable,
		continuous:           cfg.continuous,
		retryForBrokenStream: cfg.retryForBrokenStream,
		requireContentLength: cfg.requireContentLength,
		strategy:             cfg.newStrategy(),
		opener:               opener,
		manifest:             m,
	}

	if err := a.open(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Access) open(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt < openAttempts; attempt++ {
		if attempt > 0 && a.reloadIndexWhenRetry {
			if err := a.manifest.Load(ctx, true); err != nil {
				return fmt.Errorf("segment: reload manifest on retry: %w", err)
			}
		}

		if err := a.manifest.LoadSegment(ctx, attempt == 0, a.order); err != nil {
			lastErr = err
			continue
		}

		url, err := a.manifest.URL(ctx, a.order)
		if err != nil || url == "" {
			return fmt.Errorf("segment: empty url for segment %d: %w", a.order, vslerr.ErrManifest)
		}
		a.url = url

		durationMS, err := a.manifest.DurationMS(ctx, a.order)
		if err != nil {
			return fmt.Errorf("segment: duration for segment %d: %w", a.order, vslerr.ErrManifest)
		}
		a.durationMS = durationMS

		stream, err := a.opener.Open(ctx, a.url, urlopen.OpenOptions{ForbidRange: a.continuous})
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", vslerr.ErrNetwork, err)
			continue
		}

		size := stream.Size()
		if size <= 0 {
			if a.requireContentLength {
				stream.Close()
				lastErr = fmt.Errorf("segment: stream size <= 0, content length required: %w", vslerr.ErrTruncatedStream)
				continue
			}

			fallback, ferr := a.manifest.Bytes(ctx, a.order)
			if ferr != nil || fallback <= 0 {
				stream.Close()
				return fmt.Errorf("segment: unknown size for segment %d: %w", a.order, vslerr.ErrSizeUnknown)
			}
			size = fallback
		} else if a.retryForBrokenStream {
			if size < truncatedSizeFloor && a.durationMS > truncatedDurationFloorMS {
				stream.Close()
				lastErr = fmt.Errorf("segment: possible truncated stream, size=%d duration_ms=%d: %w",
					size, a.durationMS, vslerr.ErrTruncatedStream)
				continue
			}
		}

		a.totalSize = size
		a.activeStream = stream
		a.computeBytesPerSecond()
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("segment: open failed after %d attempts: %w", openAttempts, vslerr.ErrNetwork)
	}
	return lastErr
}

func (a *Access) computeBytesPerSecond() {
	bps := int64(0)
	if a.durationMS > 0 {
		seconds := a.durationMS / 1000
		if seconds > 0 {
			bps = a.totalSize / seconds
		}
	}
	if bps < minBytesPerSecond {
		bps = minBytesPerSecond
	}
	a.bytesPerSec = bps
}

// Close releases the active stream.
func (a *Access) Close() error {
	if a.activeStream != nil {
		err := a.activeStream.Close()
		a.activeStream = nil
		return err
	}
	return nil
}

// Read reads up to len(p) bytes, capped at the remaining declared
// size when known (spec.md §4.3, property 3).
func (a *Access) Read(p []byte) (int, error) {
	if a.totalSize != 0 {
		remaining := a.totalSize - a.cursor
		if remaining < 0 {
			remaining = 0
		}
		if int64(len(p)) > remaining {
			p = p[:remaining]
		}
	}

	if len(p) == 0 {
		a.eof = true
		return 0, io.EOF
	}

	n, err := a.activeStream.Read(p)
	if n <= 0 {
		a.eof = true
		if err == nil {
			err = io.EOF
		}
		return n, err
	}

	a.cursor += int64(n)
	return n, nil
}

// ContentType passes through the active stream's declared MIME type,
// if the underlying Stream implementation exposes one (spec.md §4.3
// control surface: "get_content_type passthrough").
func (a *Access) ContentType() string {
	if a.activeStream == nil {
		return ""
	}
	if ct, ok := a.activeStream.(urlopen.ContentTyper); ok {
		return ct.ContentType()
	}
	return ""
}

// CachedBytes reports how many bytes are buffered ahead of the read
// cursor on the active stream, used by the scheduler's cache-percent
// telemetry step (spec.md §4.2).
func (a *Access) CachedBytes() int64 {
	if a.activeStream == nil {
		return 0
	}
	return a.activeStream.CachedBytes()
}
