package segment

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/bilibili/vsl/pkg/vsl/flv"
	"github.com/bilibili/vsl/pkg/vsl/urlopen"
	"github.com/bilibili/vsl/pkg/vsl/vslerr"
)

// withQueryParam appends key=value to url, using '&' if url already
// carries a query string and '?' otherwise.
func withQueryParam(url, key string, value int64) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", url, sep, key, value)
}

// plainRangeSeek opens the URL afresh with an HTTP Range request for
// the target offset (spec.md §4.3, "Plain-range").
type plainRangeSeek struct{}

func (plainRangeSeek) newSeekedStream(ctx context.Context, a *Access, pos int64) (urlopen.Stream, error) {
	stream, err := a.opener.Open(ctx, a.url, urlopen.OpenOptions{
		ForbidRange: a.continuous,
		Offset:      pos,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vslerr.ErrNetwork, err)
	}
	return stream, nil
}

// sinaSeek implements the Sina byte-seek strategy (spec.md §4.3): the
// origin is reopened at "url?start=<pos>" and hands back an extra FLV
// header plus one or more leading tags prepended to the genuine
// post-seek body. The skip past that prefix is pure length arithmetic
// (alignment = declared_size - expected_remaining) -- never a walk of
// the tag list (preserved per spec.md §9, open question 1: WalkTagsUnused
// in package flv is never called from here).
type sinaSeek struct{}

func (sinaSeek) newSeekedStream(ctx context.Context, a *Access, pos int64) (urlopen.Stream, error) {
	seekURL := withQueryParam(a.url, "start", pos)

	stream, err := a.opener.Open(ctx, seekURL, urlopen.OpenOptions{ForbidRange: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vslerr.ErrNetwork, err)
	}

	if err := skipSeekedFLVHeader(stream, a.totalSize, pos); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

// skipSeekedFLVHeader implements spec.md §4.3's Sina post-seek skip:
// validate the "FLV" signature, then discard exactly
// declaredSize - (totalSize - pos) bytes of header-plus-leading-tags.
func skipSeekedFLVHeader(stream urlopen.Stream, totalSize, pos int64) error {
	declaredSize := stream.Size()
	if declaredSize < flv.HeaderSize+4 {
		return fmt.Errorf("segment: seeked stream too small for FLV header: %w", vslerr.ErrSeekedHeaderInvalid)
	}

	peekLen := declaredSize
	if peekLen > 1024 {
		peekLen = 1024
	}
	header, err := stream.Peek(int(peekLen))
	if err != nil || !flv.IsValidSignature(header) {
		return fmt.Errorf("segment: seeked stream missing FLV signature: %w", vslerr.ErrSeekedHeaderInvalid)
	}

	expectedRemaining := totalSize - pos
	if declaredSize < expectedRemaining {
		return fmt.Errorf("segment: seeked stream smaller than expected remaining (%d < %d): %w",
			declaredSize, expectedRemaining, vslerr.ErrSeekedHeaderInvalid)
	}

	alignment := declaredSize - expectedRemaining
	if alignment > 0 {
		if _, err := readAndDiscard(stream, alignment); err != nil {
			return fmt.Errorf("segment: sina post-seek header skip: %w", vslerr.ErrNetwork)
		}
	}
	return nil
}

// youkuSeek implements the Youku/CNTV second-based seek strategy
// (spec.md §4.3): the origin only seeks to whole-second granularity
// and never returns more bytes than totalSize, so the byte target is
// converted to seconds with a 15-second safety rewind, and the
// resulting byte offset is compared against the target to converge
// via the documented overshoot/undershoot correction constants.
type youkuSeek struct{}

const (
	youkuSafetyRewindSec   = 15
	youkuOvershootBackoff  = 5
	youkuOvershootSlackHi  = 1_000_000
	youkuOvershootSlackLo  = 500_000
	youkuLoopFloorSec      = 5
)

func (youkuSeek) newSeekedStream(ctx context.Context, a *Access, pos int64) (urlopen.Stream, error) {
	bps := a.bytesPerSec
	if bps <= 0 {
		bps = minBytesPerSecond
	}

	targetSec := pos/bps - youkuSafetyRewindSec
	if targetSec < 0 {
		targetSec = 0
	}

	// lastBackwardTarget starts unset: until the first overshoot, the
	// monotone-termination guard below has nothing to bound against, so
	// an undershoot is accepted on first contact (spec.md §4.3 step 6).
	lastBackwardTarget := int64(math.MinInt64)
	overshotOnce := false

	for {
		atFloor := targetSec <= youkuLoopFloorSec

		stream, err := a.openAtSecond(ctx, targetSec)
		if err != nil {
			return nil, err
		}

		if atFloor {
			// Loop bound reached (spec.md §4.3 step 8): accept whatever
			// this attempt returns rather than looping forever.
			if err := skipSeekedUnknownHeader(stream, a.totalSize, pos); err != nil {
				stream.Close()
				return nil, err
			}
			return stream, nil
		}

		streamSize := stream.Size()
		if streamSize <= 0 {
			stream.Close()
			return nil, fmt.Errorf("segment: youku seek: unknown stream size: %w", vslerr.ErrSizeUnknown)
		}

		seekedBytes := a.totalSize - streamSize
		if seekedBytes < 0 {
			stream.Close()
			return nil, fmt.Errorf("segment: youku seek: origin returned more than total size: %w", vslerr.ErrSeekedHeaderInvalid)
		}

		switch {
		case seekedBytes > pos:
			// Overshoot: rewind further.
			diffSec := (seekedBytes - pos) / bps
			stream.Close()
			lastBackwardTarget = targetSec
			overshotOnce = true
			targetSec -= diffSec + youkuOvershootBackoff
			if targetSec < 0 {
				targetSec = 0
			}

		case !overshotOnce && seekedBytes+youkuOvershootSlackHi > pos:
			// Close but slightly short: nudge forward, never past a
			// point we have already overshot from.
			diffSec := (pos - seekedBytes - youkuOvershootSlackLo) / bps
			next := targetSec + diffSec
			if next >= lastBackwardTarget {
				if err := skipSeekedUnknownHeader(stream, a.totalSize, pos); err != nil {
					stream.Close()
					return nil, err
				}
				return stream, nil
			}
			stream.Close()
			targetSec = next

		default:
			if err := skipSeekedUnknownHeader(stream, a.totalSize, pos); err != nil {
				stream.Close()
				return nil, err
			}
			return stream, nil
		}
	}
}

func (a *Access) openAtSecond(ctx context.Context, targetSec int64) (urlopen.Stream, error) {
	url := a.url
	if targetSec > 0 {
		url = withQueryParam(a.url, "start", targetSec)
	}
	stream, err := a.opener.Open(ctx, url, urlopen.OpenOptions{ForbidRange: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vslerr.ErrNetwork, err)
	}
	return stream, nil
}

// skipSeekedUnknownHeader discards the leading bytes of a youku/cntv
// seeked stream with no signature check at all (spec.md §4.3 step 9) --
// unlike skipSeekedFLVHeader, the origin here gives no format hint to
// validate against.
func skipSeekedUnknownHeader(stream urlopen.Stream, totalSize, pos int64) error {
	expectedRemaining := totalSize - pos
	skip := stream.Size() - expectedRemaining
	if skip <= 0 {
		return nil
	}
	if _, err := readAndDiscard(stream, skip); err != nil {
		return fmt.Errorf("segment: youku post-seek header skip: %w", vslerr.ErrNetwork)
	}
	return nil
}
