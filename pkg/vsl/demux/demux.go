// Package demux defines the narrow contract the scheduler's pump loop
// drives, and a format-sniffing constructor that dispatches to one of
// the reference inner demuxers (spec.md §4.2/§4.6).
//
// These are reference/test adapters, not feature-complete media
// demuxers: no B-frame reordering, no seek-table building. Spec.md's
// non-goal "no format-aware repair beyond the specific header-skip
// logic" scopes real demuxing out; some concrete Demuxer is still
// needed to drive the end-to-end scenarios as executable tests rather
// than mocks-only.
package demux

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/bilibili/vsl/pkg/vsl/demux/flvdemux"
	"github.com/bilibili/vsl/pkg/vsl/demux/mp4demux"
	"github.com/bilibili/vsl/pkg/vsl/demux/tsdemux"
	"github.com/bilibili/vsl/pkg/vsl/esout"
)

// Demuxer is the inner demuxer contract the scheduler pumps.
type Demuxer interface {
	// Pump processes one chunk of input, writing any resulting frames
	// to the sink it was constructed with. Returns the number of
	// frames produced; err == io.EOF means the segment's content is
	// exhausted (not a failure).
	Pump(ctx context.Context) (int, error)

	// Control forwards a scheduler query (time/position get-or-set,
	// and so on) down to the inner demuxer.
	Control(query int, args ...interface{}) error

	// GetTime returns the inner demuxer's segment-local playback time
	// in microseconds.
	GetTime() int64

	// SetTime seeks the inner demuxer to a segment-local time in
	// microseconds.
	SetTime(us int64) error

	// Close releases any inner-demuxer-owned resources. It must NOT
	// close the underlying reader or the sink.
	Close() error
}

// sniffLen is how many leading bytes Open peeks to auto-detect format,
// matching the "any" demuxer-module probe depth used widely across the
// pack's own players.
const sniffLen = 16

// Open sniffs the leading bytes of r and constructs the matching
// Demuxer, writing output to sink (spec.md §4.2 ensureOpen step:
// "format auto-detection ('any') over the buffered stream").
func Open(ctx context.Context, r io.Reader, sink esout.Sink) (Demuxer, error) {
	br := bufio.NewReaderSize(r, 4096)

	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("demux: peek for format detection: %w", err)
	}

	switch {
	case len(head) >= 3 && head[0] == 'F' && head[1] == 'L' && head[2] == 'V':
		return flvdemux.New(br, sink)
	case len(head) >= 1 && head[0] == syncByteMPEGTS:
		return tsdemux.New(br, sink)
	case len(head) >= 8 && isMP4Box(head):
		return mp4demux.New(br, sink)
	default:
		return nil, fmt.Errorf("demux: unrecognized format, leading bytes %x", head)
	}
}

const syncByteMPEGTS = 0x47

// isMP4Box reports whether the leading bytes look like an ISO-BMFF box
// header (4-byte size, 4-byte type, e.g. "ftyp"/"moov").
func isMP4Box(head []byte) bool {
	boxType := string(head[4:8])
	switch boxType {
	case "ftyp", "moov", "moof", "mdat", "styp":
		return true
	default:
		return false
	}
}
