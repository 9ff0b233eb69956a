// Package mp4demux is a reference fragmented-MP4 inner demuxer
// wrapping github.com/Eyevinn/mp4ff box decoding, the same dependency
// livesim2 uses to build CMAF/MP4 segments (spec.md §4.6).
//
// It walks top-level ISO-BMFF boxes one at a time and forwards each
// "mdat" box's payload as one esout.Frame; it builds no sample table
// and performs no fragment-level demuxing -- a real player needs the
// full moov/moof/trun parse this reference adapter deliberately
// skips (spec.md's non-goal on format-aware repair beyond header
// skipping).
package mp4demux

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/bilibili/vsl/pkg/vsl/esout"
)

// Demuxer walks top-level MP4 boxes from a buffered reader.
type Demuxer struct {
	r      *bufio.Reader
	sink   esout.Sink
	timeUS int64
	eof    bool
}

// New returns a ready-to-pump Demuxer. No header is consumed up front
// -- box decoding starts from the very first box, whatever it is
// ("ftyp", "moov", or "styp" for a CMAF chunk).
func New(r *bufio.Reader, sink esout.Sink) (*Demuxer, error) {
	return &Demuxer{r: r, sink: sink}, nil
}

// Pump decodes and forwards the next top-level box. Non-"mdat" boxes
// are consumed (their bytes discarded) and counted as zero frames so
// the caller's pump loop keeps advancing.
func (d *Demuxer) Pump(ctx context.Context) (int, error) {
	if d.eof {
		return 0, io.EOF
	}

	hdr, err := mp4.DecodeHeader(d.r)
	if err != nil {
		d.eof = true
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("mp4demux: decode box header: %w", err)
	}

	payloadSize := int64(hdr.Size) - int64(hdr.Hdrlen)
	if payloadSize < 0 {
		d.eof = true
		return 0, fmt.Errorf("mp4demux: box %q has negative payload size", hdr.Name)
	}

	if hdr.Name != "mdat" {
		if _, err := io.CopyN(io.Discard, d.r, payloadSize); err != nil {
			d.eof = true
			return 0, fmt.Errorf("mp4demux: skip box %q: %w", hdr.Name, err)
		}
		return 0, nil
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		d.eof = true
		return 0, fmt.Errorf("mp4demux: read mdat payload: %w", err)
	}

	frame := esout.Frame{Payload: payload, PTS: d.timeUS, DTS: d.timeUS}
	if err := d.sink.WriteFrame(ctx, frame); err != nil {
		return 0, fmt.Errorf("mp4demux: write frame: %w", err)
	}
	return 1, nil
}

// Control is unsupported by this reference demuxer.
func (d *Demuxer) Control(query int, args ...interface{}) error {
	return fmt.Errorf("mp4demux: unsupported control query %d", query)
}

// GetTime always returns 0: this reference adapter doesn't parse
// moof/trun, so it has no sample timing to report (every frame it
// forwards carries PTS/DTS 0 as well).
func (d *Demuxer) GetTime() int64 { return d.timeUS }

// SetTime is not implemented: fragment-level seeking needs the
// moof/trun parse this reference adapter deliberately skips.
func (d *Demuxer) SetTime(us int64) error {
	return fmt.Errorf("mp4demux: SetTime unsupported")
}

// Close is a no-op: the reader and sink are owned by the caller.
func (d *Demuxer) Close() error { return nil }
