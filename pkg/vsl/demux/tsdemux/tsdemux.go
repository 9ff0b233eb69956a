// Package tsdemux is a reference MPEG-TS inner demuxer wrapping
// github.com/asticode/go-astits, the same dependency the pack's own
// tvarr tooling uses for transport-stream parsing (spec.md §4.6).
package tsdemux

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/asticode/go-astits"

	"github.com/bilibili/vsl/pkg/vsl/esout"
)

// Demuxer wraps an astits.Demuxer, forwarding each PES packet as one
// esout.Frame.
type Demuxer struct {
	dmx    *astits.Demuxer
	sink   esout.Sink
	timeUS int64
}

// New constructs a Demuxer over r. astits binds its reader to a
// context at construction, not per call; New uses
// context.Background() for it, so the ctx later passed to Pump only
// reaches the sink's WriteFrame.
func New(r *bufio.Reader, sink esout.Sink) (*Demuxer, error) {
	return &Demuxer{
		dmx:  astits.NewDemuxer(context.Background(), r),
		sink: sink,
	}, nil
}

// Pump reads and forwards the next PES packet.
func (d *Demuxer) Pump(ctx context.Context) (int, error) {
	data, err := d.dmx.NextData()
	if err != nil {
		if err == astits.ErrNoMorePackets || err == io.EOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("tsdemux: next data: %w", err)
	}

	if data.PES == nil {
		// Non-PES packets (PAT/PMT/etc.) carry no payload for the sink.
		return 0, nil
	}

	var pts, dts int64
	if data.PES.Header.OptionalHeader != nil {
		if data.PES.Header.OptionalHeader.PTS != nil {
			pts = data.PES.Header.OptionalHeader.PTS.Base
		}
		if data.PES.Header.OptionalHeader.DTS != nil {
			dts = data.PES.Header.OptionalHeader.DTS.Base
		} else {
			dts = pts
		}
	}
	// MPEG-TS clocks run at 90kHz; normalize to microseconds.
	d.timeUS = pts * 1000 / 90

	frame := esout.Frame{
		StreamID: int(data.PID),
		PTS:      pts * 1000 / 90,
		DTS:      dts * 1000 / 90,
		Payload:  data.PES.Data,
	}
	if err := d.sink.WriteFrame(ctx, frame); err != nil {
		return 0, fmt.Errorf("tsdemux: write frame: %w", err)
	}

	return 1, nil
}

// Control is unsupported by this reference demuxer.
func (d *Demuxer) Control(query int, args ...interface{}) error {
	return fmt.Errorf("tsdemux: unsupported control query %d", query)
}

// GetTime returns the PTS of the last PES packet forwarded, in
// microseconds.
func (d *Demuxer) GetTime() int64 { return d.timeUS }

// SetTime is not implemented: seeking within a TS segment needs PCR
// indexing this reference adapter doesn't build.
func (d *Demuxer) SetTime(us int64) error {
	return fmt.Errorf("tsdemux: SetTime unsupported")
}

// Close is a no-op: the reader and sink are owned by the caller.
func (d *Demuxer) Close() error { return nil }
