// Package flvdemux is a reference FLV inner demuxer: it tag-walks a
// segment's FLV body using pkg/vsl/flv and forwards each tag as one
// esout.Frame (spec.md §4.6).
package flvdemux

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/bilibili/vsl/pkg/vsl/esout"
	"github.com/bilibili/vsl/pkg/vsl/flv"
	"github.com/bilibili/vsl/pkg/vsl/vslerr"
)

// Demuxer walks FLV tags from a buffered reader.
type Demuxer struct {
	r    *bufio.Reader
	sink esout.Sink

	timeUS int64
	eof    bool
}

// New consumes the FLV file header from r and returns a ready-to-pump
// Demuxer.
func New(r *bufio.Reader, sink esout.Sink) (*Demuxer, error) {
	header := make([]byte, flv.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("flvdemux: read file header: %w", err)
	}
	if !flv.IsValidSignature(header) {
		return nil, fmt.Errorf("flvdemux: bad signature")
	}

	// The header is immediately followed by a 4-byte PreviousTagSize0.
	var pts0 [4]byte
	if _, err := io.ReadFull(r, pts0[:]); err != nil {
		return nil, fmt.Errorf("flvdemux: read previous tag size 0: %w", err)
	}

	return &Demuxer{r: r, sink: sink}, nil
}

// Pump reads and forwards one FLV tag.
func (d *Demuxer) Pump(ctx context.Context) (int, error) {
	if d.eof {
		return 0, io.EOF
	}

	headerBuf := make([]byte, flv.TagHeaderSize)
	if _, err := io.ReadFull(d.r, headerBuf); err != nil {
		d.eof = true
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("flvdemux: read tag header: %w", err)
	}

	th, err := flv.ParseTagHeader(headerBuf)
	if err != nil {
		return 0, fmt.Errorf("flvdemux: parse tag header: %w", err)
	}

	body := make([]byte, th.BodyLength)
	if _, err := io.ReadFull(d.r, body); err != nil {
		d.eof = true
		return 0, fmt.Errorf("flvdemux: read tag body: %w", err)
	}

	var prevTagSize [4]byte
	if _, err := io.ReadFull(d.r, prevTagSize[:]); err != nil {
		d.eof = true
		return 0, fmt.Errorf("flvdemux: read previous tag size: %w", err)
	}

	d.timeUS = int64(th.Timestamp) * 1000

	frame := esout.Frame{
		StreamID: int(th.Type),
		PTS:      d.timeUS,
		DTS:      d.timeUS,
		KeyFrame: th.Type == flv.TagVideo,
		Payload:  body,
	}
	if err := d.sink.WriteFrame(ctx, frame); err != nil {
		return 0, fmt.Errorf("flvdemux: write frame: %w", err)
	}

	return 1, nil
}

// Control has nothing of its own to handle; every query the scheduler
// forwards (pause state, and any query its own table does not model)
// is unsupported at this layer.
func (d *Demuxer) Control(query int, args ...interface{}) error {
	return fmt.Errorf("flvdemux: unsupported control query %d", query)
}

// GetTime returns the timestamp of the last tag forwarded.
func (d *Demuxer) GetTime() int64 { return d.timeUS }

// SetTime is not implemented by this reference demuxer: tag-level
// seeking within a segment needs a seek table this adapter doesn't
// build (spec.md's non-goal on format-aware repair/seek tables).
func (d *Demuxer) SetTime(us int64) error {
	return fmt.Errorf("flvdemux: SetTime: %w", vslerr.ErrUnsupported)
}

// Close is a no-op: the reader and sink are owned by the caller.
func (d *Demuxer) Close() error { return nil }
