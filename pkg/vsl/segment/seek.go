package segment

import (
	"context"
	"fmt"
	"io"

	"github.com/bilibili/vsl/pkg/vsl/urlopen"
	"github.com/bilibili/vsl/pkg/vsl/vslerr"
)

// seekStrategy produces a freshly opened stream positioned (as closely
// as the origin allows) at pos bytes into the segment.
type seekStrategy interface {
	newSeekedStream(ctx context.Context, a *Access, pos int64) (urlopen.Stream, error)
}

// Seek repositions the read cursor (spec.md §4.3).
func (a *Access) Seek(ctx context.Context, pos int64) error {
	if pos > a.totalSize {
		return fmt.Errorf("segment: seek %d beyond size %d: %w", pos, a.totalSize, vslerr.ErrSeekOutOfRange)
	}

	if pos == a.totalSize {
		a.cursor = pos
		a.eof = true
		return nil
	}

	if pos == a.cursor {
		return nil
	}

	// Short-forward optimization: read-and-discard instead of
	// reopening the stream. Note the operand order here is
	// deliberately the corrected one (pos - cursor, positive whenever
	// pos > cursor); see quirks.go for the literal C computation this
	// corrects (spec.md §9, open question 3).
	if pos > a.cursor && pos-a.cursor < shortSeekThreshold {
		forward := pos - a.cursor
		skipped, err := readAndDiscard(a.activeStream, forward)
		if err != nil || skipped <= 0 {
			return fmt.Errorf("segment: short seek forward %d bytes: %w", forward, vslerr.ErrNetwork)
		}
		a.cursor += skipped
		a.eof = a.cursor >= a.totalSize
		return nil
	}

	stream, err := a.strategy.newSeekedStream(ctx, a, pos)
	if err != nil {
		return fmt.Errorf("segment: seek to %d: %w", pos, err)
	}

	if a.activeStream != nil {
		a.activeStream.Close()
	}
	a.activeStream = stream
	a.cursor = pos
	a.eof = pos >= a.totalSize
	return nil
}

// readAndDiscard reads and throws away exactly n bytes from r in
// bounded chunks, matching stream_ReadSeek in the original C source.
func readAndDiscard(r io.Reader, n int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)

	var skipped int64
	for skipped < n {
		toRead := n - skipped
		if toRead > chunk {
			toRead = chunk
		}
		nr, err := r.Read(buf[:toRead])
		if nr <= 0 {
			if err != nil && err != io.EOF {
				return skipped, err
			}
			return skipped, fmt.Errorf("segment: short read during discard")
		}
		skipped += int64(nr)
	}
	return skipped, nil
}
