package scheduler

import (
	"bufio"
	"io"
)

// peekBuffer is the "async buffer filter" ensureOpen inserts between a
// segment's Access and the format-sniffing demuxer open (spec.md §4.2
// ensureOpen step, §9 design notes): a bufio.Reader gives demux.Open
// something that can Peek ahead for format auto-detection without
// consuming bytes Access itself would otherwise have to rewind.
//
// This is a synchronous simplification of the original's dedicated
// read-ahead thread (spec.md §3) -- grounded the same way the
// teacher's writerseeker wraps a plain io.Writer with seek bookkeeping
// rather than spinning up its own goroutine.
type peekBuffer struct {
	*bufio.Reader
}

// newPeekBuffer wraps r with a buffer large enough for the format
// sniff plus the FLV tag header.
func newPeekBuffer(r io.Reader) *peekBuffer {
	return &peekBuffer{Reader: bufio.NewReaderSize(r, peekBufferSize)}
}

// peekBufferSize is generous enough to cover every sniff/header peek
// the demux and segment layers perform without a second network round
// trip.
const peekBufferSize = 4096
