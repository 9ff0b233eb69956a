// Package urlopen defines the byte-stream-opening primitive the
// segment and scheduler layers depend on, and a thin net/http backed
// default implementation.
//
// HTTP/DNS/TLS internals are explicitly out of scope (spec.md §1); the
// default Opener here is intentionally minimal -- no retries, no
// custom redirect policy beyond net/http's defaults -- it exists only
// to give the rest of the module something real to drive in the CLI
// harness and integration tests.
package urlopen

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// OpenOptions configures how a URL is opened.
type OpenOptions struct {
	// ForbidRange disables the Range header even if the caller would
	// otherwise want a seeked request -- this is how "http-continuous"
	// (spec.md §6.3) is realized at the transport edge.
	ForbidRange bool

	// Offset, when non-zero and ForbidRange is false, requests the
	// stream starting at that byte via a Range header. Used by the
	// plain-range seek strategy (spec.md §4.3).
	Offset int64
}

// Stream is a random-access-ish byte stream: readable, peekable,
// optionally sized, and able to report how many bytes are buffered
// ahead of the read cursor (used for the cache-percent telemetry step,
// spec.md §4.2).
type Stream interface {
	io.Reader
	io.Closer

	// Size returns the declared content length, or 0 if unknown.
	Size() int64

	// Peek returns up to n bytes without consuming them from Read.
	Peek(n int) ([]byte, error)

	// CachedBytes returns how many bytes are currently buffered ahead
	// of the read cursor. Streams with no read-ahead buffering of
	// their own return 0.
	CachedBytes() int64
}

// ContentTyper is an optional Stream capability: implementations that
// know their origin's declared MIME type expose it here. Streams with
// no notion of content type (e.g. MemStream) simply don't implement
// it.
type ContentTyper interface {
	ContentType() string
}

// Opener opens byte streams by URL.
type Opener interface {
	Open(ctx context.Context, url string, opts OpenOptions) (Stream, error)
}

// HTTPOpener is the default net/http backed Opener.
type HTTPOpener struct {
	Client *http.Client
}

// NewHTTPOpener returns an HTTPOpener using http.DefaultClient when
// client is nil.
func NewHTTPOpener(client *http.Client) *HTTPOpener {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOpener{Client: client}
}

// Open issues a GET request for url and wraps the response body.
func (o *HTTPOpener) Open(ctx context.Context, url string, opts OpenOptions) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("urlopen: build request: %w", err)
	}
	if opts.ForbidRange {
		req.Header.Set("Range", "")
	} else if opts.Offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", opts.Offset))
	}

	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("urlopen: get %s: %w", url, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("urlopen: get %s: status %d", url, resp.StatusCode)
	}

	return newHTTPStream(resp), nil
}
