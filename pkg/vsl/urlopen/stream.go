package urlopen

import (
	"bufio"
	"net/http"
)

// httpStream adapts an *http.Response into a Stream. Its only
// read-ahead is a 4 KiB bufio.Reader over the body (used for Peek), and
// CachedBytes reports what that reader holds; the scheduler layers its
// own buffer filter on top when it wants look-ahead, same split of
// responsibility as spec.md's origin_stream/buffer_filter pair.
type httpStream struct {
	resp        *http.Response
	br          *bufio.Reader
	size        int64
	contentType string
	closed      bool
}

func newHTTPStream(resp *http.Response) *httpStream {
	return &httpStream{
		resp:        resp,
		br:          bufio.NewReaderSize(resp.Body, 4096),
		size:        resp.ContentLength,
		contentType: resp.Header.Get("Content-Type"),
	}
}

// ContentType returns the response's declared MIME type, satisfying
// the optional ContentTyper interface (spec.md §4.3's "get_content_type
// passthrough").
func (s *httpStream) ContentType() string { return s.contentType }

func (s *httpStream) Read(p []byte) (int, error) {
	return s.br.Read(p)
}

func (s *httpStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.resp.Body.Close()
}

// Size returns the declared content length, or 0 if unknown (matching
// http.Response.ContentLength == -1 meaning "unknown").
func (s *httpStream) Size() int64 {
	if s.size < 0 {
		return 0
	}
	return s.size
}

func (s *httpStream) Peek(n int) ([]byte, error) {
	return s.br.Peek(n)
}

// CachedBytes reports bytes buffered in the local read buffer ahead of
// the read cursor; a plain HTTP stream has no larger look-ahead of its
// own.
func (s *httpStream) CachedBytes() int64 {
	return int64(s.br.Buffered())
}
