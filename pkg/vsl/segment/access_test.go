package segment

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bilibili/vsl/pkg/vsl/flv"
	"github.com/bilibili/vsl/pkg/vsl/manifest"
	"github.com/bilibili/vsl/pkg/vsl/urlopen"
	"github.com/bilibili/vsl/pkg/vsl/vslerr"
)

// fakeManifestBackend is a minimal, fully-static manifest.Backend for
// tests: one segment, fixed url/duration/size.
type fakeManifestBackend struct {
	url        string
	durationMS int64
	bytes      int64
}

func (f *fakeManifestBackend) Load(context.Context, bool) error               { return nil }
func (f *fakeManifestBackend) LoadSegment(context.Context, bool, int) error    { return nil }
func (f *fakeManifestBackend) Count(context.Context) (int, error)             { return 1, nil }
func (f *fakeManifestBackend) MRL(context.Context, int) (string, error)       { return f.url, nil }
func (f *fakeManifestBackend) URL(context.Context, int) (string, error)       { return f.url, nil }
func (f *fakeManifestBackend) DurationMS(context.Context, int) (int64, error) { return f.durationMS, nil }
func (f *fakeManifestBackend) Bytes(context.Context, int) (int64, error)      { return f.bytes, nil }

func newTestManifest(t *testing.T, backend *fakeManifestBackend) *manifest.Adapter {
	t.Helper()
	m, err := manifest.New(backend)
	require.NoError(t, err)
	return m
}

func buildFLVBytes(payload []byte) []byte {
	out := make([]byte, 0, flv.HeaderSize+4+len(payload))
	out = append(out, 'F', 'L', 'V')
	out = append(out, 1)   // version
	out = append(out, 5)   // flags: audio+video
	out = append(out, 0, 0, 0, flv.HeaderSize)
	out = append(out, 0, 0, 0, 0) // PreviousTagSize0
	out = append(out, payload...)
	return out
}

// E3: Sina byte-seek lands on a fresh FLV header that must be skipped
// by length arithmetic, not tag-walking, before the real payload is
// visible to Read.
func TestAccessSinaSeekSkipsFLVHeader(t *testing.T) {
	ctx := context.Background()
	const totalSize = 300000

	backend := &fakeManifestBackend{url: "http://origin/seg0.flv", durationMS: 30000, bytes: totalSize}
	m := newTestManifest(t, backend)

	opener := urlopen.NewFakeOpener()
	opener.ScriptBytes(backend.url, make([]byte, totalSize))

	const pos = 200000
	const expectedRemaining = totalSize - pos

	payload := make([]byte, expectedRemaining)
	copy(payload, []byte("PAYLOAD"))
	opener.ScriptBytes(backend.url+"?start=200000", buildFLVBytes(payload))

	a, err := Open(ctx, SchemeSina, "0", m, opener)
	require.NoError(t, err)

	require.NoError(t, a.Seek(ctx, pos))
	require.Equal(t, int64(pos), a.Cursor())

	got := make([]byte, 7)
	n, err := io.ReadFull(a, got)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, "PAYLOAD", string(got))
}

// E4: Youku second-based seek converges on the byte target within at
// most two extra re-opens, landing the cursor exactly on pos.
func TestAccessYoukuSeekConverges(t *testing.T) {
	ctx := context.Background()
	const totalSize = 3000000
	const durationMS = 60000 // => bps == 50000, above the 25000 floor
	const target = 2000000

	backend := &fakeManifestBackend{url: "http://origin/seg0.flv", durationMS: durationMS, bytes: totalSize}
	m := newTestManifest(t, backend)

	opener := urlopen.NewFakeOpener()
	opener.ScriptBytes(backend.url, make([]byte, totalSize))
	// First guess (40s target minus the 15s safety rewind, 25s): origin
	// overshoots to byte 2200000.
	opener.ScriptBytes(backend.url+"?start=25", make([]byte, totalSize-2200000))
	// Corrected guess (25 - (4+5) == 16s): origin lands short of target,
	// accepted via the unconditional default branch since it has
	// already overshot once; the final header skip makes up the rest.
	opener.ScriptBytes(backend.url+"?start=16", make([]byte, totalSize-1900000))

	a, err := Open(ctx, SchemeYouku, "0", m, opener)
	require.NoError(t, err)

	require.NoError(t, a.Seek(ctx, target))
	require.Equal(t, int64(target), a.Cursor())

	calls := opener.Calls()
	require.Len(t, calls, 3) // initial open + 2 seek re-opens
}

// E5: a Sina origin that fails to open twice before succeeding must
// still surface a working Access (spec.md §4.3 retry policy).
func TestAccessRetriesBrokenStream(t *testing.T) {
	ctx := context.Background()
	const totalSize = 300000

	backend := &fakeManifestBackend{url: "http://origin/seg0.flv", durationMS: 30000, bytes: totalSize}
	m := newTestManifest(t, backend)

	opener := urlopen.NewFakeOpener()
	opener.ScriptURL(backend.url, func() (urlopen.Stream, error) {
		return nil, vslerr.ErrNetwork
	})
	opener.ScriptURL(backend.url, func() (urlopen.Stream, error) {
		return nil, vslerr.ErrNetwork
	})
	opener.ScriptBytes(backend.url, make([]byte, totalSize))

	a, err := Open(ctx, SchemeSina, "0", m, opener)
	require.NoError(t, err)
	require.Equal(t, int64(totalSize), a.TotalSize())
	require.Len(t, opener.Calls(), 3)
}

// E6: when the origin reports no content length, a scheme that does
// not require one falls back to the manifest's declared byte size.
func TestAccessFallsBackToManifestBytes(t *testing.T) {
	ctx := context.Background()
	const manifestBytes = 123456

	backend := &fakeManifestBackend{url: "http://origin/seg0.flv", durationMS: 10000, bytes: manifestBytes}
	m := newTestManifest(t, backend)

	opener := urlopen.NewFakeOpener()
	opener.ScriptURL(backend.url, func() (urlopen.Stream, error) {
		return urlopen.NewMemStream(nil), nil // Size() == 0
	})

	a, err := Open(ctx, SchemeSohu, "0", m, opener)
	require.NoError(t, err)
	require.Equal(t, int64(manifestBytes), a.TotalSize())
}

// Property: Read never returns more bytes than remain before the
// declared total size.
func TestAccessReadNeverExceedsRemaining(t *testing.T) {
	ctx := context.Background()
	const totalSize = 10

	backend := &fakeManifestBackend{url: "http://origin/seg0.flv", durationMS: 1000, bytes: totalSize}
	m := newTestManifest(t, backend)

	opener := urlopen.NewFakeOpener()
	opener.ScriptBytes(backend.url, make([]byte, totalSize))

	a, err := Open(ctx, SchemeVSL, "0", m, opener)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	n, err := a.Read(buf)
	require.NoError(t, err)
	require.LessOrEqual(t, n, totalSize)

	n2, err := a.Read(buf)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 0, n2)
	require.Equal(t, int64(totalSize), a.Cursor())
}

// A short forward seek reads-and-discards on the already-open stream
// instead of reopening it: the opener call count must not grow, and
// the cursor must land exactly on pos with the real bytes at that
// offset visible to the next Read.
func TestAccessShortSeekReadsAndDiscardsWithoutReopening(t *testing.T) {
	ctx := context.Background()
	const totalSize = 300000
	const pos = 50000 // well under the 128KiB short-seek threshold

	data := make([]byte, totalSize)
	copy(data[pos:], []byte("MARKER"))

	backend := &fakeManifestBackend{url: "http://origin/seg0.flv", durationMS: 30000, bytes: totalSize}
	m := newTestManifest(t, backend)

	opener := urlopen.NewFakeOpener()
	opener.ScriptBytes(backend.url, data)

	a, err := Open(ctx, SchemeVSL, "0", m, opener)
	require.NoError(t, err)
	require.Len(t, opener.Calls(), 1)

	require.NoError(t, a.Seek(ctx, pos))
	require.Equal(t, int64(pos), a.Cursor())
	require.Len(t, opener.Calls(), 1) // no re-open: read-and-discard only

	got := make([]byte, 6)
	n, err := io.ReadFull(a, got)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "MARKER", string(got))
}

// Property: the preserved quirk function's sign is the inverse of the
// corrected forward-skip distance Seek actually uses whenever the
// optimization's own precondition (pos > cursor) holds.
func TestShortSeekForwardBytesQuirkIsInverseOfCorrected(t *testing.T) {
	cursor, pos := int64(1000), int64(5000)
	corrected := pos - cursor
	require.Equal(t, -corrected, shortSeekForwardBytesQuirk(cursor, pos))
}
