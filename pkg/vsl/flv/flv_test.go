package flv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildHeader(t *testing.T) []byte {
	t.Helper()
	return []byte{'F', 'L', 'V', 1, 5, 0, 0, 0, 9}
}

func TestParseHeader(t *testing.T) {
	buf := buildHeader(t)
	h, err := ParseHeader(buf)
	require.NoError(t, err)
	require.Equal(t, Signature, h.Signature)
	require.Equal(t, byte(1), h.Version)
	require.Equal(t, byte(5), h.Flags)
	require.Equal(t, uint32(9), h.DataOffset)
}

func TestParseHeaderShort(t *testing.T) {
	_, err := ParseHeader([]byte{'F', 'L', 'V'})
	require.Error(t, err)
}

func TestIsValidSignature(t *testing.T) {
	require.True(t, IsValidSignature([]byte("FLV\x01\x05")))
	require.False(t, IsValidSignature([]byte("MP4\x01\x05")))
	require.False(t, IsValidSignature([]byte("FL")))
}

func buildTag(tagType byte, body []byte) []byte {
	bodyLen := len(body)
	buf := []byte{
		tagType,
		byte(bodyLen >> 16), byte(bodyLen >> 8), byte(bodyLen), // body length BE
		0, 0, 0, // timestamp
		0,       // timestamp extended
		0, 0, 0, // stream id
	}
	buf = append(buf, body...)
	tagSize := TagHeaderSize + bodyLen
	prevSize := uint32(tagSize)
	buf = append(buf,
		byte(prevSize>>24), byte(prevSize>>16), byte(prevSize>>8), byte(prevSize))
	return buf
}

func TestParseTagHeader(t *testing.T) {
	buf := buildTag(TagVideo, []byte{1, 2, 3, 4})
	th, err := ParseTagHeader(buf)
	require.NoError(t, err)
	require.Equal(t, byte(TagVideo), th.Type)
	require.Equal(t, uint32(4), th.BodyLength)
}

func TestWalkTagsUnused(t *testing.T) {
	header := buildHeader(t)
	header = append(header, 0, 0, 0, 0) // placeholder previous-tag-size after header

	audioTag := buildTag(TagAudio, []byte{0xAF, 0x01, 0x02, 0x03})
	videoTag := buildTag(TagVideo, []byte{0x17, 0x01, 0x00, 0x00, 0x00})

	buf := append(header, audioTag...)
	buf = append(buf, videoTag...)

	tags, err := WalkTagsUnused(buf, HeaderSize+4)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	require.Equal(t, byte(TagAudio), tags[0].Type)
	require.Equal(t, byte(TagVideo), tags[1].Type)
}

func TestWalkTagsUnusedStopsOnUnknownType(t *testing.T) {
	header := buildHeader(t)
	header = append(header, 0, 0, 0, 0)

	unknownTag := buildTag(0x42, []byte{0x00})
	buf := append(header, unknownTag...)

	tags, err := WalkTagsUnused(buf, HeaderSize+4)
	require.NoError(t, err)
	require.Empty(t, tags)
}
