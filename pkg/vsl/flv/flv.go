// Package flv implements the minimal FLV header/tag bit-level parsing
// needed by the Sina post-seek header skip (spec.md §6, §9).
//
// Fields are assembled with explicit bit reads over unsigned bytes via
// github.com/icza/bitio, never via struct-overlay with packed
// attributes, which the original C source used and which spec.md's
// "Bit-parsing safety" note explicitly forbids in a reimplementation.
package flv

import (
	"bytes"
	"fmt"

	"github.com/icza/bitio"
)

// Signature is the 3-byte magic every FLV stream starts with.
var Signature = [3]byte{'F', 'L', 'V'}

// HeaderSize is the fixed size of the FLV file header (signature,
// version, flags, 4-byte BE header size field) -- 9 bytes, matching
// sizeof(flv_header_t) in the original C source.
const HeaderSize = 9

// Tag type constants, named in spec.md §6.
const (
	TagAudio = 0x08
	TagVideo = 0x09
	TagMeta  = 0x12
)

// Header is the fixed FLV file header.
type Header struct {
	Signature  [3]byte
	Version    byte
	Flags      byte
	DataOffset uint32 // BE, total size of header, always 9 for known FLV files
}

// ParseHeader reads a Header from the front of buf. buf must contain
// at least HeaderSize bytes.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("flv: short buffer for header: %d < %d", len(buf), HeaderSize)
	}

	r := bitio.NewReader(bytes.NewReader(buf))
	var h Header
	for i := range h.Signature {
		b, err := r.ReadByte()
		if err != nil {
			return Header{}, err
		}
		h.Signature[i] = b
	}

	var err error
	if h.Version, err = r.ReadByte(); err != nil {
		return Header{}, err
	}
	if h.Flags, err = r.ReadByte(); err != nil {
		return Header{}, err
	}

	offset, err := readUintBE(r, 4)
	if err != nil {
		return Header{}, err
	}
	h.DataOffset = uint32(offset)

	return h, nil
}

// IsValidSignature reports whether buf begins with the "FLV" magic.
func IsValidSignature(buf []byte) bool {
	return len(buf) >= 3 && buf[0] == Signature[0] && buf[1] == Signature[1] && buf[2] == Signature[2]
}

// TagHeader is the fixed-layout prefix of one FLV tag, preceding its
// body and the trailing 4-byte previous-tag size.
type TagHeader struct {
	Type          byte
	BodyLength    uint32 // 3-byte BE
	Timestamp     uint32 // 3-byte BE + 1-byte extension, assembled to 32 bits
	StreamID      uint32 // 3-byte BE, always 0
}

// TagHeaderSize is the on-wire size of TagHeader (11 bytes), matching
// sizeof(flv_tag_t) in the original C source.
const TagHeaderSize = 11

// ParseTagHeader reads one TagHeader from the front of buf.
func ParseTagHeader(buf []byte) (TagHeader, error) {
	if len(buf) < TagHeaderSize {
		return TagHeader{}, fmt.Errorf("flv: short buffer for tag header: %d < %d", len(buf), TagHeaderSize)
	}

	r := bitio.NewReader(bytes.NewReader(buf))
	var th TagHeader
	var err error

	typeByte, err := r.ReadByte()
	if err != nil {
		return TagHeader{}, err
	}
	th.Type = typeByte

	bodyLen, err := readUintBE(r, 3)
	if err != nil {
		return TagHeader{}, err
	}
	th.BodyLength = uint32(bodyLen)

	ts, err := readUintBE(r, 3)
	if err != nil {
		return TagHeader{}, err
	}
	tsExt, err := r.ReadByte()
	if err != nil {
		return TagHeader{}, err
	}
	th.Timestamp = uint32(ts) | (uint32(tsExt) << 24)

	streamID, err := readUintBE(r, 3)
	if err != nil {
		return TagHeader{}, err
	}
	th.StreamID = uint32(streamID)

	return th, nil
}

// readUintBE assembles n big-endian bytes into a uint64 via explicit
// byte reads and shifts -- the shape spec.md's "Bit-parsing safety"
// note requires.
func readUintBE(r *bitio.Reader, n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = (v << 8) | uint64(b)
	}
	return v, nil
}

// PreviousTagSize reads the 4-byte BE trailing size field that follows
// every tag body.
func PreviousTagSize(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("flv: short buffer for previous tag size")
	}
	r := bitio.NewReader(bytes.NewReader(buf))
	v, err := readUintBE(r, 4)
	return uint32(v), err
}
