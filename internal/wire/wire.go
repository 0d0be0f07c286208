// Package wire implements the strict binary framing used on the RPC channel
// and inside the read-through row cache. Frames are versioned, magic-tagged
// and reject trailing bytes so foreign or truncated data is treated as
// corruption instead of being misread.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version      byte = 1
	kindRequest  byte = 1
	kindResponse byte = 2
	kindEntry    byte = 3

	statusOK   byte = 0
	statusFail byte = 1
)

var (
	ErrCorrupt = errors.New("wire: corrupt frame")
	magic4     = [...]byte{'S', 'Y', 'N', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func writeHeader(buf *bytes.Buffer, kind byte) {
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)
}

func checkHeader(b []byte, kind byte) bool {
	return len(b) >= 6 && hasMagic(b) && b[4] == version && b[5] == kind
}

// Request: magic(4) | ver(1) | kind(1=request) | nameLen(u16 be) | name | blen(u32 be) | body
//
// The same frame carries host->client pushes; the method discriminator lives
// in the transport, the frame only names the target cache.
func EncodeRequest(cache string, body []byte) []byte {
	if l := len(cache); l == 0 || l > 0xFFFF {
		panic("wire: invalid cache name length in request")
	}

	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 2 + len(cache) + 4 + len(body))
	writeHeader(&buf, kindRequest)

	var u2 [2]byte
	var u4 [4]byte

	binary.BigEndian.PutUint16(u2[:], uint16(len(cache)))
	buf.Write(u2[:])
	buf.WriteString(cache)

	binary.BigEndian.PutUint32(u4[:], uint32(len(body)))
	buf.Write(u4[:])
	buf.Write(body)

	return buf.Bytes()
}

func DecodeRequest(b []byte) (cache string, body []byte, err error) {
	if !checkHeader(b, kindRequest) {
		return "", nil, ErrCorrupt
	}
	off := 6

	if off+2 > len(b) {
		return "", nil, ErrCorrupt
	}
	nlen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if nlen == 0 || nlen > len(b)-off {
		return "", nil, ErrCorrupt
	}
	cache = string(b[off : off+nlen])
	off += nlen

	body, off, err = readBlock(b, off)
	if err != nil {
		return "", nil, err
	}
	if off != len(b) {
		return "", nil, ErrCorrupt
	}
	return cache, body, nil
}

// Response: magic(4) | ver(1) | kind(2=response) | status(1) |
//
//	ok:   blen(u32 be) | body
//	fail: kindLen(u16 be) | failKind | mlen(u32 be) | message
func EncodeResponse(body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 1 + 4 + len(body))
	writeHeader(&buf, kindResponse)
	buf.WriteByte(statusOK)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(body)))
	buf.Write(u4[:])
	buf.Write(body)

	return buf.Bytes()
}

func EncodeFailure(failKind, message string) []byte {
	if l := len(failKind); l == 0 || l > 0xFFFF {
		panic("wire: invalid failure kind length")
	}

	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 1 + 2 + len(failKind) + 4 + len(message))
	writeHeader(&buf, kindResponse)
	buf.WriteByte(statusFail)

	var u2 [2]byte
	var u4 [4]byte

	binary.BigEndian.PutUint16(u2[:], uint16(len(failKind)))
	buf.Write(u2[:])
	buf.WriteString(failKind)

	binary.BigEndian.PutUint32(u4[:], uint32(len(message)))
	buf.Write(u4[:])
	buf.WriteString(message)

	return buf.Bytes()
}

// DecodeResponse returns failKind != "" for failure frames.
func DecodeResponse(b []byte) (body []byte, failKind, message string, err error) {
	if !checkHeader(b, kindResponse) {
		return nil, "", "", ErrCorrupt
	}
	off := 6
	if off >= len(b) {
		return nil, "", "", ErrCorrupt
	}
	status := b[off]
	off++

	switch status {
	case statusOK:
		body, off, err = readBlock(b, off)
		if err != nil {
			return nil, "", "", err
		}
		if off != len(b) {
			return nil, "", "", ErrCorrupt
		}
		return body, "", "", nil

	case statusFail:
		if off+2 > len(b) {
			return nil, "", "", ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen == 0 || klen > len(b)-off {
			return nil, "", "", ErrCorrupt
		}
		failKind = string(b[off : off+klen])
		off += klen

		var msg []byte
		msg, off, err = readBlock(b, off)
		if err != nil {
			return nil, "", "", err
		}
		if off != len(b) {
			return nil, "", "", ErrCorrupt
		}
		return nil, failKind, string(msg), nil

	default:
		return nil, "", "", ErrCorrupt
	}
}

// Entry: magic(4) | ver(1) | kind(3=entry) | gen(u64 be) | vlen(u32 be) | payload
//
// Used by the read-through row cache; gen is the generation observed when the
// row was fetched from the authoritative store.
func EncodeEntry(gen uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))
	writeHeader(&buf, kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)

	return buf.Bytes()
}

func DecodeEntry(b []byte) (gen uint64, payload []byte, err error) {
	if !checkHeader(b, kindEntry) {
		return 0, nil, ErrCorrupt
	}
	off := 6

	if off+8 > len(b) {
		return 0, nil, ErrCorrupt
	}
	gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	payload, off, err = readBlock(b, off)
	if err != nil {
		return 0, nil, err
	}
	if off != len(b) {
		return 0, nil, ErrCorrupt
	}
	return gen, payload, nil
}

func readBlock(b []byte, off int) ([]byte, int, error) {
	if off+4 > len(b) {
		return nil, 0, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen > len(b)-off {
		return nil, 0, ErrCorrupt
	}
	return b[off : off+vlen], off + vlen, nil
}
