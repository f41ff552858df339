// pkg/container/container.go
//
// Package container implements the self-delimiting chunk framing every
// change and document is wrapped in (spec §4.4, §6.1). It plays the
// role the teacher's pkg/dbfile/header.go played for the database file
// header: magic bytes + checksum + fixed fields, validated on read.
package container

import (
	"crypto/sha256"
	"errors"
	"io"

	"crdtdoc/internal/varint"
)

// Magic identifies a container chunk.
var Magic = [4]byte{0x85, 0x6f, 0x4a, 0x83}

// ChunkType distinguishes a document container from a change container.
type ChunkType byte

const (
	ChunkDocument ChunkType = 0
	ChunkChange   ChunkType = 1
)

var (
	// ErrBadMagic is returned when the leading 4 bytes don't match Magic.
	ErrBadMagic = errors.New("container: bad magic bytes")
	// ErrBadChecksum is returned when the checksum prefix doesn't match
	// the body's SHA-256.
	ErrBadChecksum = errors.New("container: checksum mismatch")
	// ErrUnknownType is returned for a chunk type byte other than 0 or 1.
	ErrUnknownType = errors.New("container: unknown chunk type")
	// ErrTrailingBytes is returned when the reader has bytes left over
	// after a chunk's declared body length.
	ErrTrailingBytes = errors.New("container: trailing bytes after chunk")
	ErrTruncated     = errors.New("container: truncated chunk")
)

// Hash is the content hash of a chunk: the full 32-byte SHA-256 digest
// of (type || varint(bodyLen) || body).
type Hash [32]byte

// Checksum is the first 4 bytes of Hash — a cheap accessor distinct
// from the full hash, useful as a fast duplicate-detector when
// deduplicating sync messages (design note: checksum redundancy).
func (h Hash) Checksum() [4]byte {
	var c [4]byte
	copy(c[:], h[:4])
	return c
}

// digestBody computes the content hash for a chunk type + body, without
// any framing bytes.
func digestBody(typ ChunkType, body []byte) Hash {
	lenBuf := varint.AppendUvarint(nil, uint64(len(body)))
	h := sha256.New()
	h.Write([]byte{byte(typ)})
	h.Write(lenBuf)
	h.Write(body)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Encode wraps body in chunk framing and returns the full chunk bytes
// plus its content hash.
func Encode(typ ChunkType, body []byte) ([]byte, Hash) {
	hash := digestBody(typ, body)
	checksum := hash.Checksum()

	lenBuf := varint.AppendUvarint(nil, uint64(len(body)))
	out := make([]byte, 0, 4+4+1+len(lenBuf)+len(body))
	out = append(out, Magic[:]...)
	out = append(out, checksum[:]...)
	out = append(out, byte(typ))
	out = append(out, lenBuf...)
	out = append(out, body...)
	return out, hash
}

// Decode parses a single chunk from buf, requiring buf to contain
// exactly one chunk with no trailing bytes.
func Decode(buf []byte) (typ ChunkType, body []byte, hash Hash, err error) {
	typ, body, hash, rest, err := decodePrefix(buf)
	if err != nil {
		return 0, nil, Hash{}, err
	}
	if len(rest) != 0 {
		return 0, nil, Hash{}, ErrTrailingBytes
	}
	return typ, body, hash, nil
}

// DecodePrefix parses a single chunk from the front of buf and returns
// whatever bytes remain afterward, for callers that concatenate
// multiple chunks (docstore.Load uses it to walk a save file's change
// frames).
func DecodePrefix(buf []byte) (typ ChunkType, body []byte, hash Hash, rest []byte, err error) {
	return decodePrefix(buf)
}

func decodePrefix(buf []byte) (ChunkType, []byte, Hash, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, Hash{}, nil, ErrTruncated
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return 0, nil, Hash{}, nil, ErrBadMagic
	}
	pos := 4
	if len(buf) < pos+4+1 {
		return 0, nil, Hash{}, nil, ErrTruncated
	}
	var checksum [4]byte
	copy(checksum[:], buf[pos:pos+4])
	pos += 4

	typ := ChunkType(buf[pos])
	if typ != ChunkDocument && typ != ChunkChange {
		return 0, nil, Hash{}, nil, ErrUnknownType
	}
	pos++

	bodyLen, n, err := varint.Uvarint(buf[pos:])
	if err != nil {
		return 0, nil, Hash{}, nil, ErrTruncated
	}
	pos += n

	if uint64(len(buf)-pos) < bodyLen {
		return 0, nil, Hash{}, nil, ErrTruncated
	}
	body := buf[pos : pos+int(bodyLen)]
	pos += int(bodyLen)

	hash := digestBody(typ, body)
	if hash.Checksum() != checksum {
		return 0, nil, Hash{}, nil, ErrBadChecksum
	}
	return typ, body, hash, buf[pos:], nil
}

// WriteChunk writes a framed chunk to w and returns its content hash.
func WriteChunk(w io.Writer, typ ChunkType, body []byte) (Hash, error) {
	buf, hash := Encode(typ, body)
	_, err := w.Write(buf)
	return hash, err
}

// ReadChunk reads exactly one framed chunk from r.
func ReadChunk(r io.Reader) (ChunkType, []byte, Hash, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return 0, nil, Hash{}, err
	}
	return Decode(buf)
}
