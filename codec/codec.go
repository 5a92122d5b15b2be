// Package codec defines the capability contract every key and value type
// must satisfy to travel over the cache wire protocol, together with a
// small set of adapters that make ordinary Go values satisfy it.
//
// Values are framed as a tagged envelope: tag(1) | length(u32 be) |
// payload. The tag pins the payload interpretation so a reader can never
// silently decode a value of the wrong kind.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Envelope tags. New tags may be appended; existing values are wire format.
const (
	TagBytes byte = iota + 1
	TagString
	TagInt64
	TagMsgpack
	TagCBOR
	TagProto

	maxTag = TagProto
)

// ErrCorrupt reports a payload that does not match the envelope shape
// expected for its tag. Decoding is all-or-nothing; there is no
// best-effort mode.
var ErrCorrupt = errors.New("gridcache: corrupt value envelope")

// Writable is implemented by any value that can serialize itself into an
// output buffer. WriteBinary must be deterministic for a given value.
type Writable interface {
	WriteBinary(w *Writer) error
}

// Readable is implemented by any value that can reconstruct itself from a
// response payload.
type Readable interface {
	ReadBinary(r *Reader) error
}

// AffinityKeyed is optionally implemented by key types whose routing
// should be decided by a value distinct from the transmitted key payload.
// A nil result falls back to the key's own encoded bytes.
type AffinityKeyed interface {
	AffinityKey() Writable
}

// Writer is an append-only output buffer for tagged values.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteTagged(tag byte, payload []byte) {
	var u4 [4]byte
	w.buf.Grow(1 + 4 + len(payload))
	w.buf.WriteByte(tag)
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	w.buf.Write(u4[:])
	w.buf.Write(payload)
}

func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Reader is a cursor over an encoded buffer. It only ever advances.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// ReadTagged consumes one envelope and returns its payload. The payload
// aliases the underlying buffer and is only valid as long as the buffer is.
func (r *Reader) ReadTagged(want byte) ([]byte, error) {
	if r.off+5 > len(r.buf) {
		return nil, fmt.Errorf("%w: truncated header at offset %d", ErrCorrupt, r.off)
	}

	tag := r.buf[r.off]
	if tag == 0 || tag > maxTag {
		return nil, fmt.Errorf("%w: unrecognized tag 0x%02x", ErrCorrupt, tag)
	}
	if tag != want {
		return nil, fmt.Errorf("%w: tag 0x%02x where 0x%02x expected", ErrCorrupt, tag, want)
	}

	length := int(binary.BigEndian.Uint32(r.buf[r.off+1 : r.off+5]))
	start := r.off + 5
	if length < 0 || length > len(r.buf)-start {
		return nil, fmt.Errorf("%w: declared length %d exceeds buffer", ErrCorrupt, length)
	}

	r.off = start + length
	return r.buf[start : start+length], nil
}

// Marshal encodes a single writable value into a standalone buffer.
func Marshal(v Writable) ([]byte, error) {
	w := NewWriter()
	if err := v.WriteBinary(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Unmarshal decodes a standalone buffer into a readable value.
func Unmarshal(b []byte, v Readable) error {
	return v.ReadBinary(NewReader(b))
}
