package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// Bytes is the identity adapter for pre-encoded binary values. It is the
// conventional value type for binary-mode cache handles.
type Bytes []byte

func (b Bytes) WriteBinary(w *Writer) error {
	w.WriteTagged(TagBytes, b)
	return nil
}

func (b *Bytes) ReadBinary(r *Reader) error {
	payload, err := r.ReadTagged(TagBytes)
	if err != nil {
		return err
	}
	*b = append((*b)[:0], payload...)
	return nil
}

// String adapts a Go string. UTF-8 is assumed, not validated.
type String string

func (s String) WriteBinary(w *Writer) error {
	w.WriteTagged(TagString, []byte(s))
	return nil
}

func (s *String) ReadBinary(r *Reader) error {
	payload, err := r.ReadTagged(TagString)
	if err != nil {
		return err
	}
	*s = String(payload)
	return nil
}

// Int64 adapts a 64-bit integer, encoded big-endian.
type Int64 int64

func (i Int64) WriteBinary(w *Writer) error {
	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], uint64(i))
	w.WriteTagged(TagInt64, u8[:])
	return nil
}

func (i *Int64) ReadBinary(r *Reader) error {
	payload, err := r.ReadTagged(TagInt64)
	if err != nil {
		return err
	}
	if len(payload) != 8 {
		return fmt.Errorf("%w: int64 payload is %d bytes", ErrCorrupt, len(payload))
	}
	*i = Int64(binary.BigEndian.Uint64(payload))
	return nil
}

// Msgpack adapts an arbitrary Go value via vmihailenco/msgpack. For
// writing, V holds the value; for reading, V must hold a pointer to the
// destination. Use `msgpack` struct tags for explicit field control.
type Msgpack struct {
	V any
}

func (m Msgpack) WriteBinary(w *Writer) error {
	b, err := msgpack.Marshal(m.V)
	if err != nil {
		return fmt.Errorf("msgpack encode: %w", err)
	}
	w.WriteTagged(TagMsgpack, b)
	return nil
}

func (m Msgpack) ReadBinary(r *Reader) error {
	payload, err := r.ReadTagged(TagMsgpack)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(payload, m.V); err != nil {
		return fmt.Errorf("%w: msgpack decode: %s", ErrCorrupt, err)
	}
	return nil
}

// cborEnc is the deterministic encoding mode (RFC 8949 core), so a given
// value always produces the same bytes.
var cborEnc, _ = cbor.CoreDetEncOptions().EncMode()

// CBOR adapts an arbitrary Go value via fxamacker/cbor with deterministic
// encoding. Same V conventions as Msgpack.
type CBOR struct {
	V any
}

func (c CBOR) WriteBinary(w *Writer) error {
	b, err := cborEnc.Marshal(c.V)
	if err != nil {
		return fmt.Errorf("cbor encode: %w", err)
	}
	w.WriteTagged(TagCBOR, b)
	return nil
}

func (c CBOR) ReadBinary(r *Reader) error {
	payload, err := r.ReadTagged(TagCBOR)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(payload, c.V); err != nil {
		return fmt.Errorf("%w: cbor decode: %s", ErrCorrupt, err)
	}
	return nil
}

// Proto adapts a protobuf message.
type Proto struct {
	M proto.Message
}

func (p Proto) WriteBinary(w *Writer) error {
	b, err := proto.Marshal(p.M)
	if err != nil {
		return fmt.Errorf("proto encode: %w", err)
	}
	w.WriteTagged(TagProto, b)
	return nil
}

func (p Proto) ReadBinary(r *Reader) error {
	payload, err := r.ReadTagged(TagProto)
	if err != nil {
		return err
	}
	if err := proto.Unmarshal(payload, p.M); err != nil {
		return fmt.Errorf("%w: proto decode: %s", ErrCorrupt, err)
	}
	return nil
}

// KeyWithAffinity transmits Key as the key payload but routes by Affinity.
// Use it when related keys must land on the same partition, e.g. routing
// all of a user's session keys by the user id.
type KeyWithAffinity struct {
	Key      Writable
	Affinity Writable
}

func (k KeyWithAffinity) WriteBinary(w *Writer) error {
	return k.Key.WriteBinary(w)
}

func (k KeyWithAffinity) AffinityKey() Writable {
	return k.Affinity
}
