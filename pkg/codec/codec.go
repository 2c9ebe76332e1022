package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/tarnlabs/tarn/pkg/types"
)

// ObjectKind is the envelope tag leading every canonical byte stream. It
// keeps streams of different object types from ever hashing alike.
type ObjectKind byte

const (
	KindCommit          ObjectKind = 0x01
	KindIndexSegment    ObjectKind = 0x02
	KindIndexRoot       ObjectKind = 0x03
	KindContent         ObjectKind = 0x04
	KindReference       ObjectKind = 0x05
	KindRepoDescriptor  ObjectKind = 0x06
	KindRefNameSegment  ObjectKind = 0x07
	KindRefNameRegistry ObjectKind = 0x08
)

// version is the serialization format version, bumped only on
// incompatible layout changes.
const version byte = 0x01

// Writer builds a canonical byte stream: fixed field order, big-endian
// fixed-width integers, length-prefixed strings, maps in sorted key order.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter starts a stream for the given object kind.
func NewWriter(kind ObjectKind) *Writer {
	w := &Writer{}
	w.buf.WriteByte(byte(kind))
	w.buf.WriteByte(version)
	return w
}

// Finish returns the completed canonical bytes.
func (w *Writer) Finish() []byte {
	return w.buf.Bytes()
}

// Byte appends a single byte.
func (w *Writer) Byte(b byte) *Writer {
	w.buf.WriteByte(b)
	return w
}

// Bool appends a boolean as one byte.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Byte(1)
	}
	return w.Byte(0)
}

// Uint32 appends a big-endian 32-bit integer.
func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
	return w
}

// Int32 appends a big-endian 32-bit signed integer.
func (w *Writer) Int32(v int32) *Writer {
	return w.Uint32(uint32(v))
}

// Int64 appends a big-endian 64-bit signed integer.
func (w *Writer) Int64(v int64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
	return w
}

// String appends a length-prefixed string.
func (w *Writer) String(s string) *Writer {
	w.Uint32(uint32(len(s)))
	w.buf.WriteString(s)
	return w
}

// Raw appends a length-prefixed byte slice.
func (w *Writer) Raw(b []byte) *Writer {
	w.Uint32(uint32(len(b)))
	w.buf.Write(b)
	return w
}

// ID appends the fixed 32 bytes of an object ID.
func (w *Writer) ID(id types.ID) *Writer {
	w.buf.Write(id[:])
	return w
}

// Key appends a key as an element-count plus length-prefixed elements.
func (w *Writer) Key(k types.Key) *Writer {
	w.Uint32(uint32(len(k)))
	for _, e := range k {
		w.String(e)
	}
	return w
}

// Time appends a timestamp as microseconds since the Unix epoch.
func (w *Writer) Time(t time.Time) *Writer {
	if t.IsZero() {
		return w.Int64(0)
	}
	return w.Int64(t.UnixMicro())
}

// StringMap appends a map with entries in sorted key order, so identical
// maps always produce identical bytes.
func (w *Writer) StringMap(m map[string]string) *Writer {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.Uint32(uint32(len(keys)))
	for _, k := range keys {
		w.String(k)
		w.String(m[k])
	}
	return w
}

// Reader decodes a canonical byte stream. Errors are sticky: after the
// first failure every subsequent read returns the zero value, and Done
// reports the failure.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader validates the envelope and positions the reader after it.
func NewReader(data []byte, expect ObjectKind) (*Reader, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("truncated object: %d bytes", len(data))
	}
	if ObjectKind(data[0]) != expect {
		return nil, fmt.Errorf("unexpected object kind 0x%02x, want 0x%02x", data[0], byte(expect))
	}
	if data[1] != version {
		return nil, fmt.Errorf("unsupported format version 0x%02x", data[1])
	}
	return &Reader{data: data, pos: 2}, nil
}

// Kind peeks at the envelope tag of a canonical byte stream.
func Kind(data []byte) (ObjectKind, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("truncated object: %d bytes", len(data))
	}
	return ObjectKind(data[0]), nil
}

func (r *Reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.fail("truncated object: need %d bytes at offset %d of %d", n, r.pos, len(r.data))
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a one-byte boolean.
func (r *Reader) Bool() bool {
	return r.Byte() == 1
}

// Uint32 reads a big-endian 32-bit integer.
func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Int32 reads a big-endian 32-bit signed integer.
func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

// Int64 reads a big-endian 64-bit signed integer.
func (r *Reader) Int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	n := r.Uint32()
	if r.err != nil {
		return ""
	}
	if int(n) > len(r.data)-r.pos {
		r.fail("string length %d exceeds remaining %d bytes", n, len(r.data)-r.pos)
		return ""
	}
	return string(r.take(int(n)))
}

// Raw reads a length-prefixed byte slice.
func (r *Reader) Raw() []byte {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if int(n) > len(r.data)-r.pos {
		r.fail("raw length %d exceeds remaining %d bytes", n, len(r.data)-r.pos)
		return nil
	}
	out := make([]byte, n)
	copy(out, r.take(int(n)))
	return out
}

// ID reads the fixed 32 bytes of an object ID.
func (r *Reader) ID() types.ID {
	b := r.take(types.IDLen)
	if b == nil {
		return types.ID{}
	}
	var id types.ID
	copy(id[:], b)
	return id
}

// Key reads a key written by Writer.Key.
func (r *Reader) Key() types.Key {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if int(n) > types.MaxKeyElements {
		r.fail("key element count %d exceeds limit", n)
		return nil
	}
	k := make(types.Key, 0, n)
	for i := uint32(0); i < n; i++ {
		k = append(k, r.String())
	}
	if r.err != nil {
		return nil
	}
	return k
}

// Time reads a microsecond timestamp; zero means the zero time.
func (r *Reader) Time() time.Time {
	v := r.Int64()
	if r.err != nil || v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

// StringMap reads a map written by Writer.StringMap.
func (r *Reader) StringMap() map[string]string {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if n == 0 {
		return nil
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k := r.String()
		v := r.String()
		if r.err != nil {
			return nil
		}
		m[k] = v
	}
	return m
}

// Err returns the sticky error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Done verifies the whole stream was consumed without error.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.data) {
		return fmt.Errorf("trailing %d bytes after object", len(r.data)-r.pos)
	}
	return nil
}
