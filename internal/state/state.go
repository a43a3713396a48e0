// Package state implements the fixed, self-contained binary encoding used by
// every component's SaveState/LoadState pair. There is no framing header and
// no type information on the wire: a reader must walk the same field order a
// writer used. Multi-byte integers are little-endian; slices are written as a
// uint32 length followed by their elements; optional values are written as a
// single presence byte followed by the payload when present.
package state

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortRead is returned when a Reader runs out of bytes mid-field.
var ErrShortRead = errors.New("state: short read")

// Writer appends primitives to an internal buffer in the component's declared
// field order.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) U8(v byte)   { w.buf = append(w.buf, v) }
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w *Writer) U16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) I8(v int8)   { w.U8(byte(v)) }
func (w *Writer) I16(v int16) { w.U16(uint16(v)) }
func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) F64(v float64) { w.U64(math.Float64bits(v)) }

// Raw appends a fixed-size byte array verbatim (no length prefix): use it for
// arrays whose size is already known to both sides, e.g. VRAM banks.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Slice writes a length-prefixed byte slice (u32 length, then elements).
func (w *Writer) Slice(b []byte) {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// OptionalSlice writes a presence byte followed by Slice when present.
func (w *Writer) OptionalSlice(b []byte, present bool) {
	w.Bool(present)
	if present {
		w.Slice(b)
	}
}

// Reader consumes primitives in the same order a Writer produced them.
type Reader struct {
	buf []byte
	pos int
	err error
}

func NewReader(data []byte) *Reader { return &Reader{buf: data} }

// Err returns the first error encountered, if any. Callers may ignore partial
// reads by checking Err once at the end.
func (r *Reader) Err() error { return r.err }

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = ErrShortRead
		return false
	}
	return true
}

func (r *Reader) U8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) U16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *Reader) U32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) U64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *Reader) I8() int8   { return int8(r.U8()) }
func (r *Reader) I16() int16 { return int16(r.U16()) }
func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) F64() float64 { return math.Float64frombits(r.U64()) }

func (r *Reader) Raw(n int) []byte {
	if !r.need(n) {
		return make([]byte, n)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out
}

func (r *Reader) Slice() []byte {
	n := int(r.U32())
	if n < 0 {
		return nil
	}
	return r.Raw(n)
}

func (r *Reader) OptionalSlice() []byte {
	if !r.Bool() {
		return nil
	}
	return r.Slice()
}

// Component is implemented by anything with a self-describing save slot.
type Component interface {
	SaveState() []byte
	LoadState(data []byte)
}
