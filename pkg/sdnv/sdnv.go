// Package sdnv implements the self-delimiting numeric value encoding used
// throughout the Bundle Protocol wire format (RFC 5050 §4.1): a big-endian,
// 7-bits-per-byte varint with the MSB of each byte as a continuation flag.
package sdnv

import "errors"

// ErrOverflow is returned by Read when an SDNV's encoded value would not
// fit in a uint64, or the buffer ends before a terminating byte is found.
var ErrOverflow = errors.New("sdnv: overflow")

// ErrShortBuffer is returned when a Field's backing buffer is too small to
// hold its declared width.
var ErrShortBuffer = errors.New("sdnv: short buffer")

// maxBits is the platform word width that bounds decoding; exceeding it is
// an overflow regardless of how many continuation bytes follow.
const maxBits = 64

// Read scans a self-delimiting value starting at buf[0], stopping at the
// first byte whose MSB is clear. It returns the decoded value and the
// number of bytes consumed. Read does not require advance knowledge of the
// field's width — used when parsing wire bytes whose layout is unknown
// ahead of time (inbound blocks, ACS fills).
func Read(buf []byte) (value uint64, consumed int, err error) {
	var bits int
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		value = (value << 7) | uint64(b&0x7F)
		bits += 7
		if bits > maxBits {
			return 0, 0, ErrOverflow
		}
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, ErrOverflow
}

// MinWidth returns the minimum number of bytes needed to encode value
// (at least 1).
func MinWidth(value uint64) int {
	width := 1
	v := value >> 7
	for v != 0 {
		width++
		v >>= 7
	}
	return width
}

// Field is a fixed-width SDNV descriptor: a value together with the byte
// offset and encoded width it occupies inside a shared block buffer. Width
// is fixed once a block header is initialized so later value updates can be
// patched in place without shifting trailing bytes (spec §3/§9).
type Field struct {
	Value uint64
	Index int
	Width int
}

// NewField returns a descriptor for a value at a given offset, sized to the
// minimum width that fits value (plus any extra the caller reserves via
// minWidth, e.g. to leave headroom for counters expected to grow before the
// next header reinitialization).
func NewField(index int, value uint64, minWidth int) Field {
	w := MinWidth(value)
	if w < minWidth {
		w = minWidth
	}
	return Field{Value: value, Index: index, Width: w}
}

// ZeroField returns a zero-width descriptor: a no-op field used when the
// corresponding bundle attribute is absent (e.g. fragment offset in a
// non-fragmented bundle).
func ZeroField(index int) Field {
	return Field{Index: index, Width: 0}
}

// End returns the offset one past this field's encoded range.
func (f Field) End() int {
	return f.Index + f.Width
}

// Encode writes the field's current Value into buf at its fixed Index/Width.
// A zero-width field is a no-op. If Value requires more than 7*Width bits,
// the low-order bits are written, the overflow bool is true, and bytes
// outside [Index, Index+Width) are left untouched.
func (f Field) Encode(buf []byte) (overflow bool, err error) {
	if f.Width == 0 {
		return false, nil
	}
	if f.End() > len(buf) {
		return false, ErrShortBuffer
	}
	overflow = MinWidth(f.Value) > f.Width
	v := f.Value
	for i := f.Width - 1; i >= 0; i-- {
		b := byte(v & 0x7F)
		v >>= 7
		if i != f.Width-1 {
			b |= 0x80
		}
		buf[f.Index+i] = b
	}
	return overflow, nil
}

// Decode reads this field's fixed byte range out of buf and returns the
// decoded value. A zero-width field always decodes to 0.
func (f Field) Decode(buf []byte) (uint64, error) {
	if f.Width == 0 {
		return 0, nil
	}
	if f.End() > len(buf) {
		return 0, ErrShortBuffer
	}
	var value uint64
	for i := 0; i < f.Width; i++ {
		value = (value << 7) | uint64(buf[f.Index+i]&0x7F)
	}
	return value, nil
}

// Patch sets Value and immediately re-encodes it into buf, returning
// whether the new value overflowed the field's fixed width.
func (f *Field) Patch(buf []byte, value uint64) (overflow bool, err error) {
	f.Value = value
	return f.Encode(buf)
}
