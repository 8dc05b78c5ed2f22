package sdnv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 16383, 16384, 1 << 20, 1<<35 - 1}
	for _, v := range cases {
		w := MinWidth(v)
		f := NewField(0, v, 0)
		buf := make([]byte, w)
		overflow, err := f.Encode(buf)
		require.NoError(t, err)
		assert.False(t, overflow)

		got, err := f.Decode(buf)
		require.NoError(t, err)
		assert.EqualValues(t, v, got)

		// Generic self-delimiting Read agrees with the fixed-width Decode.
		val, consumed, err := Read(buf)
		require.NoError(t, err)
		assert.Equal(t, w, consumed)
		assert.EqualValues(t, v, val)
	}
}

func TestEncodeOverflowDoesNotCorruptSurroundingBytes(t *testing.T) {
	buf := []byte{0xAA, 0, 0, 0xBB}
	f := Field{Value: 1 << 20, Index: 1, Width: 2} // needs 3 bytes, only has 2
	overflow, err := f.Encode(buf)
	require.NoError(t, err)
	assert.True(t, overflow)
	assert.Equal(t, byte(0xAA), buf[0])
	assert.Equal(t, byte(0xBB), buf[3])
}

func TestZeroWidthFieldIsNoOp(t *testing.T) {
	buf := []byte{1, 2, 3}
	f := ZeroField(1)
	overflow, err := f.Encode(buf)
	require.NoError(t, err)
	assert.False(t, overflow)
	assert.Equal(t, []byte{1, 2, 3}, buf)

	v, err := f.Decode(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)
}

func TestPatchInPlaceDoesNotShiftWidth(t *testing.T) {
	f := NewField(2, 5, 2)
	buf := make([]byte, 4)
	_, err := f.Encode(buf)
	require.NoError(t, err)
	widthBefore := f.Width

	overflow, err := f.Patch(buf, 42)
	require.NoError(t, err)
	assert.False(t, overflow)
	assert.Equal(t, widthBefore, f.Width)

	got, err := f.Decode(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)
}

func TestReadRejectsTruncatedBuffer(t *testing.T) {
	// MSB set on every byte, never terminates.
	_, _, err := Read([]byte{0x80, 0x80, 0x80})
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestReadMultiByteValue(t *testing.T) {
	// 300 = 0b100101100 -> split into 7-bit groups: 0000010 0101100
	// first byte (continuation) 0x82, last byte 0x2C
	buf := []byte{0x82, 0x2C}
	v, n, err := Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 300, v)
}
