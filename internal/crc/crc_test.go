package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16KnownVector(t *testing.T) {
	// "123456789" is the standard CRC catalogue check string.
	// CRC-16/CCITT-FALSE(poly 0x1021, init 0xFFFF) of it is 0x29B1.
	got := ComputeCRC16([]byte("123456789"))
	assert.EqualValues(t, 0x29B1, got)
}

func TestCRC16FlipBitChangesResult(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	base := ComputeCRC16(payload)
	flipped := make([]byte, len(payload))
	copy(flipped, payload)
	flipped[3] ^= 0x01
	assert.NotEqual(t, base, ComputeCRC16(flipped))
}

func TestCRC32KnownVector(t *testing.T) {
	got := ComputeCRC32([]byte("123456789"))
	assert.EqualValues(t, 0xCBF43926, got)
}

func TestCRC16IncrementalMatchesBulk(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	acc := New16()
	for _, b := range payload {
		acc.Single(b)
	}
	assert.EqualValues(t, ComputeCRC16(payload), uint16(acc))
}
