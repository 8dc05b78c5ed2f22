package bpblock

import (
	"github.com/samsamfire/bplib/internal/crc"
	"github.com/samsamfire/bplib/pkg/sdnv"
)

// CRCType identifies the checksum carried by a Bundle Integrity Block.
type CRCType uint64

const (
	CRCNone CRCType = 0
	CRC16   CRCType = 1
	CRC32   CRCType = 2
)

// BIBBlockType is this block's canonical block-type byte. RFC 5050 does not
// define a BIB; this agent reserves a locally significant type value for it,
// the same way it reserves CTEBBlockType for custody transfer.
const BIBBlockType byte = 0x0D

// BIBTemplate lays out a Bundle Integrity Block. Update recomputes the CRC
// over a payload and patches it in place; the CRC field's offset/width
// never change after Init.
type BIBTemplate struct {
	flags       sdnv.Field
	blockLength sdnv.Field
	crcType     sdnv.Field
	crcValue    sdnv.Field
	size        int
}

// NewBIBTemplate lays out and writes a fresh BIB into buf at baseIndex.
func NewBIBTemplate(buf []byte, baseIndex int, crcType CRCType) (*BIBTemplate, int, error) {
	t := &BIBTemplate{}
	if len(buf) < baseIndex+1 {
		return nil, 0, sdnv.ErrShortBuffer
	}
	buf[baseIndex] = BIBBlockType
	idx := baseIndex + 1
	t.flags = sdnv.NewField(idx, uint64(BlockLastBlock|BlockDeleteIfNoProc), 1)
	idx = t.flags.End()
	t.blockLength = sdnv.Field{Index: idx, Width: 2}
	idx = t.blockLength.End()
	bodyStart := idx
	t.crcType = sdnv.NewField(idx, uint64(crcType), 1)
	idx = t.crcType.End()
	// CRC-32 needs up to 5 SDNV bytes (35 bits); always reserve enough.
	t.crcValue = sdnv.NewField(idx, 0, 5)
	idx = t.crcValue.End()
	t.size = idx - baseIndex

	if len(buf) < idx {
		return nil, 0, sdnv.ErrShortBuffer
	}
	t.blockLength.Value = uint64(idx - bodyStart)
	for _, f := range []sdnv.Field{t.flags, t.blockLength, t.crcType, t.crcValue} {
		if _, err := f.Encode(buf); err != nil {
			return nil, 0, err
		}
	}
	return t, t.size, nil
}

// Size returns the fixed size in bytes of this BIB.
func (t *BIBTemplate) Size() int { return t.size }

// Update recomputes the CRC over payload according to the block's CRC
// type and patches the result in place (§4.B). CRC is computed over the
// payload bytes alone, never the header (spec §3 invariant).
func (t *BIBTemplate) Update(buf []byte, payload []byte) (overflow bool, err error) {
	var value uint64
	switch CRCType(t.crcType.Value) {
	case CRCNone:
		value = 0
	case CRC16:
		value = uint64(crc.ComputeCRC16(payload))
	case CRC32:
		value = uint64(crc.ComputeCRC32(payload))
	}
	return t.crcValue.Patch(buf, value)
}

// BIB is the decoded, logical view of a Bundle Integrity Block.
type BIB struct {
	Flags    BlockFlag
	CRCType  CRCType
	CRCValue uint64
	Size     int
}

// Verify recomputes the CRC over payload and compares it against the
// decoded value.
func (b BIB) Verify(payload []byte) bool {
	switch b.CRCType {
	case CRCNone:
		return true
	case CRC16:
		return uint64(crc.ComputeCRC16(payload)) == b.CRCValue
	case CRC32:
		return uint64(crc.ComputeCRC32(payload)) == b.CRCValue
	default:
		return false
	}
}

// ReadBIB decodes a BIB starting at buf[0], which must hold BIBBlockType.
func ReadBIB(buf []byte) (BIB, int, error) {
	var b BIB
	if len(buf) < 1 {
		return b, 0, sdnv.ErrShortBuffer
	}
	if buf[0] != BIBBlockType {
		return b, 0, ErrWrongBlockType
	}
	idx := 1
	flagsVal, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return b, 0, err
	}
	b.Flags = BlockFlag(flagsVal)
	idx += n

	blockLen, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return b, 0, err
	}
	idx += n
	bodyStart := idx

	crcTypeVal, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return b, 0, err
	}
	idx += n
	b.CRCType = CRCType(crcTypeVal)

	crcVal, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return b, 0, err
	}
	idx += n
	b.CRCValue = crcVal

	if uint64(idx-bodyStart) != blockLen {
		return b, 0, ErrBlockLengthMismatch
	}
	b.Size = idx
	return b, idx, nil
}
