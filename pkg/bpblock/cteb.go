package bpblock

import (
	"errors"

	"github.com/samsamfire/bplib/pkg/sdnv"
)

// BlockFlag is the per-block processing-control flags carried by extension
// blocks (RFC 5050 §4.3).
type BlockFlag uint64

const (
	BlockReplicateInFragments BlockFlag = 1 << 0
	BlockReportIfNoProc       BlockFlag = 1 << 1
	BlockDeleteIfNoProc       BlockFlag = 1 << 2
	BlockLastBlock            BlockFlag = 1 << 3
	BlockDiscardIfNoProc      BlockFlag = 1 << 4
	BlockForwardedWithoutProc BlockFlag = 1 << 5
)

// CTEBBlockType is this block's canonical block-type byte (the ION/DTN2
// convention for the Custody Transfer Extension Block).
const CTEBBlockType byte = 0x0A

// CTEBTemplate lays out a Custody Transfer Extension Block. The custody ID
// field is the one value patched on every transmission; its offset/width
// are fixed at Init.
type CTEBTemplate struct {
	flags       sdnv.Field
	blockLength sdnv.Field
	cid         sdnv.Field
	custNode    sdnv.Field
	custService sdnv.Field
	size        int
}

// NewCTEBTemplate lays out and writes a fresh CTEB into buf at offset
// baseIndex (the byte immediately after the preceding block), returning the
// template and the block's size.
func NewCTEBTemplate(buf []byte, baseIndex int, custodian EID) (*CTEBTemplate, int, error) {
	t := &CTEBTemplate{}
	if len(buf) < baseIndex+1 {
		return nil, 0, sdnv.ErrShortBuffer
	}
	buf[baseIndex] = CTEBBlockType
	idx := baseIndex + 1
	t.flags = sdnv.NewField(idx, uint64(BlockLastBlock|BlockDeleteIfNoProc), 1)
	idx = t.flags.End()
	t.blockLength = sdnv.Field{Index: idx, Width: 2}
	idx = t.blockLength.End()
	bodyStart := idx
	t.cid = sdnv.NewField(idx, 0, 4)
	idx = t.cid.End()
	t.custNode = sdnv.NewField(idx, custodian.Node, 4)
	idx = t.custNode.End()
	t.custService = sdnv.NewField(idx, custodian.Service, 2)
	idx = t.custService.End()
	t.size = idx - baseIndex

	if len(buf) < idx {
		return nil, 0, sdnv.ErrShortBuffer
	}
	t.blockLength.Value = uint64(idx - bodyStart)
	for _, f := range []sdnv.Field{t.flags, t.blockLength, t.cid, t.custNode, t.custService} {
		if _, err := f.Encode(buf); err != nil {
			return nil, 0, err
		}
	}
	return t, t.size, nil
}

// Size returns the fixed size in bytes of this CTEB.
func (t *CTEBTemplate) Size() int { return t.size }

// PatchCID updates the custody ID in place, the only field a CTEB ever
// needs re-writing after creation.
func (t *CTEBTemplate) PatchCID(buf []byte, cid uint64) (overflow bool, err error) {
	return t.cid.Patch(buf, cid)
}

// CTEB is the decoded, logical view of a Custody Transfer Extension Block.
type CTEB struct {
	Flags     BlockFlag
	CID       uint64
	Custodian EID
	Size      int
}

// ErrWrongBlockType is returned when a reader expecting one extension block
// type encounters another's block-type byte.
var ErrWrongBlockType = errors.New("bpblock: unexpected block type")

// ReadCTEB decodes a CTEB starting at buf[0], which must hold CTEBBlockType.
func ReadCTEB(buf []byte) (CTEB, int, error) {
	var c CTEB
	if len(buf) < 1 {
		return c, 0, sdnv.ErrShortBuffer
	}
	if buf[0] != CTEBBlockType {
		return c, 0, ErrWrongBlockType
	}
	idx := 1
	flagsVal, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return c, 0, err
	}
	c.Flags = BlockFlag(flagsVal)
	idx += n

	blockLen, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return c, 0, err
	}
	idx += n
	bodyStart := idx

	cid, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return c, 0, err
	}
	idx += n
	c.CID = cid

	node, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return c, 0, err
	}
	idx += n
	svc, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return c, 0, err
	}
	idx += n
	c.Custodian = EID{Node: node, Service: svc}

	if uint64(idx-bodyStart) != blockLen {
		return c, 0, ErrBlockLengthMismatch
	}
	c.Size = idx
	return c, idx, nil
}
