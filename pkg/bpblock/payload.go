package bpblock

import (
	"errors"

	"github.com/samsamfire/bplib/pkg/sdnv"
)

// ErrNotLastBlock is returned when a payload block is not followed
// immediately by end-of-bundle, violating the well-formedness rule that
// the payload block is always last (spec §4.E).
var ErrNotLastBlock = errors.New("bpblock: payload block must be last")

// AdminRecordType identifies administrative record payloads (spec §6).
type AdminRecordType uint8

// ACSRecordType is the only administrative record type this agent emits
// or consumes: the Aggregate Custody Signal.
const ACSRecordType AdminRecordType = 0x40

// PayloadTemplate lays out the fixed 4-byte payload-block prelude (type,
// flags, a 2-byte length placeholder); payload bytes are streamed
// separately by the caller, not copied into this template's buffer.
type PayloadTemplate struct {
	Type   byte
	Flags  byte
	length sdnv.Field
}

// PreludeSize is the fixed size of the payload-block prelude.
const PreludeSize = 4

// PayloadBlockType is the payload block's canonical block-type byte
// (RFC 5050 §4.3: type 1 is always the payload block).
const PayloadBlockType byte = 1

// NewPayloadTemplate lays out and writes a fresh payload-block prelude at
// baseIndex, sized for payloadLen bytes to follow.
func NewPayloadTemplate(buf []byte, baseIndex int, payloadLen int) (*PayloadTemplate, error) {
	if len(buf) < baseIndex+PreludeSize {
		return nil, sdnv.ErrShortBuffer
	}
	t := &PayloadTemplate{
		Type:   PayloadBlockType,
		Flags:  byte(BlockLastBlock),
		length: sdnv.Field{Index: baseIndex + 2, Width: 2},
	}
	buf[baseIndex] = t.Type
	buf[baseIndex+1] = t.Flags
	if _, err := t.length.Patch(buf, uint64(payloadLen)); err != nil {
		return nil, err
	}
	return t, nil
}

// Update patches the payload length in place, used after the final
// payload size for a fragment/bundle is known.
func (t *PayloadTemplate) Update(buf []byte, payloadLen int) (overflow bool, err error) {
	return t.length.Patch(buf, uint64(payloadLen))
}

// Payload is the decoded, logical view of a payload-block prelude (the
// bytes themselves are handled by the caller, which knows the bundle's
// total remaining length).
type Payload struct {
	Type   byte
	Flags  byte
	Length uint64
	Size   int // prelude size only
}

// ReadPayloadPrelude decodes the payload-block prelude starting at buf[0].
func ReadPayloadPrelude(buf []byte) (Payload, int, error) {
	var p Payload
	if len(buf) < 2 {
		return p, 0, sdnv.ErrShortBuffer
	}
	p.Type = buf[0]
	p.Flags = buf[1]
	length, n, err := sdnv.Read(buf[2:])
	if err != nil {
		return p, 0, err
	}
	p.Length = length
	p.Size = 2 + n
	return p, p.Size, nil
}
