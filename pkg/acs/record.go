// Package acs implements the Aggregate Custody Signal administrative
// record codec (§4.C) and the per-source accumulator table that builds one
// from inbound custody acknowledgements (§4.D).
package acs

import (
	"errors"

	"github.com/samsamfire/bplib/pkg/bpblock"
	"github.com/samsamfire/bplib/pkg/sdnv"
)

// ErrWrongRecordType is returned by DecodeRecord when the buffer's record
// type byte is not the ACS type.
var ErrWrongRecordType = errors.New("acs: not an ACS admin record")

// StatusSucceeded is bit 0 of the ACS status byte (spec §6).
const StatusSucceeded byte = 0x01

// EncodeRecord serializes an ACS admin record:
//
//	rec_type | status | first_cid_sdnv | num_fills_sdnv | fill_0 | fill_1 | ...
func EncodeRecord(delivered bool, firstCID uint64, fills []uint64) ([]byte, error) {
	status := byte(0)
	if delivered {
		status = StatusSucceeded
	}

	size := 2 // rec_type + status
	size += sdnv.MinWidth(firstCID)
	size += sdnv.MinWidth(uint64(len(fills)))
	for _, f := range fills {
		size += sdnv.MinWidth(f)
	}

	buf := make([]byte, size)
	buf[0] = byte(bpblock.ACSRecordType)
	buf[1] = status
	idx := 2

	write := func(v uint64) {
		f := sdnv.Field{Value: v, Index: idx, Width: sdnv.MinWidth(v)}
		f.Encode(buf)
		idx += f.Width
	}
	write(firstCID)
	write(uint64(len(fills)))
	for _, f := range fills {
		write(f)
	}
	return buf, nil
}

// Record is the decoded, logical view of an ACS admin record.
type Record struct {
	Delivered bool
	FirstCID  uint64
	Fills     []uint64
}

// DecodeRecord parses an ACS admin record.
func DecodeRecord(buf []byte) (Record, error) {
	var r Record
	if len(buf) < 2 {
		return r, sdnv.ErrShortBuffer
	}
	if bpblock.AdminRecordType(buf[0]) != bpblock.ACSRecordType {
		return r, ErrWrongRecordType
	}
	r.Delivered = buf[1]&StatusSucceeded != 0
	idx := 2

	firstCID, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return r, err
	}
	idx += n
	r.FirstCID = firstCID

	numFills, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return r, err
	}
	idx += n

	r.Fills = make([]uint64, 0, numFills)
	for i := uint64(0); i < numFills; i++ {
		v, n, err := sdnv.Read(buf[idx:])
		if err != nil {
			return r, err
		}
		idx += n
		r.Fills = append(r.Fills, v)
	}
	return r, nil
}

// ExpandCIDs walks a decoded record's fill runs and returns the set of
// present CIDs, demonstrating the bijection invariant from spec §8: fills
// alternate (gap, run, gap, run, ...) starting at FirstCID.
func (r Record) ExpandCIDs() []uint64 {
	var cids []uint64
	cursor := r.FirstCID
	present := false // fills[0] is always a "missing" run (possibly zero-length)
	for _, run := range r.Fills {
		if present {
			for i := uint64(0); i < run; i++ {
				cids = append(cids, cursor)
				cursor++
			}
		} else {
			cursor += run
		}
		present = !present
	}
	return cids
}
