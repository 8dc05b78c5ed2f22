package channel

import (
	"encoding/binary"

	"github.com/samsamfire/bplib/pkg/bpblock"
)

// payloadRecordSize is the encoded size of a payload storage record (§3):
// a custody-requested flag byte, the prior custodian's EID, and the
// inbound custody ID, stored as the store.Enqueue prolog ahead of a
// delivered bundle's payload bytes so Accept can later tell whether an ACS
// is owed without re-parsing the original bundle.
const payloadRecordSize = 1 + 8 + 8 + 8

func encodePayloadRecord(custodyRequested bool, custodian bpblock.EID, cid uint64) []byte {
	rec := make([]byte, payloadRecordSize)
	if custodyRequested {
		rec[0] = 1
	}
	binary.BigEndian.PutUint64(rec[1:9], custodian.Node)
	binary.BigEndian.PutUint64(rec[9:17], custodian.Service)
	binary.BigEndian.PutUint64(rec[17:25], cid)
	return rec
}

func decodePayloadRecord(rec []byte) (custodyRequested bool, custodian bpblock.EID, cid uint64, ok bool) {
	if len(rec) < payloadRecordSize {
		return false, bpblock.EID{}, 0, false
	}
	custodyRequested = rec[0] != 0
	custodian = bpblock.EID{
		Node:    binary.BigEndian.Uint64(rec[1:9]),
		Service: binary.BigEndian.Uint64(rec[9:17]),
	}
	cid = binary.BigEndian.Uint64(rec[17:25])
	return custodyRequested, custodian, cid, true
}
