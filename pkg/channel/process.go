package channel

import (
	"context"

	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/acs"
	"github.com/samsamfire/bplib/pkg/bpblock"
	"github.com/samsamfire/bplib/pkg/sdnv"
)

// Process accepts one inbound encoded bundle (§4.E): it validates the
// primary block, walks the extension-block chain by block-type byte,
// verifies the BIB's CRC over the payload, and then dispatches on the
// decoded primary: an ACS admin record retires the matching active-table
// entries, a bundle destined elsewhere is forwarded, and a bundle destined here is
// enqueued on the payload queue with its custody-requested flag and
// custodian recorded alongside it — the custody acknowledgement itself is
// deferred to Accept, once the application has actually taken delivery.
func (c *Channel) Process(ctx context.Context, data []byte, timeoutMs int, flags *bplib.Flags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	primary, n, err := bpblock.ReadPrimary(data)
	if err != nil {
		return bplib.ErrBundleParse
	}

	nowSeconds, nowNanos := c.agent.clock.Now()
	if primary.CreateSeconds+primary.Lifetime < nowSeconds {
		return bplib.ErrExpired
	}
	if c.opts.AdminOnly && !primary.Flags.IsAdminRecord() {
		return bplib.ErrIgnore
	}
	if primary.Flags.IsFragment() {
		return bplib.ErrUnsupported
	}
	if primary.DictionaryLength != 0 {
		return bplib.ErrUnsupported
	}

	var (
		cteb         *bpblock.CTEB
		bib          *bpblock.BIB
		payloadData  []byte
		foundPayload bool
	)

	idx := n
	for idx < len(data) {
		switch data[idx] {
		case bpblock.CTEBBlockType:
			v, sz, err := bpblock.ReadCTEB(data[idx:])
			if err != nil {
				return bplib.ErrBundleParse
			}
			cteb = &v
			idx += sz

		case bpblock.BIBBlockType:
			v, sz, err := bpblock.ReadBIB(data[idx:])
			if err != nil {
				return bplib.ErrBundleParse
			}
			bib = &v
			idx += sz

		case bpblock.PayloadBlockType:
			p, sz, err := bpblock.ReadPayloadPrelude(data[idx:])
			if err != nil {
				return bplib.ErrBundleParse
			}
			bodyStart := idx + sz
			bodyEnd := bodyStart + int(p.Length)
			if bodyEnd > len(data) {
				return bplib.ErrBundleParse
			}
			payloadData = data[bodyStart:bodyEnd]
			foundPayload = true
			idx = bodyEnd
			if idx != len(data) {
				return bpblock.ErrNotLastBlock
			}

		default:
			blockFlags, sz, err := skipUnknownBlock(data[idx:])
			if err != nil {
				return bplib.ErrBundleParse
			}
			if blockFlags&bpblock.BlockDeleteIfNoProc != 0 {
				return bplib.ErrDropped
			}
			if flags != nil {
				*flags |= bplib.FlagIncomplete
			}
			idx += sz
		}
	}

	if !foundPayload {
		return bplib.ErrBundleParse
	}
	if bib != nil && !bib.Verify(payloadData) {
		return bplib.ErrBundleParse
	}

	if primary.Flags.IsAdminRecord() {
		return c.processAdminRecord(ctx, payloadData, flags)
	}

	if primary.Destination.Node != c.opts.Source.Node {
		if !primary.Flags.RequestCustody() {
			cteb = nil // no custody requested: forward the received bytes as-is
		}
		return c.forward(ctx, data, payloadData, cteb, nowSeconds, nowNanos, timeoutMs, flags)
	}
	if primary.Destination.Service != c.opts.Source.Service {
		return bplib.ErrWrongChannel
	}

	custodyRequested := cteb != nil && primary.Flags.RequestCustody()
	var custodian bpblock.EID
	var cid uint64
	if custodyRequested {
		custodian, cid = cteb.Custodian, cteb.CID
	}
	record := encodePayloadRecord(custodyRequested, custodian, cid)
	if err := c.agent.store.Enqueue(ctx, c.payloadHandle, record, payloadData, timeoutMs); err != nil {
		return bplib.ErrFailedStore
	}
	return nil
}

// forward re-routes a bundle whose destination node is not this channel's
// local node (§4.E "destination is not ours"). cteb is non-nil only when the
// inbound bundle carries a CTEB and requested custody; then this channel takes local custody of
// the payload (framed as a fresh outbound bundle under its own header) and
// reports delivered=false against the prior custodian's ACS; otherwise the
// received bytes carry no custody information to act on, so they are
// queued for retransmission exactly as received.
func (c *Channel) forward(ctx context.Context, data, payloadData []byte, cteb *bpblock.CTEB, nowSeconds, nowNanos uint64, timeoutMs int, flags *bplib.Flags) error {
	if cteb != nil {
		if err := c.storePayload(ctx, payloadData, timeoutMs); err != nil {
			return err
		}
		acsFlags, err := c.accumulator.Update(c.agent.clock.MonoNanos(), nowSeconds, nowNanos, cteb.CID, cteb.Custodian, false)
		if err != nil && flags != nil {
			*flags |= bplib.FlagStoreFail
		}
		if flags != nil {
			*flags |= mapACSFlags(acsFlags)
		}
		c.agent.metrics.setAccumulatorDepth(c.label, c.accumulator.Len())
		return nil
	}

	if err := c.agent.store.Enqueue(ctx, c.dataHandle, nil, data, timeoutMs); err != nil {
		return bplib.ErrFailedStore
	}
	return nil
}

// processAdminRecord dispatches on the record-type byte carried by an
// administrative-record bundle's payload. The only type this agent
// understands is the ACS; anything else (custody signals, status reports)
// is an unsupported record (spec Non-goal).
func (c *Channel) processAdminRecord(ctx context.Context, payload []byte, flags *bplib.Flags) error {
	if len(payload) < 1 {
		return bplib.ErrBundleParse
	}
	if bpblock.AdminRecordType(payload[0]) != bpblock.ACSRecordType {
		return bplib.ErrUnknownRecord
	}

	rec, err := acs.DecodeRecord(payload)
	if err != nil {
		return bplib.ErrBundleParse
	}

	for _, cid := range rec.ExpandCIDs() {
		slot := c.active.get(cid)
		if !slot.occupied {
			continue
		}
		if err := c.agent.store.Relinquish(ctx, c.dataHandle, slot.storageID); err != nil && flags != nil {
			*flags |= bplib.FlagStoreFail
		}
		c.active.vacate(cid)
		if cid == c.oldestCID {
			c.oldestCID++
		}
	}
	c.agent.metrics.setActiveTableDepth(c.label, c.active.occupiedCount())
	return nil
}

// skipUnknownBlock parses just enough of a canonical extension block
// (type | flags-sdnv | length-sdnv | body) to skip over it, without
// knowing its internal layout. Every block this agent emits (CTEB, BIB,
// Payload) shares this envelope, so an inbound block this agent does not
// recognize can still be located and stepped over.
func skipUnknownBlock(buf []byte) (bpblock.BlockFlag, int, error) {
	if len(buf) < 1 {
		return 0, 0, sdnv.ErrShortBuffer
	}
	idx := 1
	flagsVal, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return 0, 0, err
	}
	idx += n

	blockLen, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return 0, 0, err
	}
	idx += n

	end := idx + int(blockLen)
	if end > len(buf) {
		return 0, 0, sdnv.ErrShortBuffer
	}
	return bpblock.BlockFlag(flagsVal), end, nil
}
