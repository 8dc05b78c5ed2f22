package channel

import (
	"context"
	"errors"

	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/store"
)

// Accept delivers the next payload this channel has received to the
// caller (§4.E), copying it into out. A too-small out buffer leaves the
// record pending: the next Accept call retries the same record by its
// StorageID rather than dequeuing (and thereby skipping) the one after it.
// On success, if the delivered record was custody-requested, this invokes
// the ACS accumulator with delivered=true (§3/§4.E) — the custody
// acknowledgement is owed only once the application has actually taken the
// payload, not merely once Process has queued it.
func (c *Channel) Accept(ctx context.Context, out []byte, timeoutMs int, flags *bplib.Flags) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	var (
		rec []byte
		id  store.StorageID
		err error
	)
	if c.pendingAccept {
		id = c.pendingAcceptID
		rec, err = c.agent.store.Retrieve(ctx, c.payloadHandle, id, timeoutMs)
	} else {
		rec, id, err = c.agent.store.Dequeue(ctx, c.payloadHandle, timeoutMs)
	}
	if err != nil {
		if errors.Is(err, store.ErrTimeout) {
			return 0, bplib.ErrTimeout
		}
		return 0, bplib.ErrFailedStore
	}

	custodyRequested, custodian, cid, ok := decodePayloadRecord(rec)
	if !ok {
		return 0, bplib.ErrBundleParse
	}
	data := rec[payloadRecordSize:]

	if len(data) > len(out) {
		c.pendingAccept = true
		c.pendingAcceptID = id
		return 0, bplib.ErrPayloadTooLarge
	}

	n := copy(out, data)
	if err := c.agent.store.Relinquish(ctx, c.payloadHandle, id); err != nil {
		if flags != nil {
			*flags |= bplib.FlagStoreFail
		}
		return n, bplib.ErrFailedStore
	}
	c.pendingAccept = false

	if custodyRequested {
		nowSeconds, nowNanos := c.agent.clock.Now()
		acsFlags, err := c.accumulator.Update(c.agent.clock.MonoNanos(), nowSeconds, nowNanos, cid, custodian, true)
		if err != nil && flags != nil {
			*flags |= bplib.FlagStoreFail
		}
		if flags != nil {
			*flags |= mapACSFlags(acsFlags)
		}
		c.agent.metrics.setAccumulatorDepth(c.label, c.accumulator.Len())
	}
	return n, nil
}
