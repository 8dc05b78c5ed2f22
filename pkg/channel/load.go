package channel

import (
	"context"
	"errors"

	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/bpblock"
	"github.com/samsamfire/bplib/pkg/store"
)

// Load produces the next byte buffer this channel should transmit, in
// priority order (§4.E): a ready DACS bundle, then a retransmit candidate
// from the active table, then a fresh dequeue from the data queue (which
// assigns a custody ID and applies the wrap policy on collision). Returns
// the number of bytes written into out, or an error; BUNDLE_TOO_LARGE
// leaves the bundle pending for a later call with a bigger buffer.
func (c *Channel) Load(ctx context.Context, out []byte, timeoutMs int, flags *bplib.Flags) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	// Priority 1: a ready DACS bundle preempts everything (non-blocking dequeue).
	if data, id, err := c.agent.store.Dequeue(ctx, c.dacsHandle, 0); err == nil {
		if len(data) > len(out) {
			// Put it back on the DACS queue for a later call.
			if eerr := c.agent.store.Enqueue(ctx, c.dacsHandle, data, nil, 0); eerr != nil {
				return 0, bplib.ErrFailedStore
			}
			c.agent.store.Relinquish(ctx, c.dacsHandle, id)
			return 0, bplib.ErrBundleTooLarge
		}
		if flags != nil {
			*flags |= bplib.FlagRouteNeeded
		}
		return copy(out, data), nil
	} else if !errors.Is(err, store.ErrTimeout) {
		return 0, bplib.ErrFailedStore
	}

	// Priority 2: retransmit candidates in [oldestCID, currentCID).
	now := c.agent.clock.MonoNanos()
	for cid := c.oldestCID; cid < c.currentCID; cid++ {
		slot := c.active.get(cid)
		if !slot.occupied {
			if cid == c.oldestCID {
				c.oldestCID++
			}
			continue
		}
		if slot.retxAt > now {
			break
		}
		data, err := c.agent.store.Retrieve(ctx, c.dataHandle, slot.storageID, 0)
		if err != nil {
			// Unretrievable: never leak the slot (§7 kind 3).
			c.agent.store.Relinquish(ctx, c.dataHandle, slot.storageID)
			c.active.vacate(cid)
			if flags != nil {
				*flags |= bplib.FlagStoreFail
			}
			continue
		}
		if len(data) > len(out) {
			return 0, bplib.ErrBundleTooLarge
		}
		c.active.set(cid, slot.storageID, now+uint64(c.opts.TimeoutMs)*1e6)
		c.agent.metrics.recordRetransmit(c.label)
		return copy(out, data), nil
	}

	// Priority 3: a fresh bundle from the data queue.
	data, id, err := c.agent.store.Dequeue(ctx, c.dataHandle, timeoutMs)
	if err != nil {
		if errors.Is(err, store.ErrTimeout) {
			return 0, bplib.ErrTimeout
		}
		return 0, bplib.ErrFailedStore
	}

	if !c.opts.RequestCustody {
		// No custody tracking: nothing will ever acknowledge a CID for this
		// bundle, so don't burn an active-table slot on it. Hand it off and
		// relinquish immediately. A bundle that does not fit out goes back on
		// the data queue for a later call.
		if len(data) > len(out) {
			if eerr := c.agent.store.Enqueue(ctx, c.dataHandle, data, nil, 0); eerr != nil {
				return 0, bplib.ErrFailedStore
			}
			c.agent.store.Relinquish(ctx, c.dataHandle, id)
			return 0, bplib.ErrBundleTooLarge
		}
		n := copy(out, data)
		if err := c.agent.store.Relinquish(ctx, c.dataHandle, id); err != nil && flags != nil {
			*flags |= bplib.FlagStoreFail
		}
		return n, nil
	}

	cid := c.currentCID
	if slot := c.active.get(cid); slot.occupied {
		switch c.opts.Wrap {
		case bplib.WrapResend:
			// The new bundle isn't sent this round; re-emit the occupant and
			// put the fresh one back on the data queue for a later Load.
			occupant, rerr := c.agent.store.Retrieve(ctx, c.dataHandle, slot.storageID, 0)
			if eerr := c.agent.store.Enqueue(ctx, c.dataHandle, data, nil, 0); eerr != nil {
				return 0, bplib.ErrFailedStore
			}
			c.agent.store.Relinquish(ctx, c.dataHandle, id)
			if rerr != nil {
				return 0, bplib.ErrFailedStore
			}
			if len(occupant) > len(out) {
				return 0, bplib.ErrBundleTooLarge
			}
			c.active.set(cid, slot.storageID, now+uint64(c.opts.TimeoutMs)*1e6)
			return copy(out, occupant), nil

		case bplib.WrapBlock:
			if eerr := c.agent.store.Enqueue(ctx, c.dataHandle, data, nil, 0); eerr != nil {
				return 0, bplib.ErrFailedStore
			}
			c.agent.store.Relinquish(ctx, c.dataHandle, id)
			return 0, bplib.ErrOverflow

		case bplib.WrapDrop:
			// The occupant's own CID is cid-N (direct-mapped, N slots): CIDs
			// are assigned strictly sequentially, so nothing else can occupy
			// this slot.
			occupantCID := cid - uint64(len(c.active.slots))
			c.agent.store.Relinquish(ctx, c.dataHandle, slot.storageID)
			c.active.vacate(cid)
			if occupantCID == c.oldestCID {
				c.oldestCID++
			}
			c.agent.metrics.recordWrapDrop(c.label)
		}
	}

	if err := c.patchCIDInStoredRecord(ctx, id, data, cid); err != nil {
		return 0, err
	}

	retxAt := now + uint64(c.opts.TimeoutMs)*1e6
	c.active.set(cid, id, retxAt)
	if cid >= c.currentCID {
		c.currentCID = cid + 1
	}
	c.agent.metrics.setActiveTableDepth(c.label, c.active.occupiedCount())

	if len(data) > len(out) {
		return 0, bplib.ErrBundleTooLarge
	}
	return copy(out, data), nil
}

// patchCIDInStoredRecord patches the CTEB custody-ID SDNV in the record's
// header in place, then refreshes the record in the store so a later
// Retrieve (retransmit) sees the assigned CID. A scratch CTEBTemplate built
// against this channel's current custodian yields the correct field offset
// (sdnv.Field only carries index/width, not a buffer reference) without
// needing to keep the original per-bundle template around.
func (c *Channel) patchCIDInStoredRecord(ctx context.Context, id store.StorageID, data []byte, cid uint64) error {
	if !c.opts.RequestCustody {
		return nil
	}
	_, n, err := bpblock.ReadPrimary(data)
	if err != nil {
		return bplib.ErrBundleParse
	}
	scratch := make([]byte, len(data)-n)
	tmpl, _, err := bpblock.NewCTEBTemplate(scratch, 0, c.opts.Custodian)
	if err != nil {
		return bplib.ErrBundleParse
	}
	overflow, err := tmpl.PatchCID(data[n:], cid)
	if err != nil {
		return err
	}
	if overflow {
		return bplib.ErrBundleTooLarge
	}
	if err := c.agent.store.Refresh(ctx, c.dataHandle, id, 0, data, 0); err != nil {
		return bplib.ErrFailedStore
	}
	return nil
}
