package channel

import (
	"context"

	"github.com/samsamfire/bplib"
)

// Store frames payload as one or more outbound bundles and enqueues them on
// the data queue (§4.E). When fragmentation is allowed and size exceeds
// MaxFragmentLength, payload is split into fragments no larger than
// MaxFragmentLength, each carrying its own fragment offset and the whole
// ADU's total length.
func (c *Channel) Store(ctx context.Context, payload []byte, timeoutMs int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.storePayload(ctx, payload, timeoutMs)
}

// storePayload is Store's body without the lock, so callers already holding
// c.mu (e.g. Process, when forwarding a bundle onward) can reuse it.
func (c *Channel) storePayload(ctx context.Context, payload []byte, timeoutMs int) error {
	total := len(payload)
	if !c.opts.AllowFragment || total <= c.opts.MaxFragmentLength {
		return c.storeOne(ctx, payload, 0, 0, timeoutMs)
	}

	for offset := 0; offset < total; offset += c.opts.MaxFragmentLength {
		end := offset + c.opts.MaxFragmentLength
		if end > total {
			end = total
		}
		if err := c.storeOne(ctx, payload[offset:end], uint64(offset), uint64(total), timeoutMs); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) storeOne(ctx context.Context, fragment []byte, fragOffset, totalADU uint64, timeoutMs int) error {
	if len(fragment) > c.opts.MaxBundleLength {
		return bplib.ErrBundleTooLarge
	}

	h, err := c.buildHeader(len(fragment), fragOffset, totalADU)
	if err != nil {
		return err
	}

	seconds, nanos := c.opts.CreationSeconds, c.opts.CreationNanos
	if c.opts.UseSystemTime {
		seconds, nanos = c.agent.clock.Now()
	}
	c.seq++
	if _, err := h.primary.PatchCreation(h.buf, seconds, nanos, c.seq); err != nil {
		return err
	}
	if _, err := h.bib.Update(h.buf, fragment); err != nil {
		return err
	}
	if _, err := h.payload.Update(h.buf, len(fragment)); err != nil {
		return err
	}

	if err := c.agent.store.Enqueue(ctx, c.dataHandle, h.buf[:h.size], fragment, timeoutMs); err != nil {
		return bplib.ErrFailedStore
	}
	return nil
}
