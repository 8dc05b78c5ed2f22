package channel

import (
	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/acs"
)

// Tick drives this channel's ACS rate-triggered emission (§9 REDESIGN
// FLAG): any accumulator whose oldest unacknowledged CID was recorded at
// least the configured ACS rate ago is finalized and enqueued on the DACS
// queue, even if its fill-run array never filled.
func (c *Channel) Tick() bplib.Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}

	now := c.agent.clock.MonoNanos()
	seconds, nanos := c.opts.CreationSeconds, c.opts.CreationNanos
	if c.opts.UseSystemTime {
		seconds, nanos = c.agent.clock.Now()
	}

	return mapACSFlags(c.accumulator.Tick(now, seconds, nanos))
}

// mapACSFlags translates the accumulator's internal diagnostic bits onto
// the channel-level flag word so callers only ever deal with one Flags
// vocabulary (bplib.Flags).
func mapACSFlags(in acs.Flags) bplib.Flags {
	var out bplib.Flags
	if in&acs.FlagTooManySources != 0 {
		out |= bplib.FlagTooManySources
	}
	if in&acs.FlagCIDWentBackwards != 0 {
		out |= bplib.FlagCIDWentBackwards
	}
	if in&acs.FlagTooManyFills != 0 {
		out |= bplib.FlagTooManyFills
	}
	if in&acs.FlagFillOverflow != 0 {
		out |= bplib.FlagFillOverflow
	}
	if in&acs.FlagUnableToStore != 0 {
		out |= bplib.FlagStoreFail
	}
	return out
}
