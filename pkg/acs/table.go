package acs

import "github.com/samsamfire/bplib/pkg/bpblock"

// MaxFill is the largest value a single fill-run may hold (14 bits); an
// ACS is finalized before any run would need to exceed it (spec §3).
const MaxFill = 0x3FFF

// Flags are advisory diagnostic bits, OR-ed into the caller's flag word
// (spec §6/§7) rather than returned as a fatal error.
type Flags uint32

const (
	FlagTooManySources Flags = 1 << iota
	FlagCIDWentBackwards
	FlagTooManyFills
	FlagFillOverflow
	FlagUnableToStore
)

// DACSHeader is a pre-built DACS bundle header: a primary block (with
// IsAdminRecord set) followed by a BIB and a payload-block prelude, all
// templated against a single backing buffer.
type DACSHeader struct {
	Buf     []byte
	Primary *bpblock.PrimaryTemplate
	BIB     *bpblock.BIBTemplate
	Payload *bpblock.PayloadTemplate
}

// HeaderBuilder constructs a DACSHeader for a newly tracked custodian.
// Supplied by the channel engine, which owns the local/source/report-to
// EIDs and the channel's CRC-type option.
type HeaderBuilder func(custodian bpblock.EID) (*DACSHeader, error)

// Enqueuer hands a finished DACS bundle (header || payload) to the store's
// DACS queue.
type Enqueuer func(header []byte, payload []byte) error

// SeqFunc returns the next creation-sequence number for outbound DACS
// bundles on this channel.
type SeqFunc func() uint64

type entry struct {
	custodian bpblock.EID
	firstCID  uint64
	lastCID   uint64
	numCIDs   uint64
	fills     []uint64
	active    bool   // false once reinitialized empty; distinguishes a legitimate started==0 from "no run in progress"
	started   uint64 // nanoseconds since DTN epoch the current run began
	delivered bool
	header    *DACSHeader
}

// Table is the per-channel ACS accumulator: one entry per custodian
// currently being acknowledged, each holding the fill-run state described
// in spec §3/§4.D.
type Table struct {
	maxSources int
	maxFills   int
	rateNanos  uint64
	build      HeaderBuilder
	enqueue    Enqueuer
	nextSeq    SeqFunc
	entries    []*entry
}

// NewTable constructs an accumulator table bounded to maxSources
// simultaneously-tracked custodians and maxFills entries per fill array.
func NewTable(maxSources, maxFills int, rateNanos uint64, build HeaderBuilder, enqueue Enqueuer, nextSeq SeqFunc) *Table {
	return &Table{
		maxSources: maxSources,
		maxFills:   maxFills,
		rateNanos:  rateNanos,
		build:      build,
		enqueue:    enqueue,
		nextSeq:    nextSeq,
	}
}

func (t *Table) find(custodian bpblock.EID) *entry {
	for _, e := range t.entries {
		if e.custodian == custodian {
			return e
		}
	}
	return nil
}

// Update folds one inbound custody acknowledgement (cid, custodian) into
// the accumulator table, per the state machine in spec §4.D.
func (t *Table) Update(nowNanos, createSeconds, createNanos uint64, cid uint64, custodian bpblock.EID, delivered bool) (Flags, error) {
	e := t.find(custodian)
	if e == nil {
		if len(t.entries) >= t.maxSources {
			return FlagTooManySources, nil
		}
		header, err := t.build(custodian)
		if err != nil {
			return 0, err
		}
		e = &entry{custodian: custodian, header: header}
		t.entries = append(t.entries, e)
	}
	e.delivered = delivered

	var flags Flags
	switch {
	case e.numCIDs == 0:
		// fills always alternates (gap, run) starting with a gap, which is
		// 0 here since firstCID is itself the start of the first run.
		e.firstCID = cid
		e.lastCID = cid
		e.fills = []uint64{0, 1}
		e.numCIDs = 1
		e.started = nowNanos
		e.active = true

	case cid <= e.lastCID:
		// Per spec §4.D this must not mutate run state.
		flags |= FlagCIDWentBackwards

	default:
		gap := cid - e.lastCID - 1
		e.lastCID = cid
		e.numCIDs++
		last := len(e.fills) - 1
		switch {
		case gap == 0 && e.fills[last] < MaxFill:
			e.fills[last]++
		case gap < MaxFill:
			if len(e.fills)+2 > t.maxFills {
				flags |= FlagTooManyFills
			} else {
				e.fills = append(e.fills, gap, 1)
			}
		default:
			flags |= FlagFillOverflow
		}
	}

	if flags&(FlagTooManyFills|FlagFillOverflow) != 0 {
		if err := t.finalize(e, createSeconds, createNanos); err != nil {
			flags |= FlagUnableToStore
		}
		e.firstCID = cid
		e.lastCID = cid
		e.fills = []uint64{0, 1}
		e.numCIDs = 1
		e.started = nowNanos
		e.active = true
	}
	return flags, nil
}

// Tick finalizes any accumulator whose first CID was recorded at least
// the configured ACS rate ago, emitting a partial ACS covering whatever
// fills have accumulated so far. This implements the REDESIGN FLAG from
// spec §9: rate-triggered emission, corrected from the source's dead
// rate_ms option.
func (t *Table) Tick(nowNanos, createSeconds, createNanos uint64) Flags {
	var flags Flags
	for _, e := range t.entries {
		if e.numCIDs == 0 || !e.active {
			continue
		}
		if nowNanos-e.started < t.rateNanos {
			continue
		}
		if err := t.finalize(e, createSeconds, createNanos); err != nil {
			flags |= FlagUnableToStore
		}
		e.numCIDs = 0
		e.fills = nil
		e.started = 0
		e.active = false
	}
	return flags
}

func (t *Table) finalize(e *entry, createSeconds, createNanos uint64) error {
	payload, err := EncodeRecord(e.delivered, e.firstCID, e.fills)
	if err != nil {
		return err
	}
	if _, err := e.header.BIB.Update(e.header.Buf, payload); err != nil {
		return err
	}
	if _, err := e.header.Payload.Update(e.header.Buf, len(payload)); err != nil {
		return err
	}
	seq := uint64(0)
	if t.nextSeq != nil {
		seq = t.nextSeq()
	}
	if _, err := e.header.Primary.PatchCreation(e.header.Buf, createSeconds, createNanos, seq); err != nil {
		return err
	}
	return t.enqueue(e.header.Buf, payload)
}

// Len reports the number of custodians currently tracked.
func (t *Table) Len() int { return len(t.entries) }
