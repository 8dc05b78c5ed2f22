package channel

import (
	"context"
	"sync"

	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/bpblock"
	"github.com/samsamfire/bplib/pkg/store"
	"github.com/sirupsen/logrus"
)

// Agent owns a fixed-capacity array of channel slots (§9's "global channel
// array", made an explicit object instead of process-wide state) plus the
// store and clock collaborators every channel it opens shares.
type Agent struct {
	mu       sync.Mutex
	channels []*Channel
	store    store.Store
	clock    Clock
	logger   logrus.FieldLogger
	metrics  *Metrics
}

// SetMetrics attaches Prometheus instrumentation for every channel of this
// agent, already-open ones included: channels report to whatever metrics the
// agent holds at the time of each report. nil turns reporting off.
func (a *Agent) SetMetrics(m *Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = m
}

// NewAgent constructs an Agent with room for maxChannels simultaneously
// open channels, backed by the given store adapter.
func NewAgent(maxChannels int, backing store.Store, clock Clock) *Agent {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Agent{
		channels: make([]*Channel, maxChannels),
		store:    backing,
		clock:    clock,
		logger:   logrus.StandardLogger(),
	}
}

// SetLogger overrides the default logger for channels opened from this
// point on (already-open channels keep their own logger).
func (a *Agent) SetLogger(logger logrus.FieldLogger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger = logger
}

// Open allocates a free channel slot, three store handles, and the
// block-template/active-table/accumulator state for the (local, remote)
// endpoint pair. Returns ErrChannelsFull if every slot is occupied.
func (a *Agent) Open(localEID, remoteEID bpblock.EID) (*Channel, error) {
	return a.OpenWithOptions(localEID, remoteEID, nil)
}

// OpenWithOptions is Open, but lets the caller adjust the channel's
// defaulted Options before its header templates and accumulator are built
// (e.g. a smaller ActiveTableSize for a constrained link). configure may be
// nil.
func (a *Agent) OpenWithOptions(localEID, remoteEID bpblock.EID, configure func(*bplib.Options)) (*Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := -1
	for i, ch := range a.channels {
		if ch == nil {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, bplib.ErrChannelsFull
	}

	ctx := context.Background()
	dataHandle, err := a.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	payloadHandle, err := a.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	dacsHandle, err := a.store.Create(ctx)
	if err != nil {
		return nil, err
	}

	opts := bplib.DefaultOptions()
	opts.Source = localEID
	opts.ReportTo = localEID
	opts.Custodian = localEID
	opts.Destination = remoteEID
	if configure != nil {
		configure(&opts)
	}

	c := &Channel{
		idx:           idx,
		agent:         a,
		opts:          opts,
		dataHandle:    dataHandle,
		payloadHandle: payloadHandle,
		dacsHandle:    dacsHandle,
		active:        newActiveTable(opts.ActiveTableSize),
		logger:        a.logger,
		label:         localEID.String() + "->" + remoteEID.String(),
	}
	if _, err := c.headerSize(); err != nil {
		return nil, err
	}
	c.newAccumulator()

	a.channels[idx] = c
	return c, nil
}

// Close destroys a channel's store handles and frees its slot.
func (a *Agent) Close(c *Channel) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	ctx := context.Background()
	var firstErr error
	for _, h := range []store.Handle{c.dataHandle, c.payloadHandle, c.dacsHandle} {
		if err := a.store.Destroy(ctx, h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.idx >= 0 && c.idx < len(a.channels) && a.channels[c.idx] == c {
		a.channels[c.idx] = nil
	}
	return firstErr
}

// Tick drives every open channel's ACS rate-triggered emission (§9
// REDESIGN FLAG). Call this periodically from the convergence-layer driver.
func (a *Agent) Tick() bplib.Flags {
	a.mu.Lock()
	channels := append([]*Channel(nil), a.channels...)
	a.mu.Unlock()

	var flags bplib.Flags
	for _, c := range channels {
		if c == nil {
			continue
		}
		flags |= c.Tick()
	}
	return flags
}

// RouteInfo parses only the primary block of an encoded bundle, for
// routers that need to classify a bundle without running it through a
// channel's full Process.
func RouteInfo(buf []byte) (bpblock.EID, error) {
	return bpblock.RouteInfo(buf)
}
