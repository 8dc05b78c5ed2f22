// Package channel implements the channel engine (§4.E): one Channel per
// local/remote endpoint pair, the active custody table, and the
// open/setopt/getopt/store/load/process/accept/close/tick state machine.
// Agent is the fixed-size "global channel array" of spec §9, made an
// explicit owned object instead of process-wide state.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/acs"
	"github.com/samsamfire/bplib/pkg/bpblock"
	"github.com/samsamfire/bplib/pkg/store"
	"github.com/sirupsen/logrus"
)

// Channel is one open endpoint pair's state: block templates (rebuilt per
// bundle from current options, see header.go), the active custody table,
// the inbound ACS accumulator, and the three store handles backing its
// data/payload/DACS queues.
type Channel struct {
	mu sync.Mutex

	idx    int
	agent  *Agent
	closed bool
	label  string // "<source>-><destination>", used as the metrics label

	opts bplib.Options

	dataHandle    store.Handle
	payloadHandle store.Handle
	dacsHandle    store.Handle

	active    *activeTable
	currentCID uint64
	oldestCID  uint64
	seq        uint64

	// pendingAccept holds the StorageID of a payload-queue record that was
	// already dequeued but didn't fit the caller's buffer, so Accept can
	// retry it by id instead of losing its place in the queue.
	pendingAccept   bool
	pendingAcceptID store.StorageID

	accumulator *acs.Table

	logger logrus.FieldLogger
}

// SetLogger overrides this channel's logger.
func (c *Channel) SetLogger(logger logrus.FieldLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// Index returns this channel's slot index within its Agent.
func (c *Channel) Index() int { return c.idx }

func (c *Channel) checkOpen() error {
	if c.closed {
		return bplib.ErrInvalidChannel
	}
	return nil
}

// newAccumulator (re)builds the ACS accumulator table bound to this
// channel's current options; called at open and whenever a header-relevant
// option changes (mirrors the "outbound header is reinitialized" rule,
// applied to the DACS header template).
func (c *Channel) newAccumulator() {
	build := func(custodian bpblock.EID) (*acs.DACSHeader, error) {
		buf := make([]byte, c.opts.MaxBundleLength)
		primary, idx, err := bpblock.NewPrimaryTemplate(buf, bpblock.PrimaryOptions{
			Destination:   custodian,
			Source:        c.opts.Source,
			ReportTo:      c.opts.ReportTo,
			Custodian:     c.opts.Custodian,
			Lifetime:      c.opts.Lifetime,
			IsAdminRecord: true,
		})
		if err != nil {
			return nil, err
		}
		bib, n, err := bpblock.NewBIBTemplate(buf, idx, c.opts.PayloadCRCType)
		if err != nil {
			return nil, err
		}
		idx += n
		payload, err := bpblock.NewPayloadTemplate(buf, idx, 0)
		if err != nil {
			return nil, err
		}
		return &acs.DACSHeader{Buf: buf[:idx+bpblock.PreludeSize], Primary: primary, BIB: bib, Payload: payload}, nil
	}

	enqueue := func(header, payload []byte) error {
		ctx := context.Background()
		if err := c.agent.store.Enqueue(ctx, c.dacsHandle, header, payload, 0); err != nil {
			return err
		}
		c.agent.metrics.recordACSEmitted(c.label)
		return nil
	}

	nextSeq := func() uint64 {
		c.seq++
		return c.seq
	}

	c.accumulator = acs.NewTable(c.opts.MaxAccumulators, c.opts.MaxFills, c.opts.ACSRateMs*uint64(1e6), build, enqueue, nextSeq)
}

// SetOpt applies one typed option. After any option affecting the outbound
// header, the header template state (effectively just c.opts, consulted
// fresh by buildHeader on every Store call) and the ACS accumulator's DACS
// header builder are reinitialized (§4.E).
func (c *Channel) SetOpt(id bplib.OptionID, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	headerAffecting := true
	switch id {
	case bplib.OptDestinationNode:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.Destination.Node = v
	case bplib.OptDestinationService:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.Destination.Service = v
	case bplib.OptSourceNode:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.Source.Node = v
	case bplib.OptSourceService:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.Source.Service = v
	case bplib.OptReportToNode:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.ReportTo.Node = v
	case bplib.OptReportToService:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.ReportTo.Service = v
	case bplib.OptCustodianNode:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.Custodian.Node = v
	case bplib.OptCustodianService:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.Custodian.Service = v
	case bplib.OptLifetime:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.Lifetime = v
	case bplib.OptRequestCustody:
		v, ok := value.(bool)
		if !ok {
			return bplib.ErrParm
		}
		c.opts.RequestCustody = v
	case bplib.OptAllowFragment:
		v, ok := value.(bool)
		if !ok {
			return bplib.ErrParm
		}
		c.opts.AllowFragment = v
	case bplib.OptReportDeletion:
		v, ok := value.(bool)
		if !ok {
			return bplib.ErrParm
		}
		c.opts.ReportDeletion = v
	case bplib.OptPayloadCRCType:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.PayloadCRCType = bpblock.CRCType(v)

	// Options below do not change header layout.
	case bplib.OptUseSystemTime:
		v, ok := value.(bool)
		if !ok {
			return bplib.ErrParm
		}
		c.opts.UseSystemTime = v
		headerAffecting = false
	case bplib.OptCreationSeconds:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.CreationSeconds = v
		headerAffecting = false
	case bplib.OptCreationNanos:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.CreationNanos = v
		headerAffecting = false
	case bplib.OptSequence:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.Sequence = v
		c.seq = v
		headerAffecting = false
	case bplib.OptTimeout:
		v, err := asInt(value)
		if err != nil {
			return err
		}
		c.opts.TimeoutMs = v
		headerAffecting = false
	case bplib.OptMaxBundleLength:
		v, err := asInt(value)
		if err != nil {
			return err
		}
		c.opts.MaxBundleLength = v
	case bplib.OptMaxFragmentLength:
		v, err := asInt(value)
		if err != nil {
			return err
		}
		c.opts.MaxFragmentLength = v
		headerAffecting = false
	case bplib.OptAdminOnly:
		v, ok := value.(bool)
		if !ok {
			return bplib.ErrParm
		}
		c.opts.AdminOnly = v
		headerAffecting = false
	case bplib.OptWrapPolicy:
		v, ok := value.(bplib.WrapPolicy)
		if !ok {
			return bplib.ErrParm
		}
		c.opts.Wrap = v
		headerAffecting = false
	case bplib.OptACSRateMs:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		c.opts.ACSRateMs = v
		// Not a header-layout change, but the accumulator table bakes the
		// rate in at construction, so it still needs rebuilding.
	default:
		return bplib.ErrParm
	}

	if headerAffecting {
		if _, err := c.headerSize(); err != nil {
			return fmt.Errorf("reinitialize header: %w", err)
		}
		c.newAccumulator()
	}
	return nil
}

// GetOpt returns the current value of one option.
func (c *Channel) GetOpt(id bplib.OptionID) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	switch id {
	case bplib.OptDestinationNode:
		return c.opts.Destination.Node, nil
	case bplib.OptDestinationService:
		return c.opts.Destination.Service, nil
	case bplib.OptSourceNode:
		return c.opts.Source.Node, nil
	case bplib.OptSourceService:
		return c.opts.Source.Service, nil
	case bplib.OptReportToNode:
		return c.opts.ReportTo.Node, nil
	case bplib.OptReportToService:
		return c.opts.ReportTo.Service, nil
	case bplib.OptCustodianNode:
		return c.opts.Custodian.Node, nil
	case bplib.OptCustodianService:
		return c.opts.Custodian.Service, nil
	case bplib.OptUseSystemTime:
		return c.opts.UseSystemTime, nil
	case bplib.OptCreationSeconds:
		return c.opts.CreationSeconds, nil
	case bplib.OptCreationNanos:
		return c.opts.CreationNanos, nil
	case bplib.OptSequence:
		return c.opts.Sequence, nil
	case bplib.OptLifetime:
		return c.opts.Lifetime, nil
	case bplib.OptRequestCustody:
		return c.opts.RequestCustody, nil
	case bplib.OptAllowFragment:
		return c.opts.AllowFragment, nil
	case bplib.OptReportDeletion:
		return c.opts.ReportDeletion, nil
	case bplib.OptPayloadCRCType:
		return c.opts.PayloadCRCType, nil
	case bplib.OptTimeout:
		return c.opts.TimeoutMs, nil
	case bplib.OptMaxBundleLength:
		return c.opts.MaxBundleLength, nil
	case bplib.OptMaxFragmentLength:
		return c.opts.MaxFragmentLength, nil
	case bplib.OptAdminOnly:
		return c.opts.AdminOnly, nil
	case bplib.OptWrapPolicy:
		return c.opts.Wrap, nil
	case bplib.OptACSRateMs:
		return c.opts.ACSRateMs, nil
	default:
		return nil, bplib.ErrParm
	}
}

func asUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case int:
		return uint64(v), nil
	case int64:
		return uint64(v), nil
	default:
		return 0, bplib.ErrParm
	}
}

func asInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	default:
		return 0, bplib.ErrParm
	}
}
