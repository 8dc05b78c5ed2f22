package bpblock

import (
	"errors"

	"github.com/samsamfire/bplib/pkg/sdnv"
)

// ErrBlockLengthMismatch is returned by Read when the decoded block length
// disagrees with the number of bytes actually consumed.
var ErrBlockLengthMismatch = errors.New("bpblock: primary block length mismatch")

// ErrUnsupportedVersion flags a primary block whose version this agent
// does not implement.
var ErrUnsupportedVersion = errors.New("bpblock: unsupported bundle version")

// Version is the only Bundle Protocol version this agent speaks.
const Version uint8 = 6

// PCF is the Processing Control Flags field of the primary block, itself
// encoded on the wire as an SDNV (RFC 5050 §4.2).
type PCF uint64

const (
	PCFIsFragment     PCF = 1 << 0
	PCFIsAdminRecord  PCF = 1 << 1
	PCFMustNotFrag    PCF = 1 << 2
	PCFRequestCustody PCF = 1 << 3
	PCFSingleton      PCF = 1 << 4
	PCFAckRequested   PCF = 1 << 5
	PCFReportDeletion PCF = 1 << 6
)

func (f PCF) IsAdminRecord() bool  { return f&PCFIsAdminRecord != 0 }
func (f PCF) RequestCustody() bool { return f&PCFRequestCustody != 0 }
func (f PCF) AllowFragment() bool  { return f&PCFMustNotFrag == 0 }
func (f PCF) ReportDeletion() bool { return f&PCFReportDeletion != 0 }
func (f PCF) IsFragment() bool     { return f&PCFIsFragment != 0 }

// PrimaryOptions configures a fresh primary block template.
type PrimaryOptions struct {
	Destination    EID
	Source         EID
	ReportTo       EID
	Custodian      EID
	Lifetime       uint64
	RequestCustody bool
	AllowFragment  bool
	ReportDeletion bool
	IsAdminRecord  bool
}

// PrimaryTemplate lays out a primary block's SDNV fields at fixed offsets.
// Init writes the full block once; Patch* calls only ever rewrite a field's
// value in place, never its offset or width (spec §3/§9).
type PrimaryTemplate struct {
	opts PrimaryOptions

	flags       sdnv.Field
	blockLength sdnv.Field

	destNode, destService     sdnv.Field
	srcNode, srcService       sdnv.Field
	reportNode, reportService sdnv.Field
	custNode, custService     sdnv.Field

	createSeconds, createNanos, createSeq sdnv.Field
	lifetime                              sdnv.Field
	dictLen                               sdnv.Field
	fragOffset, totalADULen               sdnv.Field

	size int
}

// NewPrimaryTemplate lays out and writes a fresh primary block into buf,
// returning the finished template and the block's total size in bytes.
// buf must be large enough to hold the block; callers size it from the
// channel's max-bundle-length option.
func NewPrimaryTemplate(buf []byte, opts PrimaryOptions) (*PrimaryTemplate, int, error) {
	t := &PrimaryTemplate{opts: opts}

	idx := 1 // buf[0] is the version byte, written directly (not an SDNV)
	t.flags = sdnv.NewField(idx, uint64(computeFlags(opts)), 2)
	idx = t.flags.End()
	t.blockLength = sdnv.Field{Index: idx, Width: 2}
	idx = t.blockLength.End()

	t.destNode = sdnv.NewField(idx, opts.Destination.Node, 4)
	idx = t.destNode.End()
	t.destService = sdnv.NewField(idx, opts.Destination.Service, 2)
	idx = t.destService.End()

	t.srcNode = sdnv.NewField(idx, opts.Source.Node, 4)
	idx = t.srcNode.End()
	t.srcService = sdnv.NewField(idx, opts.Source.Service, 2)
	idx = t.srcService.End()

	t.reportNode = sdnv.NewField(idx, opts.ReportTo.Node, 4)
	idx = t.reportNode.End()
	t.reportService = sdnv.NewField(idx, opts.ReportTo.Service, 2)
	idx = t.reportService.End()

	t.custNode = sdnv.NewField(idx, opts.Custodian.Node, 4)
	idx = t.custNode.End()
	t.custService = sdnv.NewField(idx, opts.Custodian.Service, 2)
	idx = t.custService.End()

	// 5 bytes (35 value bits, ~34 billion) rather than 4: seconds since the
	// DTN epoch (2000-01-01) already exceeds a 28-bit field's range today.
	t.createSeconds = sdnv.NewField(idx, 0, 5)
	idx = t.createSeconds.End()
	t.createNanos = sdnv.NewField(idx, 0, 5)
	idx = t.createNanos.End()
	t.createSeq = sdnv.NewField(idx, 0, 4)
	idx = t.createSeq.End()

	t.lifetime = sdnv.NewField(idx, opts.Lifetime, 4)
	idx = t.lifetime.End()

	t.dictLen = sdnv.NewField(idx, 0, 1) // always 0: compressed form, no dictionary
	idx = t.dictLen.End()

	if opts.AllowFragment {
		t.fragOffset = sdnv.NewField(idx, 0, 4)
		idx = t.fragOffset.End()
		t.totalADULen = sdnv.NewField(idx, 0, 4)
		idx = t.totalADULen.End()
	} else {
		t.fragOffset = sdnv.ZeroField(idx)
		t.totalADULen = sdnv.ZeroField(idx)
	}

	t.size = idx
	if len(buf) < t.size {
		return nil, 0, sdnv.ErrShortBuffer
	}

	// Block length counts only the bytes following the block-length field
	// itself; since all widths are now fixed this value never changes again.
	t.blockLength.Value = uint64(t.size - t.blockLength.End())

	buf[0] = Version
	for _, f := range []sdnv.Field{
		t.flags, t.blockLength,
		t.destNode, t.destService, t.srcNode, t.srcService,
		t.reportNode, t.reportService, t.custNode, t.custService,
		t.createSeconds, t.createNanos, t.createSeq,
		t.lifetime, t.dictLen, t.fragOffset, t.totalADULen,
	} {
		if _, err := f.Encode(buf); err != nil {
			return nil, 0, err
		}
	}
	return t, t.size, nil
}

func computeFlags(opts PrimaryOptions) PCF {
	var f PCF
	if opts.RequestCustody {
		f |= PCFRequestCustody
	}
	if !opts.AllowFragment {
		f |= PCFMustNotFrag
	}
	if opts.ReportDeletion {
		f |= PCFReportDeletion
	}
	if opts.IsAdminRecord {
		f |= PCFIsAdminRecord
	}
	f |= PCFSingleton
	return f
}

// Size returns the fixed size in bytes of this primary block.
func (t *PrimaryTemplate) Size() int { return t.size }

// PatchCreation updates the creation timestamp and sequence in place.
func (t *PrimaryTemplate) PatchCreation(buf []byte, seconds, nanos, seq uint64) (overflow bool, err error) {
	var o bool
	if o, err = t.createSeconds.Patch(buf, seconds); err != nil {
		return false, err
	}
	overflow = overflow || o
	if o, err = t.createNanos.Patch(buf, nanos); err != nil {
		return false, err
	}
	overflow = overflow || o
	if o, err = t.createSeq.Patch(buf, seq); err != nil {
		return false, err
	}
	overflow = overflow || o
	return overflow, nil
}

// PatchIsFragment sets or clears the is-fragment processing flag in place.
// Unlike the other flag bits, this one varies per bundle rather than per
// channel: a channel with fragmentation allowed still sends plenty of
// bundles short enough to need no fragmenting at all.
func (t *PrimaryTemplate) PatchIsFragment(buf []byte, isFragment bool) (overflow bool, err error) {
	f := PCF(t.flags.Value)
	if isFragment {
		f |= PCFIsFragment
	} else {
		f &^= PCFIsFragment
	}
	return t.flags.Patch(buf, uint64(f))
}

// PatchFragment updates fragment offset and total ADU length in place. It
// is a no-op (returns false, nil) when the template was built with
// AllowFragment=false, matching the corrected behavior from the REDESIGN
// FLAG in spec §9: fragment fields are only ever written when fragmentation
// is actually enabled for this channel.
func (t *PrimaryTemplate) PatchFragment(buf []byte, offset, totalLen uint64) (overflow bool, err error) {
	if !t.opts.AllowFragment {
		return false, nil
	}
	var o bool
	if o, err = t.fragOffset.Patch(buf, offset); err != nil {
		return false, err
	}
	overflow = overflow || o
	if o, err = t.totalADULen.Patch(buf, totalLen); err != nil {
		return false, err
	}
	overflow = overflow || o
	return overflow, nil
}

// Primary is the decoded, logical view of a primary block.
type Primary struct {
	Version          uint8
	Flags            PCF
	Destination      EID
	Source           EID
	ReportTo         EID
	Custodian        EID
	CreateSeconds    uint64
	CreateNanos      uint64
	CreateSeq        uint64
	Lifetime         uint64
	DictionaryLength uint64
	FragmentOffset   uint64
	TotalADULength   uint64
	Size             int
}

// ReadPrimary decodes a primary block from buf, which may use any SDNV
// widths the originating node chose (SDNV is self-delimiting on the wire;
// only the sender's own buffer needs fixed offsets). It returns the decoded
// block and the number of bytes consumed.
func ReadPrimary(buf []byte) (Primary, int, error) {
	var p Primary
	if len(buf) < 1 {
		return p, 0, sdnv.ErrShortBuffer
	}
	p.Version = buf[0]
	if p.Version != Version {
		return p, 0, ErrUnsupportedVersion
	}
	idx := 1

	flagsVal, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return p, 0, err
	}
	p.Flags = PCF(flagsVal)
	idx += n

	blockLen, n, err := sdnv.Read(buf[idx:])
	if err != nil {
		return p, 0, err
	}
	idx += n
	bodyStart := idx

	read := func() (uint64, error) {
		v, n, err := sdnv.Read(buf[idx:])
		if err != nil {
			return 0, err
		}
		idx += n
		return v, nil
	}

	var e error
	get := func(dst *uint64) {
		if e != nil {
			return
		}
		*dst, e = read()
	}
	get(&p.Destination.Node)
	get(&p.Destination.Service)
	get(&p.Source.Node)
	get(&p.Source.Service)
	get(&p.ReportTo.Node)
	get(&p.ReportTo.Service)
	get(&p.Custodian.Node)
	get(&p.Custodian.Service)
	get(&p.CreateSeconds)
	get(&p.CreateNanos)
	get(&p.CreateSeq)
	get(&p.Lifetime)
	get(&p.DictionaryLength)
	if e != nil {
		return p, 0, e
	}
	if p.Flags.IsFragment() {
		get(&p.FragmentOffset)
		get(&p.TotalADULength)
		if e != nil {
			return p, 0, e
		}
	}

	consumed := idx - bodyStart
	if uint64(consumed) != blockLen {
		return p, 0, ErrBlockLengthMismatch
	}
	p.Size = idx
	return p, idx, nil
}

// RouteInfo parses only the primary block of buf and returns the
// destination EID, for routers that need to classify a bundle without
// running it through full processing.
func RouteInfo(buf []byte) (EID, error) {
	p, _, err := ReadPrimary(buf)
	if err != nil {
		return EID{}, err
	}
	return p.Destination, nil
}
