package channel

import (
	"github.com/samsamfire/bplib/pkg/bpblock"
)

// bundleHeader is one bundle's own header buffer and the templates needed
// to patch it (CID assignment, retransmit CRC refresh is not needed since
// BIB is computed once against the final payload at Store time). Built
// fresh per outbound bundle (§3 "Data storage record": header buffer plus
// offsets, one per stored bundle), since BIB/CTEB/length values differ per
// bundle even though their layout is identical for a given channel config.
type bundleHeader struct {
	buf     []byte
	primary *bpblock.PrimaryTemplate
	cteb    *bpblock.CTEBTemplate // nil if this channel does not request custody
	bib     *bpblock.BIBTemplate
	payload *bpblock.PayloadTemplate
	size    int // header size only, excluding payload bytes
}

// buildHeader lays out a fresh Primary [+ CTEB] + BIB + Payload-prelude
// header into a new buffer sized to maxBundleLength, for a bundle (or
// fragment) carrying payloadLen bytes.
func (c *Channel) buildHeader(payloadLen int, fragOffset, totalADU uint64) (*bundleHeader, error) {
	buf := make([]byte, c.opts.MaxBundleLength)

	primary, idx, err := bpblock.NewPrimaryTemplate(buf, bpblock.PrimaryOptions{
		Destination:    c.opts.Destination,
		Source:         c.opts.Source,
		ReportTo:       c.opts.ReportTo,
		Custodian:      c.opts.Custodian,
		Lifetime:       c.opts.Lifetime,
		RequestCustody: c.opts.RequestCustody,
		AllowFragment:  c.opts.AllowFragment,
		ReportDeletion: c.opts.ReportDeletion,
	})
	if err != nil {
		return nil, err
	}
	if _, err := primary.PatchFragment(buf, fragOffset, totalADU); err != nil {
		return nil, err
	}
	if _, err := primary.PatchIsFragment(buf, totalADU > 0); err != nil {
		return nil, err
	}

	h := &bundleHeader{buf: buf, primary: primary}

	if c.opts.RequestCustody {
		cteb, n, err := bpblock.NewCTEBTemplate(buf, idx, c.opts.Custodian)
		if err != nil {
			return nil, err
		}
		h.cteb = cteb
		idx += n
	}

	bib, n, err := bpblock.NewBIBTemplate(buf, idx, c.opts.PayloadCRCType)
	if err != nil {
		return nil, err
	}
	h.bib = bib
	idx += n

	payloadTmpl, err := bpblock.NewPayloadTemplate(buf, idx, payloadLen)
	if err != nil {
		return nil, err
	}
	h.payload = payloadTmpl
	idx += bpblock.PreludeSize

	h.size = idx
	return h, nil
}

// headerSize reports the fixed header size for this channel's current
// options. Open and SetOpt call it to check that a header can be laid out
// within MaxBundleLength; they do not use the returned size.
func (c *Channel) headerSize() (int, error) {
	h, err := c.buildHeader(0, 0, 0)
	if err != nil {
		return 0, err
	}
	return h.size, nil
}
