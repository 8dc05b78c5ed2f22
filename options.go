package bplib

import "github.com/samsamfire/bplib/pkg/bpblock"

// WrapPolicy governs active-table behaviour when a custody ID's slot is
// still occupied by an unacknowledged bundle (§4.E load, §9).
type WrapPolicy int

const (
	// WrapResend retrieves and re-emits the occupant instead of overwriting it.
	WrapResend WrapPolicy = iota
	// WrapBlock refuses the new send and returns ErrOverflow.
	WrapBlock
	// WrapDrop relinquishes the occupant and reuses its slot.
	WrapDrop
)

func (w WrapPolicy) String() string {
	switch w {
	case WrapResend:
		return "resend"
	case WrapBlock:
		return "block"
	case WrapDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// OptionID names one channel option for SetOpt/GetOpt (§4.E).
type OptionID int

const (
	OptDestinationNode OptionID = iota
	OptDestinationService
	OptSourceNode
	OptSourceService
	OptReportToNode
	OptReportToService
	OptCustodianNode
	OptCustodianService
	OptUseSystemTime
	OptCreationSeconds
	OptCreationNanos
	OptSequence
	OptLifetime
	OptRequestCustody
	OptAllowFragment
	OptReportDeletion
	OptPayloadCRCType
	OptTimeout
	OptMaxBundleLength
	OptMaxFragmentLength
	OptAdminOnly
	OptWrapPolicy
	OptACSRateMs
)

// Options holds every per-channel setting addressable via SetOpt/GetOpt,
// with the defaults from spec §6.
type Options struct {
	Destination bpblock.EID
	Source      bpblock.EID
	ReportTo    bpblock.EID
	Custodian   bpblock.EID

	UseSystemTime   bool
	CreationSeconds uint64
	CreationNanos   uint64
	Sequence        uint64
	Lifetime        uint64

	RequestCustody bool
	AllowFragment  bool
	ReportDeletion bool

	PayloadCRCType bpblock.CRCType

	TimeoutMs        int
	MaxBundleLength  int
	MaxFragmentLength int
	AdminOnly        bool
	Wrap             WrapPolicy
	ACSRateMs        uint64

	// ActiveTableSize is N, the active table's fixed slot count (§3/§9).
	// Not addressable via SetOpt/GetOpt; fixed at Open time.
	ActiveTableSize int
	// MaxAccumulators bounds the number of custodians an ACS accumulator
	// table tracks simultaneously (§4.D).
	MaxAccumulators int
	// MaxFills bounds the fill-run array length per accumulator (§4.D).
	MaxFills int
}

// DefaultOptions returns the channel defaults enumerated in spec §6.
func DefaultOptions() Options {
	return Options{
		UseSystemTime:     true,
		Lifetime:          3600,
		AllowFragment:     false,
		PayloadCRCType:    bpblock.CRC16,
		TimeoutMs:         10_000,
		MaxBundleLength:   4096,
		MaxFragmentLength: 4096,
		AdminOnly:         true,
		Wrap:              WrapResend,
		ACSRateMs:         1000,
		ActiveTableSize:   64,
		MaxAccumulators:   16,
		MaxFills:          64,
	}
}
