package bplib

import "errors"

// Fatal conditions, returned directly from an operation (§6/§7 kind 1-2).
// Advisory conditions never appear here; see Flags.
var (
	ErrTimeout         = errors.New("bplib: operation timed out")
	ErrParm            = errors.New("bplib: invalid parameter")
	ErrInvalidChannel  = errors.New("bplib: invalid channel handle")
	ErrChannelsFull    = errors.New("bplib: no free channel slots")
	ErrUnsupported     = errors.New("bplib: unsupported bundle feature")
	ErrIgnore          = errors.New("bplib: bundle ignored by channel policy")
	ErrExpired         = errors.New("bplib: bundle lifetime has elapsed")
	ErrWrongChannel    = errors.New("bplib: bundle not addressed to this channel")
	ErrBundleTooLarge  = errors.New("bplib: bundle exceeds configured maximum")
	ErrPayloadTooLarge = errors.New("bplib: caller buffer too small for payload")
	ErrOverflow        = errors.New("bplib: active table saturated under wrap-block policy")
	ErrBundleParse     = errors.New("bplib: malformed bundle")
	ErrFailedStore     = errors.New("bplib: persistence-service operation failed")
	ErrDropped         = errors.New("bplib: bundle dropped by local policy")
	ErrUnknownRecord   = errors.New("bplib: unrecognized administrative record type")
)

// Flags are advisory diagnostic bits (§6/§7 kind 4), OR-ed by the core into
// an out-parameter the caller supplies rather than returned as an error
// (§9: "fatal is returned, advisory is OR-ed into a flags word").
type Flags uint32

const (
	FlagNonCompliant Flags = 1 << iota
	FlagIncomplete
	FlagReportDelete
	FlagRouteNeeded
	FlagStoreFail
	FlagTooManySources
	FlagTooManyFills
	FlagFillOverflow
	FlagCIDWentBackwards
	FlagUnableToStore
)
