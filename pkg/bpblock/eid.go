// Package bpblock implements the wire codecs for the blocks this agent
// understands: the Primary Block, the Custody Transfer Extension Block
// (CTEB), the Bundle Integrity Block (BIB) and the Payload Block, per
// RFC 5050's compressed bundle header encoding (§4.B of the design).
package bpblock

import (
	"fmt"
	"strconv"
	"strings"
)

// EID is an IPN-style endpoint identifier: a (node, service) pair of
// unsigned integers.
type EID struct {
	Node    uint64
	Service uint64
}

func (e EID) String() string {
	return fmt.Sprintf("%d.%d", e.Node, e.Service)
}

// ParseEID parses the "node.service" form EID.String prints, e.g. "12.0".
func ParseEID(s string) (EID, error) {
	node, service, ok := strings.Cut(s, ".")
	if !ok {
		return EID{}, fmt.Errorf("bpblock: EID must be \"node.service\", got %q", s)
	}
	n, err := strconv.ParseUint(node, 10, 64)
	if err != nil {
		return EID{}, fmt.Errorf("bpblock: EID node: %w", err)
	}
	svc, err := strconv.ParseUint(service, 10, 64)
	if err != nil {
		return EID{}, fmt.Errorf("bpblock: EID service: %w", err)
	}
	return EID{Node: n, Service: svc}, nil
}

// Time is a DTN timestamp: seconds and nanoseconds since 2000-01-01T00:00:00Z.
type Time struct {
	Seconds uint64
	Nanos   uint64
}
