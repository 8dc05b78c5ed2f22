// Package clform implements convergence-layer adapters: the framing and
// transport glue that moves an encoded bundle between a channel's
// Load/Process calls and a wire (spec §4.E treats the convergence layer as
// out of scope for the channel engine itself, handed whatever Load produces
// and handing Process whatever arrives). These are demonstration transports,
// not hardened production CLAs: UDP for one-datagram-per-bundle delivery,
// TCP for a length-prefixed stream when bundles may exceed a safe datagram
// size.
package clform

import "context"

// Transport is the boundary between a channel.Agent's Load/Process loop and
// a concrete link, mirroring the teacher's can.Bus Connect/Send/Subscribe
// shape adapted to a pull-based Receive instead of a callback, so the
// caller's own loop decides when each inbound bundle is handed to Process.
type Transport interface {
	// Send transmits one already-encoded bundle.
	Send(ctx context.Context, bundle []byte) error
	// Receive blocks for the next inbound bundle. If ctx has a deadline the
	// read is bounded by it and fails with the connection's timeout error;
	// cancelling ctx does not interrupt a Receive that is already blocked.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the underlying socket.
	Close() error
}
