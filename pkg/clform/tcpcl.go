package clform

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// noDeadline clears a deadline previously set for one Send/Receive call.
var noDeadline time.Time

// maxFrameLen bounds a single length-prefixed frame, guarding Receive
// against a corrupt or hostile length field driving an unbounded allocation.
const maxFrameLen = 64 << 20

// TCPConvergenceLayer frames bundles over a TCP stream as a 4-byte
// big-endian length prefix followed by that many bytes, since TCP gives no
// message boundaries of its own. One TCPConvergenceLayer wraps one
// connection; a listening agent accepts connections and wraps each with
// NewTCPConvergenceLayer.
type TCPConvergenceLayer struct {
	conn net.Conn

	mu     sync.Mutex // guards writes: one frame at a time per connection
	readMu sync.Mutex
}

// ListenTCPConvergenceLayer starts listening on addr, accepting exactly one
// peer connection and returning a ready transport for it. Intended for the
// two-node demo topology cmd/bpagent sets up; a production listener would
// fan out one Channel (or Agent) per accepted connection instead.
func ListenTCPConvergenceLayer(ctx context.Context, addr string) (*TCPConvergenceLayer, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("clform: listen %s: %w", addr, err)
	}
	defer ln.Close()
	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("clform: accept on %s: %w", addr, err)
	}
	return NewTCPConvergenceLayer(conn), nil
}

// DialTCPConvergenceLayer connects to addr and returns a ready transport.
func DialTCPConvergenceLayer(ctx context.Context, addr string) (*TCPConvergenceLayer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("clform: dial %s: %w", addr, err)
	}
	return NewTCPConvergenceLayer(conn), nil
}

// NewTCPConvergenceLayer wraps an already-established connection (e.g. one
// returned by net.Listener.Accept).
func NewTCPConvergenceLayer(conn net.Conn) *TCPConvergenceLayer {
	return &TCPConvergenceLayer{conn: conn}
}

// Send writes bundle as one length-prefixed frame.
func (c *TCPConvergenceLayer) Send(ctx context.Context, bundle []byte) error {
	if len(bundle) > maxFrameLen {
		return fmt.Errorf("clform: bundle of %d bytes exceeds max frame length", len(bundle))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
		defer c.conn.SetWriteDeadline(noDeadline)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(bundle)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return err
	}
	_, err := c.conn.Write(bundle)
	return err
}

// Receive reads the next length-prefixed frame.
func (c *TCPConvergenceLayer) Receive(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
		defer c.conn.SetReadDeadline(noDeadline)
	}

	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameLen {
		return nil, fmt.Errorf("clform: frame length %d exceeds max %d", length, maxFrameLen)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the underlying connection.
func (c *TCPConvergenceLayer) Close() error {
	return c.conn.Close()
}
