package clform

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// UDPConvergenceLayer sends and receives whole bundles as single UDP
// datagrams: no reassembly, no ordering guarantee beyond what the network
// gives it, by design (spec §9's convergence layer is intentionally
// unreliable — the BP layer above it is what carries custody and
// retransmission).
type UDPConvergenceLayer struct {
	conn        *net.UDPConn
	remote      *net.UDPAddr
	maxBundleLen int
}

// NewUDPConvergenceLayer opens a UDP socket bound to localAddr (e.g.
// "0.0.0.0:4556", the well-known BP-over-UDP port) and, if remoteAddr is
// non-empty, fixes the peer Send writes to. maxBundleLen sizes the receive
// buffer and the kernel socket buffer.
func NewUDPConvergenceLayer(localAddr, remoteAddr string, maxBundleLen int) (*UDPConvergenceLayer, error) {
	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("clform: resolve local addr: %w", err)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	packetConn, err := lc.ListenPacket(context.Background(), "udp", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("clform: listen %s: %w", localAddr, err)
	}
	conn := packetConn.(*net.UDPConn)

	if rawConn, err := conn.SyscallConn(); err == nil {
		rawConn.Control(func(fd uintptr) {
			// Leave room for several in-flight bundles rather than just one,
			// since a burst of Load calls can outrun a slow reader.
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, maxBundleLen*8)
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, maxBundleLen*8)
		})
	}

	cl := &UDPConvergenceLayer{conn: conn, maxBundleLen: maxBundleLen}
	if remoteAddr != "" {
		cl.remote, err = net.ResolveUDPAddr("udp", remoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("clform: resolve remote addr: %w", err)
		}
	}
	return cl, nil
}

// Send writes bundle as one datagram to the configured remote address.
func (c *UDPConvergenceLayer) Send(ctx context.Context, bundle []byte) error {
	if c.remote == nil {
		return fmt.Errorf("clform: no remote address configured for Send")
	}
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.WriteToUDP(bundle, c.remote)
	return err
}

// Receive blocks for the next datagram, honoring ctx's deadline if set.
func (c *UDPConvergenceLayer) Receive(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, c.maxBundleLen)
	n, from, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	if c.remote == nil {
		// First inbound peer becomes the default Send target, letting a
		// listener-only agent reply without being told its peer up front.
		c.remote = from
	}
	return buf[:n], nil
}

// Close releases the underlying socket.
func (c *UDPConvergenceLayer) Close() error {
	return c.conn.Close()
}
