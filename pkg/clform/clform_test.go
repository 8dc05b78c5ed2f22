package clform

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPConvergenceLayerRoundTrip(t *testing.T) {
	a, err := NewUDPConvergenceLayer("127.0.0.1:0", "", 4096)
	require.NoError(t, err)
	defer a.Close()

	b, err := NewUDPConvergenceLayer("127.0.0.1:0", a.conn.LocalAddr().String(), 4096)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Send(ctx, []byte("hello bundle")))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := a.Receive(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello bundle"), got)

	// a now knows b's address from the inbound datagram and can reply.
	require.NoError(t, a.Send(ctx, []byte("ack")))
	recvCtx2, cancel2 := context.WithTimeout(ctx, 2*time.Second)
	defer cancel2()
	got2, err := b.Receive(recvCtx2)
	require.NoError(t, err)
	assert.Equal(t, []byte("ack"), got2)
}

func TestTCPConvergenceLayerRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type result struct {
		cl  *TCPConvergenceLayer
		err error
	}
	serverCh := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverCh <- result{nil, err}
			return
		}
		serverCh <- result{NewTCPConvergenceLayer(conn), nil}
	}()

	client, err := DialTCPConvergenceLayer(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	srv := <-serverCh
	require.NoError(t, srv.err)
	defer srv.cl.Close()

	ctx := context.Background()
	payload := make([]byte, 5000) // bigger than one TCP read typically returns
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, client.Send(ctx, payload))

	got, err := srv.cl.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
