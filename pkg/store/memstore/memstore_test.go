package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/samsamfire/bplib/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	h, err := s.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Enqueue(ctx, h, []byte("A"), []byte("1"), 0))
	require.NoError(t, s.Enqueue(ctx, h, []byte("B"), []byte("2"), 0))

	data, id1, err := s.Dequeue(ctx, h, 0)
	require.NoError(t, err)
	assert.Equal(t, "A1", string(data))

	data, id2, err := s.Dequeue(ctx, h, 0)
	require.NoError(t, err)
	assert.Equal(t, "B2", string(data))
	assert.NotEqual(t, id1, id2)
}

func TestDequeueEmptyTimesOutImmediatelyWithZeroTimeout(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	h, err := s.Create(ctx)
	require.NoError(t, err)

	_, _, err = s.Dequeue(ctx, h, 0)
	assert.ErrorIs(t, err, store.ErrTimeout)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	h, err := s.Create(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		data, _, err := s.Dequeue(ctx, h, 200)
		assert.NoError(t, err)
		assert.Equal(t, "XY", string(data))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Enqueue(ctx, h, []byte("X"), []byte("Y"), 0))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after enqueue")
	}
}

func TestRetrieveRefreshRelinquish(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	h, err := s.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Enqueue(ctx, h, nil, []byte("hello"), 0))
	data, id, err := s.Dequeue(ctx, h, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	got, err := s.Retrieve(ctx, h, id, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, s.Refresh(ctx, h, id, 1, []byte("E"), 0))
	got, err = s.Retrieve(ctx, h, id, 0)
	require.NoError(t, err)
	assert.Equal(t, "hEllo", string(got))

	require.NoError(t, s.Relinquish(ctx, h, id))
	_, err = s.Retrieve(ctx, h, id, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnknownHandleReturnsErrNotFound(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	_, _, err := s.Dequeue(ctx, store.Handle(999), 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnqueueBlocksOnFullCapacity(t *testing.T) {
	s := New(1)
	ctx := context.Background()
	h, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, h, nil, []byte("1"), 0))

	err = s.Enqueue(ctx, h, nil, []byte("2"), 50)
	assert.ErrorIs(t, err, store.ErrTimeout)
}
