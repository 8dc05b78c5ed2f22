// Package memstore is the in-memory reference implementation of the
// store.Store persistence-service interface (§4.F). It is the adapter used
// by the channel engine's own tests, mirroring the teacher's
// pkg/can/virtual fake transport: a capability-set struct constructed once
// and driven directly from tests without any real I/O.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/samsamfire/bplib/internal/ringbuf"
	"github.com/samsamfire/bplib/pkg/store"
	"github.com/sirupsen/logrus"
)

type queue struct {
	mu   sync.Mutex
	cond *sync.Cond
	q    *ringbuf.Queue
}

func newQueue(capacity int) *queue {
	qu := &queue{q: ringbuf.New(capacity)}
	qu.cond = sync.NewCond(&qu.mu)
	return qu
}

// waitFor blocks (releasing qu.mu while waiting) until pred() is true or
// timeoutMs elapses. Caller must not hold qu.mu. Returns false on timeout.
// timeoutMs == 0 means "try once, don't block" (spec §5).
func (qu *queue) waitFor(timeoutMs int, pred func() bool) bool {
	qu.mu.Lock()
	defer qu.mu.Unlock()
	if pred() {
		return true
	}
	if timeoutMs == 0 {
		return false
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for !pred() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.AfterFunc(remaining, qu.cond.Broadcast)
		qu.cond.Wait()
		timer.Stop()
	}
	return true
}

// Store is the in-memory reference adapter. Capacity bounds each queue's
// un-dequeued record count; Capacity <= 0 means unbounded.
type Store struct {
	mu       sync.Mutex
	queues   map[store.Handle]*queue
	capacity int
	nextID   uint64
	logger   logrus.FieldLogger
}

// New constructs an empty memstore with the given per-queue capacity.
func New(capacity int) *Store {
	return &Store{
		queues:   make(map[store.Handle]*queue),
		capacity: capacity,
		logger:   logrus.StandardLogger(),
	}
}

// SetLogger overrides the default logger.
func (s *Store) SetLogger(logger logrus.FieldLogger) { s.logger = logger }

func (s *Store) Create(ctx context.Context) (store.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := store.Handle(s.nextID)
	s.queues[h] = newQueue(s.capacity)
	return h, nil
}

func (s *Store) Destroy(ctx context.Context, h store.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, h)
	return nil
}

func (s *Store) get(h store.Handle) (*queue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qu, ok := s.queues[h]
	return qu, ok
}

func mintID() store.StorageID {
	// xid mints a globally-unique, roughly-sortable id; here reduced to
	// its low bits since StorageID is a plain integer handle (spec §4.F
	// only requires it be opaque and retained verbatim by the caller).
	id := xid.New()
	var v uint64
	for _, b := range id.Bytes()[4:] {
		v = (v << 8) | uint64(b)
	}
	return store.StorageID(v)
}

func (s *Store) Enqueue(ctx context.Context, h store.Handle, prolog, payload []byte, timeout int) error {
	qu, ok := s.get(h)
	if !ok {
		return store.ErrNotFound
	}
	record := make([]byte, 0, len(prolog)+len(payload))
	record = append(record, prolog...)
	record = append(record, payload...)

	id := mintID()
	ok = qu.waitFor(timeout, func() bool {
		return qu.q.Push(uint64(id), record) == nil
	})
	if !ok {
		return store.ErrTimeout
	}
	qu.cond.Broadcast()
	return nil
}

func (s *Store) Dequeue(ctx context.Context, h store.Handle, timeout int) ([]byte, store.StorageID, error) {
	qu, ok := s.get(h)
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	var entry ringbuf.Entry
	ok = qu.waitFor(timeout, func() bool {
		e, err := qu.q.Pop()
		if err != nil {
			return false
		}
		entry = e
		return true
	})
	if !ok {
		return nil, 0, store.ErrTimeout
	}
	qu.cond.Broadcast()
	return entry.Data, store.StorageID(entry.ID), nil
}

func (s *Store) Retrieve(ctx context.Context, h store.Handle, id store.StorageID, timeout int) ([]byte, error) {
	qu, ok := s.get(h)
	if !ok {
		return nil, store.ErrNotFound
	}
	qu.mu.Lock()
	defer qu.mu.Unlock()
	e, ok := qu.q.Get(uint64(id))
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.Data, nil
}

func (s *Store) Refresh(ctx context.Context, h store.Handle, id store.StorageID, offset int, data []byte, timeout int) error {
	qu, ok := s.get(h)
	if !ok {
		return store.ErrNotFound
	}
	qu.mu.Lock()
	defer qu.mu.Unlock()
	if !qu.q.Refresh(uint64(id), offset, data) {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Relinquish(ctx context.Context, h store.Handle, id store.StorageID) error {
	qu, ok := s.get(h)
	if !ok {
		return store.ErrNotFound
	}
	qu.mu.Lock()
	defer qu.mu.Unlock()
	qu.q.Relinquish(uint64(id))
	return nil
}
