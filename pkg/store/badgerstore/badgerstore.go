// Package badgerstore is the durable store.Store adapter, grounded on
// marmos91-dittofs's use of dgraph-io/badger as an embedded KV engine for
// queue-shaped data. Each Handle owns a key prefix; records are keyed by
// prefix||big-endian(sequence) so Badger's iterator yields FIFO order, and
// held (dequeued-but-not-relinquished) records are moved under a sibling
// "held" prefix keyed by their minted StorageID.
package badgerstore

import (
	"context"
	"encoding/binary"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/samsamfire/bplib/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	queuePrefix = 'q'
	heldPrefix  = 'h'
)

// Store is the Badger-backed adapter. One Badger database backs every
// Handle created from it; handles and records are namespaced by key prefix.
type Store struct {
	db     *badger.DB
	logger logrus.FieldLogger
	seq    uint64 // monotonic record-key counter, unique across all handles
}

// Open opens (creating if absent) a Badger database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logrus.StandardLogger()}, nil
}

// SetLogger overrides the default logger.
func (s *Store) SetLogger(logger logrus.FieldLogger) { s.logger = logger }

// Close releases the underlying Badger database.
func (s *Store) Close() error { return s.db.Close() }

func queueKey(h store.Handle, seq uint64) []byte {
	key := make([]byte, 1+8+8)
	key[0] = queuePrefix
	binary.BigEndian.PutUint64(key[1:9], uint64(h))
	binary.BigEndian.PutUint64(key[9:17], seq)
	return key
}

func queuePrefixFor(h store.Handle) []byte {
	key := make([]byte, 1+8)
	key[0] = queuePrefix
	binary.BigEndian.PutUint64(key[1:9], uint64(h))
	return key
}

func heldKey(h store.Handle, id store.StorageID) []byte {
	key := make([]byte, 1+8+8)
	key[0] = heldPrefix
	binary.BigEndian.PutUint64(key[1:9], uint64(h))
	binary.BigEndian.PutUint64(key[9:17], uint64(id))
	return key
}

func (s *Store) Create(ctx context.Context) (store.Handle, error) {
	s.seq++
	return store.Handle(s.seq), nil
}

func (s *Store) Destroy(ctx context.Context, h store.Handle) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{queuePrefixFor(h), heldKey(h, 0)[:9]} {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func withTimeout(ctx context.Context, timeout int) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
}

// Enqueue appends prolog||payload under a fresh monotonic key in h's queue.
// Badger writes are synchronous, so this never blocks on capacity; the
// timeout parameter only bounds how long we retry on write conflicts.
func (s *Store) Enqueue(ctx context.Context, h store.Handle, prolog, payload []byte, timeout int) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	record := make([]byte, 0, len(prolog)+len(payload))
	record = append(record, prolog...)
	record = append(record, payload...)

	for {
		s.seq++
		key := queueKey(h, s.seq)
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, record)
		})
		if err == nil {
			return nil
		}
		if err != badger.ErrConflict {
			return err
		}
		select {
		case <-ctx.Done():
			return store.ErrTimeout
		default:
		}
	}
}

// Dequeue removes and returns the oldest record of h's queue, moving it to
// the held set under a freshly minted StorageID so Retrieve/Refresh can
// still find it until Relinquish.
func (s *Store) Dequeue(ctx context.Context, h store.Handle, timeout int) ([]byte, store.StorageID, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()

	for {
		data, key, found, err := s.peekOldest(h)
		if err != nil {
			return nil, 0, err
		}
		if found {
			s.seq++
			id := store.StorageID(s.seq)
			err := s.db.Update(func(txn *badger.Txn) error {
				if err := txn.Delete(key); err != nil {
					return err
				}
				return txn.Set(heldKey(h, id), data)
			})
			if err != nil {
				return nil, 0, err
			}
			return data, id, nil
		}
		if timeout == 0 {
			return nil, 0, store.ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, 0, store.ErrTimeout
		case <-poll.C:
		}
	}
}

func (s *Store) peekOldest(h store.Handle) (data []byte, key []byte, found bool, err error) {
	prefix := queuePrefixFor(h)
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		item := it.Item()
		key = item.KeyCopy(nil)
		return item.Value(func(v []byte) error {
			data = append([]byte{}, v...)
			found = true
			return nil
		})
	})
	return data, key, found, err
}

func (s *Store) Retrieve(ctx context.Context, h store.Handle, id store.StorageID, timeout int) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(heldKey(h, id))
		if err == badger.ErrKeyNotFound {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			data = append([]byte{}, v...)
			return nil
		})
	})
	return data, err
}

func (s *Store) Refresh(ctx context.Context, h store.Handle, id store.StorageID, offset int, data []byte, timeout int) error {
	key := heldKey(h, id)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var existing []byte
		if err := item.Value(func(v []byte) error {
			existing = append([]byte{}, v...)
			return nil
		}); err != nil {
			return err
		}
		if offset+len(data) > len(existing) {
			grown := make([]byte, offset+len(data))
			copy(grown, existing)
			existing = grown
		}
		copy(existing[offset:], data)
		return txn.Set(key, existing)
	})
}

func (s *Store) Relinquish(ctx context.Context, h store.Handle, id store.StorageID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(heldKey(h, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}
