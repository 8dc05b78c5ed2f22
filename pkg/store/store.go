// Package store defines the persistence-service boundary the channel
// engine calls through (§4.F): a narrow capability set of keyed
// enqueue/dequeue/retrieve/relinquish operations on opaque blobs. The core
// never assumes anything about how a Store durably holds data; concrete
// adapters live in sibling packages (memstore, badgerstore).
package store

import (
	"context"
	"errors"
)

// ErrTimeout is returned by Enqueue/Dequeue when the operation could not
// complete within the given timeout.
var ErrTimeout = errors.New("store: operation timed out")

// ErrNotFound is returned by Retrieve/Refresh for an unknown storage id
// (Relinquish treats an unknown id as a no-op).
var ErrNotFound = errors.New("store: storage id not found")

// StorageID is an opaque integer handle minted by a Store implementation
// and retained by the channel engine's active table until relinquished.
type StorageID uint64

// Handle identifies one FIFO queue within a Store (data, payload, or DACS
// queue for a channel).
type Handle uint64

// Store is the capability set a channel engine is constructed with. Each
// Handle is an independent FIFO; borrowed buffers returned by Dequeue or
// Retrieve remain valid until the matching Relinquish (§4.F, §5).
type Store interface {
	// Create allocates a new, empty queue and returns its handle.
	Create(ctx context.Context) (Handle, error)

	// Destroy releases a queue and anything still queued in it.
	Destroy(ctx context.Context, h Handle) error

	// Enqueue appends prolog||payload as one record to the tail of h's
	// queue. timeout==0 means try once, don't block.
	Enqueue(ctx context.Context, h Handle, prolog, payload []byte, timeout int) error

	// Dequeue removes and returns the head record of h's queue, along with
	// the StorageID it is now addressable by until Relinquish is called.
	Dequeue(ctx context.Context, h Handle, timeout int) ([]byte, StorageID, error)

	// Retrieve returns a previously-dequeued (or otherwise held) record by
	// its StorageID without removing it from the store.
	Retrieve(ctx context.Context, h Handle, id StorageID, timeout int) ([]byte, error)

	// Refresh overwrites the first len(data) bytes of a held record at the
	// given byte offset, in place.
	Refresh(ctx context.Context, h Handle, id StorageID, offset int, data []byte, timeout int) error

	// Relinquish frees a held record. It is a no-op for an unknown id.
	Relinquish(ctx context.Context, h Handle, id StorageID) error
}
