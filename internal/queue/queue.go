// Package queue provides the two FIFO queues the Worker pool consumes:
// raw queries awaiting decomposition, and fragments awaiting evaluation
// (spec.md §4.4).
package queue

import (
	"context"
	"time"
)

// OriginalEntry is a raw query awaiting decomposition by the Query
// Processor.
type OriginalEntry struct {
	Partition  string
	Query      string
	EnqueuedAt time.Time
}

// FragmentEntry is a single (fragment-text, hash, partition) tuple awaiting
// evaluation against the source DB.
type FragmentEntry struct {
	Partition  string
	Hash       string
	Text       string
	EnqueuedAt time.Time
}

// FragmentLock represents a held fragment lock (spec.md §4.4 step 3); the
// caller releases it via Unlock once the fragment has been evaluated.
type FragmentLock interface {
	Unlock(ctx context.Context) error
}

// Backend is the queue contract: FIFO, at-most-once dequeue, with a
// per-(partition, hash) fragment lock for single-flight evaluation.
type Backend interface {
	PushOriginal(ctx context.Context, partition, query string) error

	// PushFragments enqueues fragments not already queued or present (incl.
	// null-marker) in the cache, returning how many were actually enqueued.
	PushFragments(ctx context.Context, partition string, fragments []FragmentEntry, alreadyCached func(hash string) bool) (int, error)

	// PopOriginal dequeues the oldest original entry, or ok=false if empty.
	PopOriginal(ctx context.Context) (entry OriginalEntry, ok bool, err error)

	// PopFragment dequeues the oldest fragment entry, or ok=false if empty.
	PopFragment(ctx context.Context) (entry FragmentEntry, ok bool, err error)

	// TryLockFragment attempts to acquire the non-blocking per-(partition,
	// hash) lock. ok=false means the lock is already held elsewhere.
	TryLockFragment(ctx context.Context, partition, hash string) (lock FragmentLock, ok bool, err error)

	Close() error
}
