// Package worker implements the Worker pool that drains the queue and
// populates the cache (spec.md §4.4): the fragment-evaluation state machine
// Absent -> InFlight -> {Present(V) | Present(null) | Absent}, and the
// decomposition worker that turns original queries into fragments.
package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/queue"
	"github.com/MPoppinga/partitioncache/internal/sourcedb"
)

const defaultMaxRetries = 3

// ErrorHook receives a fragment's terminal or transient failure for
// diagnostics; the Worker itself does not log (spec.md's ambient stack
// carries no logging library, matching the teacher).
type ErrorHook func(entry queue.FragmentEntry, err error)

// FragmentOptions configures a FragmentWorker.
type FragmentOptions struct {
	Datatype   cachecontract.Datatype
	Bitsize    uint64 // domain [0, Bitsize) for bitmap-encoded caches; ignored otherwise
	Timeout    time.Duration
	MaxRetries int
	OnError    ErrorHook
}

// FragmentWorker evaluates fragments popped from the queue against the
// source DB and writes the result to the cache. It is safe to call
// EvaluateOne from many goroutines at once: the FragmentWorker's own
// singleflight group collapses same-hash evaluations before they reach the
// backend's fragment lock. Separate FragmentWorkers do not share that group;
// between them only the backend's fragment lock keeps evaluation
// single-flight.
type FragmentWorker struct {
	Queue   queue.Backend
	Cache   cachecontract.Handler
	Source  sourcedb.Executor
	Options FragmentOptions
	sf      singleflight.Group
	mu      sync.Mutex
	retries map[string]int
}

func NewFragmentWorker(q queue.Backend, cache cachecontract.Handler, source sourcedb.Executor, opts FragmentOptions) *FragmentWorker {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	return &FragmentWorker{Queue: q, Cache: cache, Source: source, Options: opts, retries: make(map[string]int)}
}

// EvaluateOne pops and processes a single fragment. It returns ok=false
// when the queue was empty, so callers can poll or back off.
func (w *FragmentWorker) EvaluateOne(ctx context.Context) (ok bool, err error) {
	var entry queue.FragmentEntry

	err = retryTransient(ctx, func() error {
		e, popped, popErr := w.Queue.PopFragment(ctx)
		if popErr != nil {
			return popErr
		}

		entry, ok = e, popped

		return nil
	})
	if err != nil || !ok {
		return ok, err
	}

	sfKey := entry.Partition + "\x00" + entry.Hash

	_, _, _ = w.sf.Do(sfKey, func() (any, error) {
		return nil, w.evaluate(ctx, entry)
	})

	return true, nil
}

func (w *FragmentWorker) evaluate(ctx context.Context, entry queue.FragmentEntry) error {
	exists, err := w.existsWithRetry(ctx, entry)
	if err != nil {
		w.reportError(entry, err)

		return err
	}

	if exists {
		w.clearRetries(entry)

		return nil
	}

	lock, acquired, err := w.Queue.TryLockFragment(ctx, entry.Partition, entry.Hash)
	if err != nil {
		w.reportError(entry, err)

		return err
	}

	if !acquired {
		return w.retryOrDrop(ctx, entry, &cachecontract.LockContentionError{Partition: entry.Partition, Hash: entry.Hash})
	}

	defer func() { _ = lock.Unlock(ctx) }()

	values, err := w.Source.Execute(ctx, entry.Text, w.Options.Datatype, w.Options.Timeout)
	if err != nil {
		return w.retryOrDrop(ctx, entry, err)
	}

	if err := w.writeResult(ctx, entry, values); err != nil {
		w.reportError(entry, err)

		return err
	}

	// Best-effort diagnostics: SQL-backed handlers keep the fragment text
	// next to the hash so operators can read back what an entry means.
	if recorder, ok := w.Cache.(cachecontract.QueryTextRecorder); ok {
		if err := recorder.RecordQueryText(ctx, entry.Partition, entry.Hash, entry.Text); err != nil {
			w.reportError(entry, err)
		}
	}

	w.clearRetries(entry)

	return nil
}

func (w *FragmentWorker) existsWithRetry(ctx context.Context, entry queue.FragmentEntry) (bool, error) {
	var exists bool

	err := retryTransient(ctx, func() error {
		var innerErr error

		exists, innerErr = w.Cache.Exists(ctx, entry.Partition, entry.Hash)

		return innerErr
	})

	return exists, err
}

func (w *FragmentWorker) writeResult(ctx context.Context, entry queue.FragmentEntry, values []cachecontract.PartitionValue) error {
	if len(values) == 0 {
		return retryTransient(ctx, func() error {
			return w.Cache.SetNull(ctx, entry.Partition, entry.Hash)
		})
	}

	if w.Cache.Capabilities().Encoding == cachecontract.BitmapEncoding {
		return w.writeBitmap(ctx, entry, values)
	}

	set := cachecontract.NewExplicitSet(w.Options.Datatype)
	for _, v := range values {
		set.Add(v)
	}

	return retryTransient(ctx, func() error {
		return w.Cache.SetSet(ctx, entry.Partition, entry.Hash, set)
	})
}

// writeBitmap encodes values against the registry-declared domain
// [0, Bitsize). A value outside that domain is OutOfDomainError (spec.md
// §7/§8 scenario 6): a hard fail on this fragment only, cache untouched,
// never retried.
func (w *FragmentWorker) writeBitmap(ctx context.Context, entry queue.FragmentEntry, values []cachecontract.PartitionValue) error {
	bitmap := cachecontract.NewBitmapSet(w.Options.Bitsize)

	for _, v := range values {
		n, err := strconv.ParseUint(string(v), 10, 32)
		if err != nil {
			return err
		}

		if err := bitmap.Add(uint32(n)); err != nil { //nolint:gosec
			return err
		}
	}

	return retryTransient(ctx, func() error {
		return w.Cache.SetBitmap(ctx, entry.Partition, entry.Hash, bitmap)
	})
}

// retryOrDrop implements spec.md §4.4 step 5/6: on failure the fragment is
// re-enqueued up to MaxRetries, after which it is dropped (reported via
// OnError) without ever writing to the cache.
func (w *FragmentWorker) retryOrDrop(ctx context.Context, entry queue.FragmentEntry, cause error) error {
	key := entry.Partition + "\x00" + entry.Hash

	w.mu.Lock()
	w.retries[key]++
	count := w.retries[key]
	w.mu.Unlock()

	if count > w.Options.MaxRetries {
		w.mu.Lock()
		delete(w.retries, key)
		w.mu.Unlock()

		w.reportError(entry, cause)

		return nil
	}

	_, err := w.Queue.PushFragments(ctx, entry.Partition, []queue.FragmentEntry{entry}, nil)
	if err != nil {
		w.reportError(entry, err)

		return err
	}

	return nil
}

func (w *FragmentWorker) clearRetries(entry queue.FragmentEntry) {
	key := entry.Partition + "\x00" + entry.Hash

	w.mu.Lock()
	delete(w.retries, key)
	w.mu.Unlock()
}

func (w *FragmentWorker) reportError(entry queue.FragmentEntry, err error) {
	if w.Options.OnError != nil {
		w.Options.OnError(entry, err)
	}
}
