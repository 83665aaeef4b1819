package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/memory"
	"github.com/MPoppinga/partitioncache/internal/queue"
	"github.com/MPoppinga/partitioncache/internal/worker"
)

// fakeQueue is an in-process queue.Backend good enough to drive the Worker
// state machine in tests, without a real Postgres instance.
type fakeQueue struct {
	mu        sync.Mutex
	fragments []queue.FragmentEntry
	locks     map[string]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{locks: make(map[string]bool)}
}

func (q *fakeQueue) PushOriginal(context.Context, string, string) error { return nil }

func (q *fakeQueue) PushFragments(
	_ context.Context, _ string, fragments []queue.FragmentEntry, alreadyCached func(string) bool,
) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pushed := 0

	for _, f := range fragments {
		if alreadyCached != nil && alreadyCached(f.Hash) {
			continue
		}

		q.fragments = append(q.fragments, f)
		pushed++
	}

	return pushed, nil
}

func (q *fakeQueue) PopOriginal(context.Context) (queue.OriginalEntry, bool, error) {
	return queue.OriginalEntry{}, false, nil
}

func (q *fakeQueue) PopFragment(context.Context) (queue.FragmentEntry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.fragments) == 0 {
		return queue.FragmentEntry{}, false, nil
	}

	entry := q.fragments[0]
	q.fragments = q.fragments[1:]

	return entry, true, nil
}

func (q *fakeQueue) TryLockFragment(_ context.Context, partition, hash string) (queue.FragmentLock, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := partition + "/" + hash
	if q.locks[key] {
		return nil, false, nil
	}

	q.locks[key] = true

	return &fakeLock{q: q, key: key}, true, nil
}

func (q *fakeQueue) Close() error { return nil }

type fakeLock struct {
	q   *fakeQueue
	key string
}

func (l *fakeLock) Unlock(context.Context) error {
	l.q.mu.Lock()
	defer l.q.mu.Unlock()
	delete(l.q.locks, l.key)

	return nil
}

type fakeExecutor struct {
	values []cachecontract.PartitionValue
	err    error
}

func (e *fakeExecutor) Execute(
	context.Context, string, cachecontract.Datatype, time.Duration,
) ([]cachecontract.PartitionValue, error) {
	return e.values, e.err
}

func TestFragmentWorkerWritesSetOnRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newFakeQueue()
	cache := memory.New()
	source := &fakeExecutor{values: []cachecontract.PartitionValue{"1", "2"}}

	_, err := q.PushFragments(ctx, "region_id", []queue.FragmentEntry{{Partition: "region_id", Hash: "h1", Text: "select 1"}}, nil)
	require.NoError(t, err)

	w := worker.NewFragmentWorker(q, cache, source, worker.FragmentOptions{Datatype: cachecontract.Integer, Timeout: time.Second})

	ok, err := w.EvaluateOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := cache.Get(ctx, "region_id", "h1")
	require.NoError(t, err)
	require.Equal(t, cachecontract.Hit, res.Kind)
	require.ElementsMatch(t, []cachecontract.PartitionValue{"1", "2"}, res.Explicit.Members())
}

func TestFragmentWorkerWritesNullOnNoRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newFakeQueue()
	cache := memory.New()
	source := &fakeExecutor{}

	_, err := q.PushFragments(ctx, "region_id", []queue.FragmentEntry{{Partition: "region_id", Hash: "h1", Text: "select 1"}}, nil)
	require.NoError(t, err)

	w := worker.NewFragmentWorker(q, cache, source, worker.FragmentOptions{Datatype: cachecontract.Integer, Timeout: time.Second})

	ok, err := w.EvaluateOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := cache.Get(ctx, "region_id", "h1")
	require.NoError(t, err)
	require.Equal(t, cachecontract.Null, res.Kind)
}

func TestFragmentWorkerSkipsAlreadyPresentEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newFakeQueue()
	cache := memory.New()
	require.NoError(t, cache.SetNull(ctx, "region_id", "h1"))

	source := &fakeExecutor{values: []cachecontract.PartitionValue{"9"}}

	_, err := q.PushFragments(ctx, "region_id", []queue.FragmentEntry{{Partition: "region_id", Hash: "h1", Text: "select 1"}}, nil)
	require.NoError(t, err)

	w := worker.NewFragmentWorker(q, cache, source, worker.FragmentOptions{Datatype: cachecontract.Integer, Timeout: time.Second})

	ok, err := w.EvaluateOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := cache.Get(ctx, "region_id", "h1")
	require.NoError(t, err)
	require.Equal(t, cachecontract.Null, res.Kind)
}

func TestFragmentWorkerDropsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newFakeQueue()
	cache := memory.New()
	source := &fakeExecutor{err: errors.New("driver error")}

	var dropped []error

	w := worker.NewFragmentWorker(q, cache, source, worker.FragmentOptions{
		Datatype:   cachecontract.Integer,
		Timeout:    time.Second,
		MaxRetries: 1,
		OnError:    func(_ queue.FragmentEntry, err error) { dropped = append(dropped, err) },
	})

	_, err := q.PushFragments(ctx, "region_id", []queue.FragmentEntry{{Partition: "region_id", Hash: "h1", Text: "select 1"}}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, evalErr := w.EvaluateOne(ctx)
		require.NoError(t, evalErr)

		if !ok {
			break
		}
	}

	require.NotEmpty(t, dropped)

	res, err := cache.Get(ctx, "region_id", "h1")
	require.NoError(t, err)
	require.Equal(t, cachecontract.Miss, res.Kind)
}
