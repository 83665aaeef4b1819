package worker

import (
	"context"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/queryproc"
	"github.com/MPoppinga/partitioncache/internal/queue"
)

// DecompositionOptions configures a DecompositionWorker.
type DecompositionOptions struct {
	Partition string
	Options   queryproc.Options
	OnError   func(entry queue.OriginalEntry, err error)
}

// DecompositionWorker pops original queries and pushes their fragments to
// the fragment queue (spec.md §4.4).
type DecompositionWorker struct {
	Queue   queue.Backend
	Cache   cachecontract.Handler
	Options DecompositionOptions
}

func NewDecompositionWorker(q queue.Backend, cache cachecontract.Handler, opts DecompositionOptions) *DecompositionWorker {
	return &DecompositionWorker{Queue: q, Cache: cache, Options: opts}
}

// DecomposeOne pops a single original query and enqueues its fragments. It
// returns ok=false when the queue was empty.
func (w *DecompositionWorker) DecomposeOne(ctx context.Context) (ok bool, err error) {
	var entry queue.OriginalEntry

	err = retryTransient(ctx, func() error {
		e, popped, popErr := w.Queue.PopOriginal(ctx)
		if popErr != nil {
			return popErr
		}

		entry, ok = e, popped

		return nil
	})
	if err != nil || !ok {
		return ok, err
	}

	partition := entry.Partition
	if partition == "" {
		partition = w.Options.Partition
	}

	// Generation errors (ParseError, NoPartitionKey) are deterministic per
	// query: re-running the decomposition can never succeed, so the entry is
	// reported and dropped rather than allowed to stop the poll loop.
	frags, err := queryproc.GenerateFragments(entry.Query, partition, w.Options.Options)
	if err != nil {
		w.reportError(entry, err)

		return true, nil
	}

	fragEntries := make([]queue.FragmentEntry, len(frags))
	for i, f := range frags {
		fragEntries[i] = queue.FragmentEntry{Partition: partition, Hash: f.Hash, Text: f.Text}
	}

	_, err = w.Queue.PushFragments(ctx, partition, fragEntries, queue.ExistsInCache(ctx, w.Cache, partition))
	if err != nil {
		w.reportError(entry, err)

		return true, err
	}

	return true, nil
}

func (w *DecompositionWorker) reportError(entry queue.OriginalEntry, err error) {
	if w.Options.OnError != nil {
		w.Options.OnError(entry, err)
	}
}
