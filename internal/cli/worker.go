package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/cliconfig"
	"github.com/MPoppinga/partitioncache/internal/queryproc"
	"github.com/MPoppinga/partitioncache/internal/queue"
	"github.com/MPoppinga/partitioncache/internal/sourcedb"
	"github.com/MPoppinga/partitioncache/internal/worker"
	"github.com/MPoppinga/partitioncache/pkg/database"
)

func newWorkerCommand() *cobra.Command {
	var cache *cacheFlags

	var frag *fragmentFlags

	var (
		queueDBURL  string
		sourceDBURL string
		concurrency int
		timeout     time.Duration
		maxRetries  int
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a Worker pool against the configured queue, cache, and source database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := frag.toOptions()
			opts.GeometryColumn = cache.cfg.GeometryColumn

			return runWorker(cmd.Context(), workerConfig{
				cache:       cache.cfg,
				options:     opts,
				queueDBURL:  queueDBURL,
				sourceDBURL: sourceDBURL,
				concurrency: concurrency,
				timeout:     timeout,
				maxRetries:  maxRetries,
			})
		},
	}

	cache = addCacheFlags(cmd)
	frag = addFragmentFlags(cmd)

	cmd.Flags().StringVar(&queueDBURL, "queue-db-url", "", "Postgres connection URL backing the queue (required)")
	cmd.Flags().StringVar(&sourceDBURL, "source-db-url", "", "Postgres connection URL for the source database (required)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of concurrent fragment evaluators")
	cmd.Flags().DurationVar(&timeout, "fragment-timeout", 30*time.Second, "per-fragment evaluation deadline")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "fragment evaluation retries before the fragment is dropped")
	cmd.MarkFlagRequired("queue-db-url")  //nolint:errcheck
	cmd.MarkFlagRequired("source-db-url") //nolint:errcheck

	return cmd
}

type workerConfig struct {
	cache       cliconfig.Config
	options     queryproc.Options
	queueDBURL  string
	sourceDBURL string
	concurrency int
	timeout     time.Duration
	maxRetries  int
}

func runWorker(ctx context.Context, cfg workerConfig) error {
	handler, err := cfg.cache.BuildHandler(ctx)
	if err != nil {
		return err
	}
	defer handler.Close() //nolint:errcheck

	datatype, err := cfg.cache.ResolveDatatype()
	if err != nil {
		return err
	}

	// An already-registered partition pins its datatype; a worker
	// configured with a conflicting one must not write a single value.
	registry := cachecontract.NewRegistry(handler)
	if err := registry.CheckDatatype(ctx, cfg.cache.Partition, datatype); err != nil {
		var notRegistered *cachecontract.NotRegisteredError
		if !errors.As(err, &notRegistered) {
			return err
		}
	}

	queuePool, err := database.NewPoolFromURL(ctx, cfg.queueDBURL)
	if err != nil {
		return err
	}

	queueBackend, err := queue.NewPostgresBackend(ctx, queuePool)
	if err != nil {
		return err
	}
	defer queueBackend.Close() //nolint:errcheck

	sourcePool, err := database.NewPoolFromURL(ctx, cfg.sourceDBURL)
	if err != nil {
		return err
	}

	executor := sourcedb.NewPostgresExecutor(sourcePool)

	onFragmentError := func(entry queue.FragmentEntry, err error) {
		fmt.Fprintf(os.Stderr, "fragment %s/%s failed: %v\n", entry.Partition, entry.Hash, err)
	}

	fragWorker := worker.NewFragmentWorker(queueBackend, handler, executor, worker.FragmentOptions{
		Datatype:   datatype,
		Bitsize:    cfg.cache.Bitsize,
		Timeout:    cfg.timeout,
		MaxRetries: cfg.maxRetries,
		OnError:    onFragmentError,
	})

	decompWorker := worker.NewDecompositionWorker(queueBackend, handler, worker.DecompositionOptions{
		Partition: cfg.cache.Partition,
		Options:   cfg.options,
		OnError: func(entry queue.OriginalEntry, err error) {
			fmt.Fprintf(os.Stderr, "decomposition of query for %s failed: %v\n", entry.Partition, err)
		},
	})

	pool := &worker.Pool{
		FragmentWorker:       fragWorker,
		FragmentConcurrency:  cfg.concurrency,
		DecompositionWorker:  decompWorker,
		DecompositionWorkers: 1,
	}

	return pool.Run(ctx)
}
