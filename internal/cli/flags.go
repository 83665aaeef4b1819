package cli

import (
	"github.com/spf13/cobra"

	"github.com/MPoppinga/partitioncache/internal/cliconfig"
	"github.com/MPoppinga/partitioncache/internal/queryproc"
)

// cacheFlags holds the flag destinations shared by every subcommand that
// needs to resolve a cache Handler and partition metadata.
type cacheFlags struct {
	cfg cliconfig.Config
}

func addCacheFlags(cmd *cobra.Command) *cacheFlags {
	f := &cacheFlags{}

	cmd.Flags().StringVar(&f.cfg.Partition, "partition", "", "partition key column name (required)")
	cmd.Flags().StringVar(&f.cfg.Datatype, "datatype", "integer", "partition key datatype: integer, float, text, timestamp")
	cmd.Flags().Uint64Var(&f.cfg.Bitsize, "bitsize", 0, "bitmap domain size, required for bitmap-encoded backends")
	cmd.Flags().StringVar(&f.cfg.GeometryColumn, "geometry-column", "", "spatial column name, enables distance-predicate snapping")
	cmd.Flags().StringVar(&f.cfg.CacheBackend, "cache-backend", "memory",
		"cache backend: memory, bolt, postgres-set, postgres-bit, redisset, redisbit")
	cmd.Flags().StringVar(&f.cfg.DatabaseURL, "db-url", "", "Postgres connection URL, for postgres-* backends")
	cmd.Flags().StringVar(&f.cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis address, for redis* backends")
	cmd.Flags().StringVar(&f.cfg.BoltPath, "bolt-path", "partitioncache.db", "database file path, for the bolt backend")

	cmd.MarkFlagRequired("partition") //nolint:errcheck

	return f
}

// fragmentFlags holds queryproc.Options destinations.
type fragmentFlags struct {
	opts                  queryproc.Options
	minComponentSize      int
	followGraph           bool
	keepAllAttributes     bool
	warnNoPartitionKey    bool
	skipPartitionKeyJoins bool
	bufferUnit            float64
}

func addFragmentFlags(cmd *cobra.Command) *fragmentFlags {
	f := &fragmentFlags{}

	cmd.Flags().IntVar(&f.minComponentSize, "min-component-size", 1, "minimum alias count per fragment")
	cmd.Flags().BoolVar(&f.followGraph, "follow-graph", false, "enumerate every connected subgraph, not just the anchor's component")
	cmd.Flags().BoolVar(&f.keepAllAttributes, "keep-all-attributes", false, "retain unary constraints on aliases outside the fragment's component")
	cmd.Flags().BoolVar(&f.warnNoPartitionKey, "warn-no-partition-key", false, "warn instead of erroring when no fragment reaches the partition key")
	cmd.Flags().BoolVar(&f.skipPartitionKeyJoins, "skip-partition-key-joins", false, "don't treat partition-key equality alone as a join edge")
	cmd.Flags().Float64Var(&f.bufferUnit, "buffer-unit", 1.0, "distance-snapping unit for geometry-column predicates")

	return f
}

func (f *fragmentFlags) toOptions() queryproc.Options {
	return queryproc.Options{
		MinComponentSize:      f.minComponentSize,
		FollowGraph:           f.followGraph,
		KeepAllAttributes:     f.keepAllAttributes,
		WarnNoPartitionKey:    f.warnNoPartitionKey,
		SkipPartitionKeyJoins: f.skipPartitionKeyJoins,
		BufferUnit:            f.bufferUnit,
	}
}
