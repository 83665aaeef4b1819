// Package sourcedb executes a query fragment against the database the
// partition key's values actually live in, typing the first column of each
// result row per the partition's declared datatype (spec.md §6).
package sourcedb

import (
	"context"
	"time"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
)

// Executor runs fragmentSQL (as produced by queryproc.GenerateFragments)
// and returns the distinct partition-key values it selects. Implementations
// own their own connection pooling; Execute must respect the given timeout
// as a hard deadline on the call, not merely a hint.
//
// The source DB is deliberately engine-agnostic at this contract level:
// only a Postgres implementation ships in this module, but the original
// system's per-engine handlers (postgres, mysql, sqlite, duckdb) map
// naturally onto additional Executor implementations.
type Executor interface {
	Execute(ctx context.Context, fragmentSQL string, datatype cachecontract.Datatype, timeout time.Duration) ([]cachecontract.PartitionValue, error)
}
