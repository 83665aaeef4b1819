package sourcedb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/pkg/database"
)

// PostgresExecutor evaluates fragments against a pgx pool. It is the only
// Executor this module binds; other engines are named extension points in
// SPEC_FULL.md §6 but out of scope here.
type PostgresExecutor struct {
	pool *database.Pool
}

func NewPostgresExecutor(pool *database.Pool) *PostgresExecutor {
	return &PostgresExecutor{pool: pool}
}

func (e *PostgresExecutor) Execute(
	ctx context.Context, fragmentSQL string, datatype cachecontract.Datatype, timeout time.Duration, //nolint:gocritic
) ([]cachecontract.PartitionValue, error) {
	partition, hash := fragmentContext(ctx)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := e.pool.Query(callCtx, fragmentSQL)
	if err != nil {
		if isDeadlineErr(callCtx, err) {
			return nil, &EvaluationTimeoutError{Partition: partition, Hash: hash, Timeout: timeout.String()}
		}

		return nil, fmt.Errorf("execute fragment: %w", err)
	}
	defer rows.Close()

	var out []cachecontract.PartitionValue

	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan fragment row: %w", err)
		}

		out = append(out, formatValue(raw, datatype))
	}

	if err := rows.Err(); err != nil {
		if isDeadlineErr(callCtx, err) {
			return nil, &EvaluationTimeoutError{Partition: partition, Hash: hash, Timeout: timeout.String()}
		}

		return nil, fmt.Errorf("iterate fragment rows: %w", err)
	}

	return out, nil
}

func isDeadlineErr(ctx context.Context, err error) bool {
	return ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded)
}

// fragmentContext reads optional diagnostic labels a caller can attach to
// ctx via WithFragmentContext, used only to annotate EvaluationTimeoutError.
func fragmentContext(ctx context.Context) (partition, hash string) {
	if v, ok := ctx.Value(fragmentCtxKey{}).(fragmentLabel); ok {
		return v.partition, v.hash
	}

	return "", ""
}

type fragmentCtxKey struct{}

type fragmentLabel struct {
	partition string
	hash      string
}

// WithFragmentContext attaches the (partition, hash) pair being evaluated
// to ctx so a timeout error can name it.
func WithFragmentContext(ctx context.Context, partition, hash string) context.Context {
	return context.WithValue(ctx, fragmentCtxKey{}, fragmentLabel{partition: partition, hash: hash})
}

func formatValue(raw any, datatype cachecontract.Datatype) cachecontract.PartitionValue {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return cachecontract.PartitionValue(v)
	case int64:
		return cachecontract.PartitionValue(strconv.FormatInt(v, 10))
	case int32:
		return cachecontract.PartitionValue(strconv.FormatInt(int64(v), 10))
	case float64:
		return cachecontract.PartitionValue(strconv.FormatFloat(v, 'f', -1, 64))
	case time.Time:
		return cachecontract.PartitionValue(v.UTC().Format(time.RFC3339))
	case []byte:
		if datatype == cachecontract.Timestamp {
			if t, err := time.Parse(time.RFC3339, string(v)); err == nil {
				return cachecontract.PartitionValue(t.UTC().Format(time.RFC3339))
			}
		}

		return cachecontract.PartitionValue(v)
	default:
		return cachecontract.PartitionValue(fmt.Sprint(v))
	}
}
