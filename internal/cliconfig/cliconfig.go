// Package cliconfig holds the flag-parsed configuration shared by
// cmd/partitioncache's subcommands. Configuration loading lives entirely
// here and in cmd/, never in the core packages (spec.md §6: "exit codes,
// flags, and persisted configuration layouts belong to the CLI layer").
package cliconfig

import (
	"context"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/bolt"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/memory"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/postgres"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/redisbit"
	"github.com/MPoppinga/partitioncache/internal/cachecontract/backend/redisset"
	"github.com/MPoppinga/partitioncache/internal/errutil"
	"github.com/MPoppinga/partitioncache/pkg/database"
	"github.com/redis/go-redis/v9"
)

// Config is the flag-backed configuration every subcommand resolves a
// Handler and partition-key metadata from.
type Config struct {
	Partition      string
	Datatype       string
	Bitsize        uint64
	GeometryColumn string

	CacheBackend string // memory, bolt, postgres-set, postgres-bit, redisset, redisbit
	DatabaseURL  string
	RedisAddr    string
	BoltPath     string
}

// ResolveDatatype maps the --datatype flag value to cachecontract.Datatype.
func (c *Config) ResolveDatatype() (cachecontract.Datatype, error) {
	switch c.Datatype {
	case "integer", "":
		return cachecontract.Integer, nil
	case "float":
		return cachecontract.Float, nil
	case "text":
		return cachecontract.Text, nil
	case "timestamp":
		return cachecontract.Timestamp, nil
	default:
		return 0, errutil.Wrap("resolve datatype", errUnknownDatatype(c.Datatype))
	}
}

// BuildHandler constructs the configured cache Handler.
func (c *Config) BuildHandler(ctx context.Context) (cachecontract.Handler, error) {
	switch c.CacheBackend {
	case "", "memory":
		return memory.New(), nil
	case "bolt":
		return bolt.Open(c.BoltPath)
	case "postgres-set":
		pool, err := database.NewPoolFromURL(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}

		return postgres.NewSetBackend(pool), nil
	case "postgres-bit":
		pool, err := database.NewPoolFromURL(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}

		return postgres.NewBitBackend(pool, c.Bitsize), nil
	case "redisset":
		return redisset.New(redis.NewClient(&redis.Options{Addr: c.RedisAddr})), nil
	case "redisbit":
		return redisbit.New(redis.NewClient(&redis.Options{Addr: c.RedisAddr}), c.Bitsize), nil
	default:
		return nil, errutil.Wrap("build cache handler", errUnknownBackend(c.CacheBackend))
	}
}
