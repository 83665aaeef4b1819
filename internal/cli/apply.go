package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MPoppinga/partitioncache/internal/applycache"
	"github.com/MPoppinga/partitioncache/internal/cachecontract"
)

func newApplyCommand() *cobra.Command {
	var cache *cacheFlags

	var frag *fragmentFlags

	var lazy bool

	cmd := &cobra.Command{
		Use:   "apply <query>",
		Short: "Print the rewritten query plus hit/fragment counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), cache, frag, lazy, args[0])
		},
	}

	cache = addCacheFlags(cmd)
	frag = addFragmentFlags(cmd)
	cmd.Flags().BoolVar(&lazy, "lazy", false, "use the backend's lazy intersection SQL instead of materialized values")

	return cmd
}

func runApply(ctx context.Context, cache *cacheFlags, frag *fragmentFlags, lazy bool, sql string) error {
	handler, err := cache.cfg.BuildHandler(ctx)
	if err != nil {
		return err
	}
	defer handler.Close() //nolint:errcheck

	registry := cachecontract.NewRegistry(handler)

	opts := frag.toOptions()
	opts.GeometryColumn = cache.cfg.GeometryColumn

	applier := applycache.New(handler, registry, cache.cfg.Partition)

	var result applycache.Result
	if lazy {
		result, err = applier.ApplyLazy(ctx, sql, opts)
	} else {
		result, err = applier.Apply(ctx, sql, opts)
	}

	if err != nil {
		return err
	}

	fmt.Println(result.Query)
	fmt.Printf("hit_count=%d fragment_count=%d\n", result.HitCount, result.FragmentCount)

	return nil
}
