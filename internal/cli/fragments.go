package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MPoppinga/partitioncache/internal/queryproc"
)

func newFragmentsCommand() *cobra.Command {
	var cache *cacheFlags

	var frag *fragmentFlags

	cmd := &cobra.Command{
		Use:   "fragments <query>",
		Short: "Print the canonical fragments and hashes a query decomposes into",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runFragments(cache, frag, args[0])
		},
	}

	cache = addCacheFlags(cmd)
	frag = addFragmentFlags(cmd)

	return cmd
}

func runFragments(cache *cacheFlags, frag *fragmentFlags, sql string) error {
	opts := frag.toOptions()
	opts.GeometryColumn = cache.cfg.GeometryColumn

	fragments, err := queryproc.GenerateFragments(sql, cache.cfg.Partition, opts)
	if err != nil {
		return err
	}

	for _, f := range fragments {
		fmt.Printf("%s  %s\n", f.Hash, f.Text)
	}

	return nil
}
