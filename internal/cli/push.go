package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MPoppinga/partitioncache/internal/queue"
	"github.com/MPoppinga/partitioncache/pkg/database"
)

func newPushCommand() *cobra.Command {
	var partition string

	var dbURL string

	cmd := &cobra.Command{
		Use:   "push <query>",
		Short: "Enqueue a raw query for asynchronous decomposition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd.Context(), partition, dbURL, args[0])
		},
	}

	cmd.Flags().StringVar(&partition, "partition", "", "partition key column name (required)")
	cmd.Flags().StringVar(&dbURL, "queue-db-url", "", "Postgres connection URL backing the queue (required)")
	cmd.MarkFlagRequired("partition")    //nolint:errcheck
	cmd.MarkFlagRequired("queue-db-url") //nolint:errcheck

	return cmd
}

func runPush(ctx context.Context, partition, dbURL, sql string) error {
	pool, err := database.NewPoolFromURL(ctx, dbURL)
	if err != nil {
		return err
	}

	backend, err := queue.NewPostgresBackend(ctx, pool)
	if err != nil {
		return err
	}
	defer backend.Close() //nolint:errcheck

	if err := backend.PushOriginal(ctx, partition, sql); err != nil {
		return err
	}

	fmt.Println("query enqueued")

	return nil
}
