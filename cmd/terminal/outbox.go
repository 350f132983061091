package main

import (
	"fmt"

	"warimas-pos/internal/outbox"

	"github.com/spf13/cobra"
)

func newOutboxCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the mutation outbox",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print pending and failed mutation counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(opts, func(q *outbox.Queue) error {
				s := q.Refresh(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "pending: %d\nfailed: %d\n", s.PendingCount, s.FailedCount)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Make failed mutations pending again",
		Long:  "Resets attempts of every failed mutation; a running terminal sends them on its next drain.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(opts, func(q *outbox.Queue) error {
				n, err := q.RetryFailedMutations(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d failed mutations\n", n)
				return nil
			})
		},
	})

	return cmd
}

// withQueue hands fn a queue over the local store that is never started, so
// nothing is sent from the CLI.
func withQueue(opts *rootOptions, fn func(q *outbox.Queue) error) error {
	sqlDB, conn, err := opts.openStore()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	q := outbox.NewQueue(outbox.NewRepository(conn), nil, nil, outbox.OptionsFromConfig(opts.cfg))
	return fn(q)
}
