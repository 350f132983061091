package main

import (
	"encoding/json"

	"warimas-pos/internal/order"

	"github.com/spf13/cobra"
)

type stagedOrder struct {
	*order.LocalOrder
	Items []*order.LocalOrderItem `json:"items"`
}

func newCartCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Inspect locally staged carts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print staged draft orders with their items as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlDB, conn, err := opts.openStore()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			repo := order.NewRepository(conn)
			ctx := cmd.Context()

			drafts, err := repo.GetAllOrders(ctx)
			if err != nil {
				return err
			}

			staged := make([]stagedOrder, 0, len(drafts))
			for _, o := range drafts {
				items, err := repo.GetOrderItems(ctx, o.ID)
				if err != nil {
					return err
				}
				staged = append(staged, stagedOrder{LocalOrder: o, Items: items})
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(staged)
		},
	})

	return cmd
}
