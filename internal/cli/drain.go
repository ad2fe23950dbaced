package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"maxprint.app/orderflow/common/id"
	"maxprint.app/orderflow/core/bq"
	"maxprint.app/orderflow/internal/store"
)

func newDrainCmd() *cobra.Command {
	var maxItems int

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run one pass over the pending-operation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := id.Init(3); err != nil {
				return err
			}
			client, err := bq.New(cmd.Context(), cfg.BigQuery)
			if err != nil {
				return fmt.Errorf("connecting to bigquery: %w", err)
			}
			defer client.Close()

			if maxItems <= 0 {
				maxItems = cfg.Drain.MaxItems
			}
			st := store.New(client,
				store.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, InitialDelay: cfg.Retry.InitialDelay},
				cfg.Drain.MaxRetries)

			stats, err := st.ProcessRetryQueue(cmd.Context(), maxItems)
			if err != nil {
				return err
			}
			return writeJSON(cmd, stats)
		},
	}

	cmd.Flags().IntVar(&maxItems, "max-items", 0, "maximum queue items to process (default DRAIN_MAX_ITEMS)")
	return cmd
}
