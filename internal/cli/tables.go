package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"maxprint.app/orderflow/core/bq"
)

func newTablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Manage the BigQuery dataset and tables",
	}
	cmd.AddCommand(newTablesCreateCmd())
	return cmd
}

func newTablesCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the dataset and any missing pipeline tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := bq.New(cmd.Context(), cfg.BigQuery)
			if err != nil {
				return fmt.Errorf("connecting to bigquery: %w", err)
			}
			defer client.Close()

			if err := client.EnsureTables(cmd.Context()); err != nil {
				return err
			}
			return writeJSON(cmd, map[string]string{
				"status":  "ok",
				"project": cfg.BigQuery.ProjectID,
				"dataset": cfg.BigQuery.DatasetID,
			})
		},
	}
}
