package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"maxprint.app/orderflow/core/config"
	"maxprint.app/orderflow/internal/trello"
)

// NewRootCmd builds the orderctl command tree: webhook subscription
// management, table setup, manual queue drains, and board discovery.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "orderctl",
		Short:        "Operator tooling for the orderflow pipeline",
		SilenceUsage: true,
		Example: `  # One-time setup
  orderctl tables create
  orderctl webhook register --callback https://orders.example.com/trello/webhook

  # Day to day
  orderctl webhook list
  orderctl drain --max-items 100
  orderctl boards`,
	}

	cmd.AddCommand(
		newWebhookCmd(),
		newTablesCmd(),
		newDrainCmd(),
		newBoardsCmd(),
	)
	return cmd
}

func loadConfig() (config.Config, error) {
	// Worker env files carry the full credential set the CLI needs.
	return config.Load(config.ServiceTypeWorker)
}

func newTrelloClient(cfg config.Config) *trello.Client {
	return trello.NewClient(cfg.Trello.Key, cfg.Trello.Token)
}

func writeJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
