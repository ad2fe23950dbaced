package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Trello webhook subscription",
	}
	cmd.AddCommand(newWebhookRegisterCmd(), newWebhookListCmd(), newWebhookDeleteCmd())
	return cmd
}

func newWebhookRegisterCmd() *cobra.Command {
	var boardID, callbackURL, description string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the webhook for the order board",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if boardID == "" {
				boardID = cfg.Trello.BoardID
			}
			if callbackURL == "" {
				callbackURL = cfg.Trello.CallbackURL
			}
			if boardID == "" || callbackURL == "" {
				return fmt.Errorf("board id and callback url are required (flags or TRELLO_BOARD_ID / TRELLO_WEBHOOK_CALLBACK_URL)")
			}

			hook, err := newTrelloClient(cfg).RegisterWebhook(cmd.Context(), boardID, callbackURL, description)
			if err != nil {
				return fmt.Errorf("registering webhook: %w", err)
			}
			return writeJSON(cmd, hook)
		},
	}

	cmd.Flags().StringVar(&boardID, "board", "", "board id to subscribe to (default TRELLO_BOARD_ID)")
	cmd.Flags().StringVar(&callbackURL, "callback", "", "public callback URL (default TRELLO_WEBHOOK_CALLBACK_URL)")
	cmd.Flags().StringVar(&description, "description", "orderflow webhook", "webhook description")
	return cmd
}

func newWebhookListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhooks registered for the configured token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			hooks, err := newTrelloClient(cfg).ListWebhooks(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing webhooks: %w", err)
			}
			return writeJSON(cmd, hooks)
		},
	}
}

func newWebhookDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <webhook-id>",
		Short: "Delete a webhook subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := newTrelloClient(cfg).DeleteWebhook(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deleting webhook: %w", err)
			}
			return writeJSON(cmd, map[string]string{"status": "deleted", "webhook_id": args[0]})
		},
	}
}
