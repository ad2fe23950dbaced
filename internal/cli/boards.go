package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBoardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards [board-id]",
		Short: "List boards visible to the configured Trello token",
		Long: `List boards visible to the configured Trello token.

With a board id, fetches just that board, which doubles as an access check
for the credentials in the environment.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newTrelloClient(cfg)
			if len(args) == 1 {
				board, err := client.GetBoard(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("fetching board %s: %w", args[0], err)
				}
				return writeJSON(cmd, board)
			}
			boards, err := client.ListBoards(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing boards: %w", err)
			}
			return writeJSON(cmd, boards)
		},
	}
}
