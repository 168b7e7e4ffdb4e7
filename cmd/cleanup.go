package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <session-id>...",
		Short: "Delete the working files of processing sessions",
		Long: `Asks the processing service to delete the files it keeps for each session.
Session ids are printed by the process and reconstruct commands.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.client()
			var errs []error
			rows := make([]row, 0, len(args))
			for _, id := range args {
				if err := client.Cleanup(cmd.Context(), id); err != nil {
					slog.Error("Cleanup failed", "session_id", id, "err", err)
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					rows = append(rows, row{id, failStyle.Render("failed")})
					continue
				}
				rows = append(rows, row{id, okStyle.Render("removed")})
			}
			renderSummary(cmd.OutOrStdout(), "Cleanup", len(errs) == 0, rows)
			return errors.Join(errs...)
		},
	}
}
