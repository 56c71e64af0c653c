package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"idea-tracker/internal/app"
)

func newCleanupCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Prune expired refresh tokens, stale login attempts and expired counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, database, err := flags.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			result, err := app.NewCleaner(cfg, database).Run(cmd.Context())
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
}
