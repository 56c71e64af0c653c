package cli

import (
	"github.com/spf13/cobra"

	"idea-tracker/internal/db"
)

func newMigrateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := flags.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			versions, err := db.AppliedMigrations(cmd.Context(), database)
			if err != nil {
				return err
			}
			for _, version := range versions {
				printf(cmd.OutOrStdout(), "applied %s\n", version)
			}
			return nil
		},
	}
}
