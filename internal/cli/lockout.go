package cli

import (
	"errors"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"idea-tracker/internal/lockout"
)

func newLockoutCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lockout",
		Short: "Inspect and clear failed-login records",
	}
	cmd.AddCommand(newLockoutListCommand(flags), newLockoutClearCommand(flags))
	return cmd
}

func newLockoutListCommand(flags *globalFlags) *cobra.Command {
	var (
		lockedOnly bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List failed-login records, locked identifiers first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := flags.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			now := time.Now().UTC()
			records, err := lockout.NewRepository(database).List(cmd.Context(), now, lockedOnly, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				printf(cmd.OutOrStdout(), "(no failed-login records)\n")
				return nil
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Identifier", "Attempts", "Locked Until", "Updated"})
			for _, record := range records {
				lockedUntil := "-"
				if record.LockedUntil != nil && now.Before(*record.LockedUntil) {
					lockedUntil = formatTime(record.LockedUntil)
				}
				t.AppendRow(table.Row{record.Identifier, record.AttemptCount, lockedUntil, formatTime(&record.UpdatedAt)})
			}
			printf(cmd.OutOrStdout(), "%s\n", t.Render())
			return nil
		},
	}
	cmd.Flags().BoolVar(&lockedOnly, "locked", false, "Only identifiers that are currently locked")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows to show")
	return cmd
}

func newLockoutClearCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear EMAIL",
		Short: "Remove the failed-login record for an identifier, unlocking it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier := lockout.NormalizeIdentifier(args[0])
			if identifier == "" {
				return errors.New("identifier is required")
			}

			_, database, err := flags.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			found, err := lockout.NewRepository(database).Delete(cmd.Context(), identifier)
			if err != nil {
				return err
			}
			if !found {
				printf(cmd.OutOrStdout(), "no record for %s\n", identifier)
				return nil
			}
			printf(cmd.OutOrStdout(), "cleared %s\n", identifier)
			return nil
		},
	}
}
