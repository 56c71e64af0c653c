package cli

import (
	"errors"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"idea-tracker/internal/config"
	"idea-tracker/internal/ratelimit"
)

var errRedisStore = errors.New("rate limit counters live in redis; inspect them with redis-cli")

func newRateLimitCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ratelimit",
		Aliases: []string{"rate-limit"},
		Short:   "Inspect and reset persisted rate limit counters",
	}
	cmd.AddCommand(newRateLimitListCommand(flags), newRateLimitResetCommand(flags))
	return cmd
}

func newRateLimitListCommand(flags *globalFlags) *cobra.Command {
	var (
		prefix string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, database, err := flags.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()
			if cfg.RateLimit.Store != config.StoreSQL {
				return errRedisStore
			}

			now := time.Now().UTC()
			counters, err := ratelimit.NewRepository(database).List(cmd.Context(), strings.TrimSpace(prefix), now, limit)
			if err != nil {
				return err
			}
			if len(counters) == 0 {
				printf(cmd.OutOrStdout(), "(no live rate limit counters)\n")
				return nil
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Key", "Count", "Window Start", "Expires In"})
			for _, counter := range counters {
				t.AppendRow(table.Row{
					counter.Key,
					counter.Count,
					formatTime(&counter.WindowStart),
					counter.ExpiresAt.Sub(now).Round(time.Second).String(),
				})
			}
			printf(cmd.OutOrStdout(), "%s\n", t.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only keys starting with this prefix, e.g. auth:login:")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows to show")
	return cmd
}

func newRateLimitResetCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset KEY",
		Short: "Delete a counter; a trailing * deletes every key with that prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			if key == "" || key == "*" {
				return errors.New("refusing to reset an empty key or every counter")
			}

			cfg, database, err := flags.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()
			if cfg.RateLimit.Store != config.StoreSQL {
				return errRedisStore
			}

			deleted, err := ratelimit.NewRepository(database).Reset(cmd.Context(), key)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "deleted %d counter(s)\n", deleted)
			return nil
		},
	}
}
