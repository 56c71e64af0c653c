package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"idea-tracker/internal/app"
	"idea-tracker/internal/config"
	"idea-tracker/internal/db"
)

type globalFlags struct {
	configFile string
	noDotEnv   bool
}

// NewRootCommand builds the command tree. Output of every subcommand goes to
// the command's configured writer.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "ideatracker",
		Short:         "Idea tracker API server and operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "Optional config file (yaml, toml or json)")
	root.PersistentFlags().BoolVar(&flags.noDotEnv, "no-dotenv", false, "Do not load .env from the working directory")

	root.AddCommand(
		newServeCommand(flags),
		newMigrateCommand(flags),
		newCleanupCommand(flags),
		newRateLimitCommand(flags),
		newLockoutCommand(flags),
	)
	return root
}

func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (f *globalFlags) load() (*config.Config, error) {
	return config.Load(config.Options{ConfigFile: f.configFile, LoadDotEnv: !f.noDotEnv})
}

// openDatabase loads config and opens the database for a one-shot command.
// Migrations are applied first so operator commands work on a fresh file.
func (f *globalFlags) openDatabase(ctx context.Context) (*config.Config, *db.Conn, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	database, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(ctx, database); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return cfg, database, nil
}

func formatTime(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return value.UTC().Format(time.RFC3339)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
