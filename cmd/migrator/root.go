package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dbmigrator/internal/config"
	"dbmigrator/internal/db"
	"dbmigrator/internal/logging"
	"dbmigrator/internal/migrate"
	"dbmigrator/internal/sqlfile"
)

// app carries what PersistentPreRunE resolved to the subcommands.
type app struct {
	configPath string
	trace      bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "migrator",
		Short:         "Apply and revert versioned database schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &config.ArgumentError{Param: "flags", Message: err.Error()}
	})

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to a JSON config file.")
	flags.String("provider", "", "Database provider: postgres, mysql or sqlite.")
	flags.String("dsn", "", "Connection string for the provider.")
	flags.String("migrations", "", "Directory holding <version>_<name>.up.sql / .down.sql scripts.")
	flags.String("schema", "", "Schema tag partitioning the migration history.")
	flags.StringP("log-level", "l", "", "The logging level, e.g. 'debug', 'info', 'error'.")
	flags.BoolP("pretty", "p", false, "Use pretty logging instead of JSON logging.")
	flags.BoolVar(&a.trace, "trace", false, "Log every statement (forces debug level).")
	flags.Duration("timeout", 0, "Abort the command after this long, e.g. 30s.")

	root.AddCommand(
		newMigrateCmd(a),
		newPlanCmd(a),
		newListCmd(a),
		newDumpCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	// Source order determines precedence. The last source loaded will
	// override any previous values.
	var sources []*config.Source
	if a.configPath != "" {
		sources = append(sources, config.NewJSONFileSource(a.configPath))
	}
	sources = append(sources,
		config.NewEnvVarSource(),
		config.NewPFlagSource(cmd.Flags()),
	)

	cfg, err := config.Load(sources...)
	if err != nil {
		return fmt.Errorf("failed to load configs: %w", err)
	}
	if a.trace {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg, cmd.ErrOrStderr())
	if err != nil {
		return &config.ArgumentError{Param: "log-level", Message: err.Error()}
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// runContext is cancelled on SIGINT/SIGTERM and, when bounded, after the
// configured timeout.
func (a *app) runContext(cmd *cobra.Command, bounded bool) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if !bounded || a.cfg.Timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// engine validates the config, then opens a provider and builds an engine
// over the configured catalog. The caller closes the provider.
func (a *app) engine(ctx context.Context, opts ...migrate.Option) (*migrate.Engine, *db.Provider, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	catalog, err := sqlfile.NewRegistry(a.cfg.Migrations, a.logger)
	if err != nil {
		return nil, nil, err
	}
	p, err := db.Open(ctx, a.cfg.DB, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("db connection failed: %w", err)
	}

	opts = append([]migrate.Option{
		migrate.WithSchema(a.cfg.DB.Schema),
		migrate.WithLogger(a.logger),
	}, opts...)
	return migrate.New(p, catalog, opts...), p, nil
}
