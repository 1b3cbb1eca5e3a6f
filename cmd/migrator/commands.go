package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dbmigrator/internal/db"
	"dbmigrator/internal/dump"
	"dbmigrator/internal/migrate"
	"dbmigrator/internal/server"
	"dbmigrator/internal/sqlfile"
)

func newMigrateCmd(a *app) *cobra.Command {
	var (
		target int64
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database to a target version (latest by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.runContext(cmd, true)
			defer cancel()

			engine, p, err := a.engine(ctx, migrate.WithDryRun(dryRun))
			if err != nil {
				return err
			}
			defer p.Close()

			var result migrate.Result
			if cmd.Flags().Changed("target") {
				result, err = engine.MigrateTo(ctx, target)
			} else {
				result, err = engine.MigrateToLatest(ctx)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Plan.Empty() {
				fmt.Fprintf(out, "Database is already at version %d.\n", result.Plan.Current)
				return nil
			}
			if err := printSteps(out, result.Executed); err != nil {
				return err
			}
			if result.DryRun {
				fmt.Fprintf(out, "Dry run: would migrate from version %d to %d.\n", result.Plan.Current, result.Plan.Target)
			} else {
				fmt.Fprintf(out, "Migrated from version %d to %d.\n", result.Plan.Current, result.Plan.Target)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&target, "target", 0, "Version to migrate to. Defaults to the latest available version.")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log the steps without executing them.")
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var target int64
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the steps a migrate run would take",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.runContext(cmd, true)
			defer cancel()

			engine, p, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			var plan migrate.Plan
			if cmd.Flags().Changed("target") {
				plan, err = engine.Plan(ctx, target)
			} else {
				plan, err = engine.PlanLatest(ctx)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Current version: %d\nTarget version: %d\n", plan.Current, plan.Target)
			if plan.Empty() {
				fmt.Fprintln(out, "Nothing to do.")
				return nil
			}
			return printSteps(out, plan.Steps)
		},
	}
	cmd.Flags().Int64Var(&target, "target", 0, "Version to plan for. Defaults to the latest available version.")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var showObsolete bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available migrations and mark the applied ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.runContext(cmd, true)
			defer cancel()

			engine, p, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			entries, err := engine.List(ctx, showObsolete)
			if err != nil {
				return err
			}
			return migrate.FormatList(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().BoolVar(&showObsolete, "obsolete", false, "Also show applied migrations marked obsolete.")
	return cmd
}

func newDumpCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the tables and columns of the database as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateConnection(); err != nil {
				return err
			}
			ctx, cancel := a.runContext(cmd, true)
			defer cancel()

			p, err := db.Open(ctx, a.cfg.DB, a.logger)
			if err != nil {
				return fmt.Errorf("db connection failed: %w", err)
			}
			defer p.Close()

			if out == "-" {
				return dump.Write(ctx, p, cmd.OutOrStdout())
			}
			if err := dump.ToFile(ctx, p, out); err != nil {
				return err
			}
			a.logger.Info("schema dumped", "path", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "File to write, or - for stdout.")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx, cancel := a.runContext(cmd, false)
			defer cancel()

			catalog, err := sqlfile.NewRegistry(a.cfg.Migrations, a.logger)
			if err != nil {
				return err
			}
			return server.Run(ctx, a.cfg, a.logger, catalog)
		},
	}
	cmd.Flags().String("addr", "", "Listen address, e.g. :8080.")
	return cmd
}

func printSteps(w io.Writer, steps []migrate.Step) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tDIRECTION\tNAME")
	for _, s := range steps {
		name := s.Name
		if s.Obsolete {
			name += " (obsolete)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Version, s.Direction, name)
	}
	return tw.Flush()
}
