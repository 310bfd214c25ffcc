package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/app"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/rules"
)

type rootOptions struct {
	envFiles []string
}

// runtime is what every subcommand needs before doing work
type runtime struct {
	cfg    *config.Config
	logger ectologger.Logger
	flush  func()
}

func (o *rootOptions) load() (*runtime, error) {
	cfg, err := config.Load(o.envFiles...)
	if err != nil {
		return nil, err
	}
	logger, flush, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, flush: flush}, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "clover",
		Short:         "Contact deduplication and entity resolution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before the environment")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newScanCommand(opts),
		newRulesCommand(opts),
	)
	return root
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.load()
			if err != nil {
				return err
			}
			defer rt.flush()

			return withApp(cmd.Context(), rt, func(ctx context.Context, a *app.App) error {
				rt.logger.WithField("addr", rt.cfg.Addr()).Info("Starting clover API")
				return a.Server().Start(ctx)
			})
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.load()
			if err != nil {
				return err
			}
			defer rt.flush()
			return app.Migrate(cmd.Context(), rt.cfg, rt.logger)
		},
	}
}

func newScanCommand(opts *rootOptions) *cobra.Command {
	var scan models.ScanOptions
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one candidate scan and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.load()
			if err != nil {
				return err
			}
			defer rt.flush()

			return withApp(cmd.Context(), rt, func(ctx context.Context, a *app.App) error {
				report, err := a.Scanner.Scan(ctx, scan)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringSliceVar(&scan.Tables, "tables", nil, "limit the scan to rules touching these tables")
	cmd.Flags().StringSliceVar(&scan.RuleIDs, "rules", nil, "limit the scan to these rule ids")
	cmd.Flags().IntVar(&scan.MaxResults, "max-results", 0, "stop after this many new candidates")
	return cmd
}

func newRulesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage match rules",
	}

	var dryRun bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate and upsert rules from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.load()
			if err != nil {
				return err
			}
			defer rt.flush()

			parsed, err := rules.LoadFile(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				return validateRules(rt, parsed, cmd.OutOrStdout())
			}

			// only the file argument is imported, not the configured seed
			rt.cfg.RulesFile = ""
			return withApp(cmd.Context(), rt, func(ctx context.Context, a *app.App) error {
				imported, err := a.Rules.Import(ctx, parsed)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), imported)
			})
		},
	}
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate against the source catalog without writing")
	cmd.AddCommand(importCmd)
	return cmd
}

func validateRules(rt *runtime, parsed []models.Rule, out io.Writer) error {
	catalog, err := config.LoadCatalog(rt.cfg.SourcesFile)
	if err != nil {
		return err
	}
	engine, err := matching.NewEngine(rt.logger)
	if err != nil {
		return err
	}
	if err := rules.ValidateAll(engine, catalog, parsed); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%d rules valid\n", len(parsed))
	return err
}

func withApp(ctx context.Context, rt *runtime, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Stop(stopCtx); err != nil {
			rt.logger.WithError(err).Warn("Shutdown did not complete cleanly")
		}
	}()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
