package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leozw/health-guardian/internal/core"
	"github.com/leozw/health-guardian/internal/db"
	"github.com/leozw/health-guardian/internal/health"
)

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [module]",
		Short: "Run all health checks, or a single module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.open()
			if err != nil {
				return err
			}

			var summary *core.SystemHealthSummary
			if len(args) == 1 {
				summary, err = engine.Health.RunSingle(cmd.Context(), args[0])
			} else {
				summary, err = engine.Health.RunAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func (c *cli) statusCommand() *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last published summary",
		Long:  "Reads the summary mirrored in Redis by a running server. Falls back to a local sweep when none is available.",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.open()
			if err != nil {
				return err
			}

			var summary *core.SystemHealthSummary
			if !fresh && engine.Cache != nil {
				summary, err = engine.Cache.CachedSummary(cmd.Context())
				if err != nil {
					c.logger.Sugar().Debugf("no mirrored summary: %v", err)
				}
			}
			if summary == nil {
				if summary, err = engine.Health.LastSummary(cmd.Context()); err != nil {
					return err
				}
			}

			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore the mirrored summary and run a sweep")
	return cmd
}

func (c *cli) historyCommand() *cobra.Command {
	var (
		module string
		limit  int
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted module results, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.open()
			if err != nil {
				return err
			}

			q := core.HistoryQuery{Limit: limit}
			if since > 0 {
				start := time.Now().Add(-since)
				q.Start = &start
			}

			var results []core.PersistedResult
			if module != "" {
				results, err = engine.Health.ModuleHistory(cmd.Context(), module, q)
			} else {
				results, err = engine.Health.History(cmd.Context(), q)
			}
			if err != nil {
				return err
			}

			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), results)
			}
			printHistory(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().StringVar(&module, "module", "", "Only show this module")
	cmd.Flags().IntVar(&limit, "limit", health.DefaultHistoryLimit, "Max entries to show")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show results newer than this (e.g. 24h)")
	return cmd
}

func (c *cli) exportCommand() *cobra.Command {
	var (
		format     string
		out        string
		start, end string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted results as JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseDate(start)
			if err != nil {
				return err
			}
			to, err := parseDate(end)
			if err != nil {
				return err
			}

			engine, err := c.open()
			if err != nil {
				return err
			}
			blob, err := engine.Health.Export(cmd.Context(), format, from, to)
			if err != nil {
				return err
			}

			if out == "" {
				out = blob.Filename
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(blob.Data)
				return err
			}
			if err := os.WriteFile(out, blob.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d bytes)\n", Colors.Success("Exported"), out, len(blob.Data))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", health.FormatJSON, "Export format: json or csv")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file, - for stdout (default health-check-export.<format>)")
	cmd.Flags().StringVar(&start, "start", "", "Start date (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "End date (RFC3339)")
	return cmd
}

func (c *cli) reportCommand() *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a trend report (default last 7 days)",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseDate(start)
			if err != nil {
				return err
			}
			to, err := parseDate(end)
			if err != nil {
				return err
			}

			engine, err := c.open()
			if err != nil {
				return err
			}
			report, err := engine.Health.GenerateReport(cmd.Context(), deref(from), deref(to))
			if errors.Is(err, health.ErrNoHistory) {
				fmt.Fprintln(cmd.OutOrStdout(), Colors.Warning("No health checks recorded in this period."))
				return nil
			}
			if err != nil {
				return err
			}

			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Start date (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "End date (RFC3339)")
	return cmd
}

func (c *cli) modulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the registered health check modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.open()
			if err != nil {
				return err
			}
			modules := engine.Health.Modules()
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), modules)
			}
			printModules(cmd.OutOrStdout(), modules)
			return nil
		},
	}
}

func (c *cli) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.open()
			if err != nil {
				return err
			}
			if engine.DB == nil {
				return errors.New("DATABASE_URL is not configured")
			}

			if err := db.Migrate(engine.DB); err != nil {
				return err
			}
			version, dirty, err := db.MigrationVersion(engine.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema version %d (dirty: %t)\n", Colors.Success("Migrated"), version, dirty)
			return nil
		},
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected RFC3339", raw)
	}
	return &t, nil
}
