package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/app"
	"github.com/leozw/health-guardian/internal/config"
)

type cli struct {
	configPath string
	verbose    bool
	jsonOutput bool

	engine *app.App
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	err := c.rootCommand().ExecuteContext(ctx)
	c.close()
	if err != nil {
		stop()
		fmt.Fprintln(os.Stderr, Colors.Error("Error:"), err)
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "healthctl",
		Short:         "Run and inspect marketplace health checks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default ./config.yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log engine activity to stderr")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Print JSON instead of tables")

	root.AddCommand(
		c.runCommand(),
		c.statusCommand(),
		c.historyCommand(),
		c.exportCommand(),
		c.reportCommand(),
		c.modulesCommand(),
		c.migrateCommand(),
	)
	return root
}

// open builds the engine on first use.
func (c *cli) open() (*app.App, error) {
	if c.engine != nil {
		return c.engine, nil
	}

	cfg, err := config.LoadFile(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	c.logger = zap.NewNop()
	if c.verbose {
		if c.logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	engine, err := app.New(cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.engine = engine
	return engine, nil
}

func (c *cli) close() {
	if c.engine != nil {
		c.engine.Close()
		c.engine = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}
