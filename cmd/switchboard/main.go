// Package main is the entry point for the switchboard binary. It exposes the
// engine as an HTTP server, an MCP stdio server and one-shot commands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/internal/engine"
	"github.com/pitabwire/switchboard/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "switchboard",
	Short:         "Run connectors and workflows for an editor host",
	Long:          "Switchboard executes connector actions and multi-step workflows defined in YAML, over HTTP, MCP or the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.Version = version
		observability.Commit = commit
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default: built-in defaults)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "switchboard %s (%s)\n", version, commit)
	},
}

// loadConfig reads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// oneShot adjusts cfg for commands that run a single invocation and exit:
// no cron schedules, and user steps are approved immediately since nobody is
// around to resolve them.
func oneShot(cfg *config.Config) {
	cfg.Workflow.Scheduler.Enabled = false
	cfg.Workflow.Approval.Mode = "auto"
}

// openEngine builds an engine with definitions loaded. Logs go to stderr so
// stdout carries only command output.
func openEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, *zap.Logger, error) {
	logger, err := observability.NewLoggerTo(cfg.Observability, "stderr")
	if err != nil {
		return nil, nil, fmt.Errorf("logger error: %w", err)
	}

	eng, err := engine.New(ctx, cfg, engine.Options{Logger: logger})
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	if _, err := eng.Reload(ctx); err != nil {
		eng.Close()
		logger.Sync()
		return nil, nil, describeError(err)
	}
	return eng, logger, nil
}
