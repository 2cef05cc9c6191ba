package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mcpserver "github.com/pitabwire/switchboard/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine as MCP tools over stdio",
	Long:  "Start a Model Context Protocol server on stdin/stdout exposing connector and workflow tools. Logs are written to stderr.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		eng, logger, err := openEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer eng.Close()

		logger.Info("mcp server started", zap.String("version", version))
		if err := mcpserver.RunServer(ctx, eng, version, logger); err != nil && ctx.Err() == nil {
			return err
		}
		logger.Info("mcp server stopped")
		return nil
	},
}
