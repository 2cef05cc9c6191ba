package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <connector> <action>",
	Short: "Invoke one connector action",
	Long:  "Load definitions, invoke a single connector action and print its response envelope as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawParams, _ := cmd.Flags().GetString("params")
		request, _ := cmd.Flags().GetString("request")
		activeFile, _ := cmd.Flags().GetString("file")

		params, err := parseParams(rawParams)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		oneShot(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		eng, logger, err := openEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer eng.Close()

		ictx := eng.InvocationContext(request)
		ictx.ActiveFile = activeFile
		return printResponse(cmd.OutOrStdout(), eng.Execute(ctx, args[0], args[1], params, ictx))
	},
}

var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Run a workflow",
	Long:  "Load definitions, run a workflow to completion and print its response envelope as JSON. User steps are approved automatically.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawVars, _ := cmd.Flags().GetString("vars")
		pairs, _ := cmd.Flags().GetStringArray("var")
		request, _ := cmd.Flags().GetString("request")

		base, err := parseParams(rawVars)
		if err != nil {
			return err
		}
		vars, err := parseVars(base, pairs)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		oneShot(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		eng, logger, err := openEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer eng.Close()

		resp := eng.RunWorkflowWith(ctx, args[0], vars, eng.InvocationContext(request))
		return printResponse(cmd.OutOrStdout(), resp)
	},
}

func init() {
	execCmd.Flags().StringP("params", "p", "", "action parameters as a JSON object")
	execCmd.Flags().StringP("request", "r", "", "natural-language request recorded in the invocation context")
	execCmd.Flags().StringP("file", "f", "", "active file recorded in the invocation context")

	runCmd.Flags().String("vars", "", "workflow variables as a JSON object")
	runCmd.Flags().StringArray("var", nil, "workflow variable as key=value (repeatable)")
	runCmd.Flags().StringP("request", "r", "", "natural-language request recorded in the invocation context")
}
