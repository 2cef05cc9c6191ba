package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/switchboard/internal/definition"
	"github.com/pitabwire/switchboard/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate definition files",
	Long:  "Load every definition file from the configured directories, check it and report errors without starting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		loader, err := definition.NewLoader(cfg.Definitions.SecretsFiles)
		if err != nil {
			return err
		}

		loaded, err := engine.LoadDefinitions(loader, cfg.Definitions.Directories)
		out := cmd.OutOrStdout()
		for _, w := range loaded.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
		}
		if err != nil {
			return describeError(err)
		}

		if jsonOutput {
			return printJSON(out, map[string]any{
				"connectors": len(loaded.Definitions.Connectors),
				"workflows":  len(loaded.Definitions.Workflows),
				"sources":    loaded.Sources,
				"checksum":   loaded.Checksum,
			})
		}
		fmt.Fprintf(out, "%d connectors, %d workflows in %d files (checksum %s)\n",
			len(loaded.Definitions.Connectors), len(loaded.Definitions.Workflows),
			len(loaded.Sources), loaded.Checksum)
		return nil
	},
}
