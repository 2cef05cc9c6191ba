package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pitabwire/switchboard/model"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List connectors and workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		oneShot(cfg)

		eng, logger, err := openEngine(context.Background(), cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer eng.Close()

		connectors := eng.Connectors()
		workflows := eng.Workflows()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"connectors": connectors,
				"workflows":  workflows,
			})
		}
		return writeListing(cmd.OutOrStdout(), connectors, workflows)
	},
}

func writeListing(w io.Writer, connectors []model.Connector, workflows []model.Workflow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTOR\tTYPE\tPRIORITY\tENABLED\tNAME")
	for _, c := range connectors {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", c.ID, c.Type, c.Priority, c.Enabled, c.Name)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "WORKFLOW\tSTEPS\tENABLED\tTRIGGERS\tNAME")
	for _, wf := range workflows {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\n", wf.ID, len(wf.Steps), wf.IsEnabled(), strings.Join(wf.Triggers, ","), wf.Name)
	}
	return tw.Flush()
}
