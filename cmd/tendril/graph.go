package main

import (
	"fmt"

	"github.com/aretw0/tendril/internal/cli"
	presentation "github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/pkg/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <flow-id|file>",
	Short: "Export the flow graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the flow. With --execution, the nodes
visited by that execution in the configured store are highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		def, err := loadFlow(ctx, cfg, args[0])
		if err != nil {
			return err
		}
		g, err := graph.Compile(def)
		if err != nil {
			return err
		}

		var overlay *presentation.GraphOverlay
		if execID, _ := cmd.Flags().GetString("execution"); execID != "" {
			app, err := cli.NewApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			exec, err := app.Engine.GetExecution(ctx, execID)
			if err != nil {
				return err
			}
			records, err := app.Engine.ListRecords(ctx, execID)
			if err != nil {
				return err
			}
			overlay = presentation.OverlayFor(exec, records)
		}

		fmt.Fprint(cmd.OutOrStdout(), presentation.GenerateMermaid(g, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("execution", "e", "", "Highlight the path of this execution")
}
