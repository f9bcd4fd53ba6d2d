package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/adapters/file"
	"github.com/aretw0/tendril/pkg/graph"
	"github.com/spf13/cobra"
)

var errInvalidFlows = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate [flow-id|file]...",
	Short: "Check flows for consistency",
	Long: `Compiles each flow (every flow in the flows directory when none is given) and
reports definition errors. Nodes unreachable from the start node are reported as warnings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		refs := args
		if len(refs) == 0 {
			if refs, err = file.NewRepository(cfg.FlowsDir).ListFlows(ctx); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		failed := 0
		for _, ref := range refs {
			def, err := loadFlow(ctx, cfg, ref)
			if err == nil {
				var g *graph.Graph
				if g, err = graph.Compile(def); err == nil {
					fmt.Fprintf(out, "ok    %s\n", ref)
					if lost := g.Unreachable(); len(lost) > 0 {
						fmt.Fprintf(out, "warn  %s: unreachable nodes: %s\n", ref, strings.Join(lost, ", "))
					}
					continue
				}
			}
			failed++
			fmt.Fprintf(out, "fail  %s: %v\n", ref, err)
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d flows", errInvalidFlows, failed, len(refs))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
