package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/aretw0/tendril/internal/cli"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run <flow-id>",
	Short: "Run a flow interactively in the terminal",
	Long: `Starts an execution of the flow on the console channel. Replies are read from
stdin; numbered choices can be picked by number or title. Piped input implies --headless.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		headless, _ := cmd.Flags().GetBool("headless")
		if !cmd.Flags().Changed("headless") && !term.IsTerminal(int(os.Stdin.Fd())) {
			headless = true
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		return cli.RunConsole(ctx, cfg, logger, cli.RunOptions{
			FlowID:   args[0],
			Headless: headless,
			Input:    cmd.InOrStdin(),
			Output:   cmd.OutOrStdout(),
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("headless", false, "Run in headless mode (no prompts, no styling)")
}
