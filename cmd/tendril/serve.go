package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/tendril/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and channel pollers",
	Long: `Starts the engine behind the HTTP API (executions, SSE events, Messenger webhook)
and, when enabled, the Telegram long poller. Stops gracefully on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := cli.NewApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		logger.Info("starting tendril server", "addr", cfg.HTTP.Addr, "flows", cfg.FlowsDir, "store", cfg.Store.Type)
		if err := cli.Serve(ctx, app); err != nil {
			return err
		}
		logger.Info("tendril server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides http.addr)")
}
