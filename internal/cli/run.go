package cli

import (
	"context"
	"io"
	"log/slog"
	"slices"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/aretw0/tendril/pkg/adapters/console"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/muesli/termenv"
)

// ConsoleChannelID is the channel of executions started by RunConsole.
const ConsoleChannelID = "console"

const markdownWidth = 80

// RunOptions configures an interactive console session.
type RunOptions struct {
	FlowID   string
	Headless bool
	Input    io.Reader
	Output   io.Writer
}

// RunConsole runs one flow against the configured store, printing
// outbound messages to opts.Output and reading replies from opts.Input.
// Headless sessions print no banner, no prompt and no styling; interactive
// sessions render message text as markdown.
func RunConsole(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts RunOptions) error {
	local := *cfg
	local.Channels = append(slices.Clone(cfg.Channels), router.ChannelConfig{ID: ConsoleChannelID})
	local.Telegram.Enabled = false

	runner := tendril.NewRunner(opts.Input, opts.Output)
	runner.Headless = opts.Headless

	var gwOpts []console.Option
	if opts.Headless {
		gwOpts = append(gwOpts, console.WithProfile(termenv.Ascii))
	} else {
		render, err := tui.NewRenderer(markdownWidth)
		if err != nil {
			return err
		}
		gwOpts = append(gwOpts, console.WithMarkdown(render))
		tui.PrintBanner(opts.Output)
	}

	app, err := NewApp(ctx, &local, logger, WithGateway(runner.Observe(console.NewGateway(opts.Output, gwOpts...))))
	if err != nil {
		return err
	}
	defer app.Close()

	return runner.Run(ctx, app.Engine, opts.FlowID)
}
