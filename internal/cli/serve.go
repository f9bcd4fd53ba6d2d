package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpAdapter "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/adapters/telegram"
	"github.com/aretw0/tendril/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long in-flight requests may take once the
// server is asked to stop.
const ShutdownTimeout = 5 * time.Second

// Handler returns the HTTP API of the app.
func (a *App) Handler() http.Handler {
	opts := []httpAdapter.Option{
		httpAdapter.WithDispatcher(a.Dispatcher),
		httpAdapter.WithStreams(a.Streams),
		httpAdapter.WithMessengerVerifyToken(a.Config.Messenger.VerifyToken),
		httpAdapter.WithMessengerAppSecret(a.Config.Messenger.AppSecret),
		httpAdapter.WithMaxInputSize(a.Config.HTTP.MaxInputSize),
		httpAdapter.WithLogger(a.Logger),
	}
	if a.Metrics != nil {
		opts = append(opts, httpAdapter.WithMetricsHandler(a.Metrics.Handler()))
	}
	return httpAdapter.NewHandler(a.Engine, opts...)
}

// Serve runs the HTTP server, and the Telegram poller when enabled, until
// ctx is done or one of them fails.
func Serve(ctx context.Context, app *App) error {
	var poller *telegram.Poller
	if app.Telegram != nil {
		var err error
		if poller, err = app.telegramPoller(); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              app.Config.HTTP.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Info("starting tendril server", "addr", srv.Addr, "flows_dir", app.Config.FlowsDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Warn("graceful shutdown did not complete", "timeout", ShutdownTimeout, "err", err)
			return srv.Close()
		}
		app.Logger.Info("tendril server stopped gracefully")
		return nil
	})

	if poller != nil {
		g.Go(func() error {
			err := poller.Run(ctx, func(ctx context.Context, ev domain.InboundEvent) error {
				_, err := app.Dispatcher.Dispatch(ctx, ev)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func (a *App) telegramPoller() (*telegram.Poller, error) {
	tg := a.Config.Telegram
	ch, ok := a.Config.Channel(tg.ChannelID)
	if !ok {
		return nil, fmt.Errorf("telegram channel %q is not configured", tg.ChannelID)
	}
	bot, err := a.Telegram.Bot(ch.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	a.Logger.Info("telegram polling enabled", "channel_id", ch.ID, "bot", bot.Self.UserName)
	return telegram.NewPoller(bot, ch.ID,
		telegram.WithPollTimeout(tg.PollTimeout),
		telegram.WithPollerLogger(a.Logger),
		telegram.WithPollerCallbacks(a.Telegram.Callbacks()),
	), nil
}
