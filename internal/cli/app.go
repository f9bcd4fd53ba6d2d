// Package cli assembles a tendril application from configuration and
// runs it as a server or an interactive console session.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/pkg/adapters/ai"
	"github.com/aretw0/tendril/pkg/adapters/file"
	httpAdapter "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/adapters/messenger"
	"github.com/aretw0/tendril/pkg/adapters/postgres"
	"github.com/aretw0/tendril/pkg/adapters/redis"
	"github.com/aretw0/tendril/pkg/adapters/telegram"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/aretw0/tendril/pkg/session"
)

// App is a fully wired engine with its inbound side.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Engine     *tendril.Engine
	Dispatcher *router.Dispatcher
	Channels   router.Channels
	Streams    *httpAdapter.StreamManager
	Metrics    *observability.Metrics
	Telegram   *telegram.Gateway

	closers []func() error
}

// AppOption customises NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	gateway ports.MessagingGateway
}

// WithGateway replaces the channel gateways, e.g. with a console gateway.
func WithGateway(g ports.MessagingGateway) AppOption {
	return func(o *appOptions) { o.gateway = g }
}

// NewApp builds every component named by cfg. Callers must Close the app.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Channels: router.NewChannels(cfg.Channels...),
		Streams:  httpAdapter.NewStreamManager(httpAdapter.WithStreamLogger(logger)),
	}
	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	store, catalog, locker, err := app.openStore(ctx)
	if err != nil {
		return fail(err)
	}

	flows := file.NewRepository(cfg.FlowsDir)

	gateway := o.gateway
	if gateway == nil {
		gateway = app.channelGateway()
	}

	hooks := []domain.LifecycleHooks{app.Streams.Hooks(), observability.LogHooks(logger)}
	if cfg.HTTP.Metrics {
		app.Metrics = observability.NewMetrics()
		hooks = append(hooks, app.Metrics.Hooks())
	}

	engineOpts := []tendril.Option{
		tendril.WithFlows(flows),
		tendril.WithStore(store),
		tendril.WithGateway(gateway),
		tendril.WithTokenSource(app.Channels),
		tendril.WithProductCatalog(catalog),
		tendril.WithLifecycleHooks(domain.CombineHooks(hooks...)),
		tendril.WithLogger(logger),
	}
	if cfg.AI.Enabled() {
		provider, err := ai.NewProvider(ctx, cfg.AI.Config)
		if err != nil {
			return fail(fmt.Errorf("failed to create AI provider: %w", err))
		}
		engineOpts = append(engineOpts, tendril.WithAIProvider(provider), tendril.WithAIConfig(cfg.AI.Engine()))
	}

	app.Engine, err = tendril.New(engineOpts...)
	if err != nil {
		return fail(fmt.Errorf("error initializing engine: %w", err))
	}

	sessionOpts := []session.Option{session.WithLogger(logger)}
	if locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(locker), session.WithLockTTL(cfg.Store.Redis.LockTTL))
	}
	app.Dispatcher = router.NewDispatcher(app.Engine, app.Channels,
		router.WithSessionManager(session.NewManager(sessionOpts...)),
		router.WithMaxInputSize(cfg.HTTP.MaxInputSize),
		router.WithLogger(logger),
	)
	return app, nil
}

// openStore creates the configured backend, wrapped with encryption when
// a key is set. The locker is nil for the in-process memory store.
func (a *App) openStore(ctx context.Context) (ports.Store, ports.ProductCatalog, ports.DistributedLocker, error) {
	cfg := a.Config.Store

	var (
		store   ports.Store
		catalog ports.ProductCatalog = memory.NewCatalog()
		locker  ports.DistributedLocker
	)
	switch cfg.Type {
	case config.StoreRedis:
		rs := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.TTL),
		)
		if err := rs.Client().Ping(ctx).Err(); err != nil {
			rs.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, rs.Close)
		store = rs
		locker = redis.NewLocker(rs.Client(), cfg.Redis.Prefix)
	case config.StorePostgres:
		ps, err := postgres.New(ctx, cfg.Postgres.DSN, postgres.WithTablePrefix(cfg.Postgres.TablePrefix))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		a.closers = append(a.closers, ps.Close)
		store, catalog = ps, ps
	default:
		store = memory.NewStore()
	}

	enc, err := a.Config.Encryption()
	if err != nil {
		return nil, nil, nil, err
	}
	if enc != nil {
		mw, err := middleware.NewEncryptionMiddleware(*enc)
		if err != nil {
			return nil, nil, nil, err
		}
		store = middleware.Chain(store, mw)
	}

	a.Logger.Info("store ready", "type", cfg.Type, "encrypted", enc != nil)
	return store, catalog, locker, nil
}

// channelGateway sends through Telegram for the Telegram channel and
// through Messenger for every other channel.
func (a *App) channelGateway() ports.MessagingGateway {
	msgOpts := []messenger.Option{messenger.WithLogger(a.Logger)}
	if a.Config.Messenger.BaseURL != "" {
		msgOpts = append(msgOpts, messenger.WithBaseURL(a.Config.Messenger.BaseURL))
	}
	gw := &tokenGateway{fallback: messenger.NewGateway(msgOpts...), byToken: map[string]ports.MessagingGateway{}}

	if tg := a.Config.Telegram; tg.Enabled {
		tgOpts := []telegram.Option{telegram.WithLogger(a.Logger)}
		if tg.APIEndpoint != "" {
			tgOpts = append(tgOpts, telegram.WithAPIEndpoint(tg.APIEndpoint))
		}
		a.Telegram = telegram.NewGateway(tgOpts...)
		if ch, ok := a.Config.Channel(tg.ChannelID); ok {
			gw.byToken[ch.AccessToken] = a.Telegram
		}
	}
	return gw
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
