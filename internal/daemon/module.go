// Package daemon wires crmchatd together with fx.
package daemon

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/api"
	"github.com/skdvlpr/gomercatocrm/internal/bridge"
	"github.com/skdvlpr/gomercatocrm/internal/bus"
	"github.com/skdvlpr/gomercatocrm/internal/config"
	"github.com/skdvlpr/gomercatocrm/internal/greeter"
	"github.com/skdvlpr/gomercatocrm/internal/lock"
	"github.com/skdvlpr/gomercatocrm/internal/logging"
	"github.com/skdvlpr/gomercatocrm/internal/outbox"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/session"
	"github.com/skdvlpr/gomercatocrm/internal/status"
	"github.com/skdvlpr/gomercatocrm/internal/store"
	ingest "github.com/skdvlpr/gomercatocrm/internal/sync"
	"github.com/skdvlpr/gomercatocrm/internal/valkey"
)

// RelayChannel is the Valkey channel (under the key prefix) carrying
// envelopes between instances.
const RelayChannel = "realtime"

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config     *config.Config
	Layout     session.Layout
	Debug      bool
	SocketPath string // optional override for testing; empty = Layout.SocketPath()
	Logger     *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideBridge,
			provideStateMachine,
			provideMonitor,
			provideValkey,
			provideBroadcaster,
			provideEngine,
			provideSender,
			provideGreeter,
			provideAvatars,
			provideApp,
			provideListener,
			provideHealthServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(p.Layout.LogPath(), p.Config.Bridge.SessionID, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := p.Layout.Ensure(); err != nil {
		return nil, err
	}
	logger.Info("acquiring data directory lock", zap.String("dir", p.Layout.Dir))
	l, err := lock.Acquire(p.Layout.LockPath(), lock.Info{Listen: p.Config.HTTP.Listen})
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired")
	return l, nil
}

// provideStore takes the lock so nothing opens the database unguarded.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.Layout.DBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBridge(p Params, logger *zap.Logger) *bridge.Client {
	c := p.Config.Bridge
	return bridge.New(bridge.Config{
		BaseURL:        c.URL,
		APIKey:         c.APIKey,
		SessionID:      c.SessionID,
		Timeout:        c.Timeout.Duration,
		ConnectTimeout: c.ConnectTimeout.Duration,
		Retries:        c.Retries,
		RetryDelay:     c.RetryDelay.Duration,
	}, logger.Named("bridge"))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideMonitor(p Params, client *bridge.Client, m *status.Machine, logger *zap.Logger) *status.Monitor {
	return status.NewMonitor(client, m, p.Config.Sync.StatusInterval.Duration, logger.Named("status"))
}

// provideValkey returns nil when no address is configured.
func provideValkey(p Params, lc fx.Lifecycle, logger *zap.Logger) (*valkey.Client, error) {
	cfg := valkey.Config{
		Address:   p.Config.Valkey.Address,
		Password:  p.Config.Valkey.Password,
		DB:        p.Config.Valkey.DB,
		KeyPrefix: p.Config.Valkey.Prefix,
	}
	if !cfg.Enabled() {
		logger.Info("valkey disabled, realtime stays local")
		return nil, nil
	}
	client, err := valkey.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			client.Close()
			return nil
		},
	})
	logger.Info("valkey connected", zap.String("address", cfg.Address))
	return client, nil
}

func provideBroadcaster(b *bus.Bus, vk *valkey.Client, logger *zap.Logger) *realtime.Broadcaster {
	var opts []realtime.Option
	if vk != nil {
		opts = append(opts, realtime.WithRelay(vk, vk.Key(RelayChannel)))
	}
	return realtime.NewBroadcaster(b, logger.Named("realtime"), opts...)
}

func provideEngine(db *store.DB, bc *realtime.Broadcaster, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, bc, logger.Named("ingest"))
}

func provideSender(db *store.DB, client *bridge.Client, bc *realtime.Broadcaster, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, bc, logger.Named("outbox"))
}

func provideGreeter(p Params, sender *outbox.Sender, m *status.Machine, logger *zap.Logger) (*greeter.Greeter, error) {
	g := p.Config.Greeter
	return greeter.New(g.Enabled, g.Template, sender, m, logger.Named("greeter"))
}

func provideAvatars(p Params, db *store.DB, vk *valkey.Client) api.AvatarCache {
	ttl := p.Config.Avatar.TTL.Duration
	if vk != nil {
		return valkey.NewAvatarCache(vk, ttl)
	}
	return store.NewAvatarCache(db, ttl)
}

func provideApp(
	p Params,
	client *bridge.Client,
	db *store.DB,
	engine *ingest.Engine,
	sender *outbox.Sender,
	g *greeter.Greeter,
	bc *realtime.Broadcaster,
	m *status.Machine,
	avatars api.AvatarCache,
	logger *zap.Logger,
) *fiber.App {
	return api.New(api.Deps{
		Bridge:        client,
		Messages:      db,
		Ingest:        engine,
		Outbox:        sender,
		Greeter:       g,
		Publisher:     bc,
		Session:       m,
		Avatars:       avatars,
		Push:          bc,
		WebhookSecret: p.Config.Webhook.Secret,
		BasicAuth:     p.Config.HTTP.BasicAuth,
		MessageLimit:  p.Config.Sync.MessageLimit,
		Logger:        logger,
	})
}

// provideListener binds the HTTP port up front so a taken port fails startup.
func provideListener(p Params) (net.Listener, error) {
	return net.Listen("tcp", p.Config.HTTP.Listen)
}

func provideHealthServer(p Params, logger *zap.Logger) (*HealthServer, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = p.Layout.SocketPath()
	}
	return NewHealthServer(socketPath, logger.Named("health"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	app *fiber.App,
	ln net.Listener,
	health *HealthServer,
	lk *lock.Lock,
	db *store.DB,
	monitor *status.Monitor,
	machine *status.Machine,
	bc *realtime.Broadcaster,
	b *bus.Bus,
	logger *zap.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go health.Watch(ctx, b, machine.Current)

			go func() {
				if err := health.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()

			go func() {
				logger.Info("http server starting", zap.String("listen", ln.Addr().String()))
				if err := app.Listener(ln); err != nil && !errors.Is(err, net.ErrClosed) {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			go monitor.Run(ctx)
			go reportStats(ctx, statsInterval, db, bc, b, logger)

			go func() {
				if err := bc.Run(ctx); err != nil {
					logger.Error("relay subscriber stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := app.ShutdownWithTimeout(shutdownTimeout(stopCtx)); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			health.Stop(stopCtx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func shutdownTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return 10 * time.Second
}
