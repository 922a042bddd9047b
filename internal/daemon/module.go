package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/files"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load the global config file
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTokens,
			provideBackend,
			provideTransport,
			provideState,
			provideOutbox,
			provideNotifier,
			provideEngine,
			provideMetrics,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTokens(p Params) *auth.Source {
	return auth.NewSource(session.TokenPath(p.SessionName))
}

func provideBackend(cfg *config.Config, tokens *auth.Source) *backend.Client {
	return backend.New(cfg.Server.BaseURL, tokens,
		backend.WithTimeout(cfg.Server.RequestTimeout.Std()),
		backend.WithUserAgent("chatsync"),
	)
}

func provideTransport(cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*transport.Client, error) {
	wsURL, err := cfg.Server.RealtimeURL()
	if err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	t := cfg.Transport
	newBackOff := transport.ConstantBackOff(t.ReconnectInterval.Std())
	if t.Backoff == config.BackoffExponential {
		newBackOff = transport.ExponentialBackOff(t.ReconnectInterval.Std(), t.MaxReconnectInterval.Std())
	}
	return transport.New(transport.Options{
		URL:               wsURL,
		HeartbeatInterval: t.HeartbeatInterval.Std(),
		DialTimeout:       t.DialTimeout.Std(),
		NewBackOff:        newBackOff,
		Observer: func(dir transport.Direction, frameType string) {
			kind := bus.KindFrameIn
			if dir == transport.Outbound {
				kind = bus.KindFrameOut
			}
			b.Emit(kind, bus.FramePayload{Type: frameType})
		},
	}, logger.Named("transport")), nil
}

func provideState(logger *zap.Logger) *state.Store {
	return state.New(logger.Named("state"))
}

func provideOutbox(db *store.DB, rt *transport.Client, b *bus.Bus, logger *zap.Logger) *outbox.Queue {
	return outbox.New(db, rt, b, logger.Named("outbox"))
}

func provideNotifier(b *bus.Bus, logger *zap.Logger) *notify.BusNotifier {
	return notify.NewBusNotifier(b, logger.Named("notify"))
}

func provideEngine(
	cfg *config.Config,
	db *store.DB,
	rt *transport.Client,
	rest *backend.Client,
	tokens *auth.Source,
	q *outbox.Queue,
	st *state.Store,
	machine *status.Machine,
	b *bus.Bus,
	n *notify.BusNotifier,
	logger *zap.Logger,
) *intsync.Engine {
	return intsync.New(intsync.Deps{
		Store:     db,
		Transport: rt,
		Backend:   rest,
		Tokens:    tokens,
		Outbox:    q,
		State:     st,
		Status:    machine,
		Bus:       b,
		Notifier:  n,
		Focus:     &notify.WindowFocus{},
		Files:     files.OSSource{MaxBytes: cfg.Upload.MaxBytes},
	}, intsync.Options{
		HistoryLimit:  cfg.Sync.HistoryLimit,
		TypingTimeout: cfg.Sync.TypingTimeout.Std(),
	}, logger.Named("sync"))
}

func provideMetrics(b *bus.Bus, logger *zap.Logger) *metrics.Collector {
	return metrics.New(b, logger.Named("metrics"))
}

func provideService(p Params, engine *intsync.Engine, tokens *auth.Source, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.SessionName, engine, tokens, b, logger.Named("api"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	engine *intsync.Engine,
	collector *metrics.Collector,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			collector.Start(context.Background())
			if cfg.Metrics.Addr != "" {
				if err := collector.Serve(cfg.Metrics.Addr); err != nil {
					return fmt.Errorf("metrics: %w", err)
				}
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// A missing token is not fatal: the engine waits in
			// AUTH_REQUIRED for a Login call.
			if err := engine.Start(ctx); err != nil {
				logger.Error("sync engine startup failed", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			engine.Stop()
			srv.Stop(ctx)
			err := collector.Stop(ctx)
			err = multierr.Append(err, db.Close())
			if rerr := lk.Release(); rerr != nil {
				logger.Warn("error releasing lock", zap.Error(rerr))
				err = multierr.Append(err, rerr)
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return err
		},
	})
}
