package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	firestoreAdapter "localloop/adapters/firestore"
	"localloop/adapters/jsonfile"
	mem "localloop/adapters/memory"
	redisAdapter "localloop/adapters/redis"
	sqlxAdapter "localloop/adapters/sqlx"
	"localloop/analytics"
	"localloop/api/httpapi"
	"localloop/config"
	"localloop/engine"
	"localloop/impact"
	"localloop/integrations/marketplace"
	"localloop/integrations/webhook"
	"localloop/leaderboard"
	"localloop/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Hub        *realtime.Hub
	Service    *engine.ImpactService
	Dispatcher *marketplace.Dispatcher
	// Listener is nil unless the Firestore trigger source is enabled.
	Listener *firestoreAdapter.Listener
	Handler  http.Handler
	Server   *http.Server
}

func provideConfig(_ context.Context) (*config.Config, error) {
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub(cfg *config.Config) *realtime.Hub {
	if !cfg.Features.Realtime {
		return nil
	}
	return realtime.NewHub()
}

func provideBoard(cfg *config.Config) leaderboard.Board {
	if !cfg.Features.Leaderboard {
		return nil
	}
	return leaderboard.NewSkipList()
}

func provideStats(cfg *config.Config) *analytics.ImpactMetrics {
	if !cfg.Features.Stats {
		return nil
	}
	return analytics.NewImpactMetrics()
}

func provideStorage(ctx context.Context, cfg *config.Config) (engine.Storage, func(), error) {
	return setupStorage(ctx, cfg)
}

func provideService(cfg *config.Config, logger *slog.Logger, storage engine.Storage, hub *realtime.Hub, board leaderboard.Board, stats *analytics.ImpactMetrics) (*engine.ImpactService, func()) {
	opts := []impact.Option{
		impact.WithStorage(storage),
		impact.WithDispatchMode(engine.DispatchAsync),
		impact.WithRules(cfg.Impact.RuleTable()),
		impact.WithLadder(cfg.Impact.BadgeLadder()),
		impact.WithLogger(logger),
		impact.WithRealtime(hub),
		impact.WithLeaderboard(board),
	}
	if stats != nil {
		opts = append(opts, impact.WithHooks(stats))
	}
	if len(cfg.Webhooks.Endpoints) > 0 {
		sink := webhook.New(cfg.Webhooks.Endpoints, webhook.WithTimeout(cfg.Webhooks.Timeout), webhook.WithLogger(logger))
		opts = append(opts, impact.WithHooks(sink))
	}
	svc := impact.New(opts...)
	return svc, svc.Close
}

// provideDirectory resolves event organizers from Firestore when that is the
// store, otherwise from the configured seed plus events seen at runtime.
func provideDirectory(cfg *config.Config, storage engine.Storage) marketplace.EventDirectory {
	if fs, ok := storage.(*firestoreAdapter.Store); ok {
		return fs
	}
	return marketplace.NewMemoryDirectory(cfg.Triggers.Organizers)
}

func provideDispatcher(cfg *config.Config, logger *slog.Logger, svc *engine.ImpactService, dir marketplace.EventDirectory) (*marketplace.Dispatcher, func()) {
	adapter := marketplace.NewAdapter(svc, dir, logger)
	d := marketplace.NewDispatcher(adapter, logger,
		marketplace.WithWorkers(cfg.Triggers.Workers),
		marketplace.WithQueueSize(cfg.Triggers.QueueSize),
		marketplace.WithTimeout(cfg.Triggers.Timeout),
	)
	return d, d.Close
}

func provideListener(cfg *config.Config, logger *slog.Logger, storage engine.Storage, d *marketplace.Dispatcher) (*firestoreAdapter.Listener, error) {
	if !cfg.Triggers.FirestoreListener {
		return nil, nil
	}
	fs, ok := storage.(*firestoreAdapter.Store)
	if !ok {
		return nil, fmt.Errorf("firestore listener needs the firestore store, have %T", storage)
	}
	return firestoreAdapter.NewListener(fs.Client(), d, logger), nil
}

func provideHandler(cfg *config.Config, logger *slog.Logger, svc *engine.ImpactService, hub *realtime.Hub, d *marketplace.Dispatcher, board leaderboard.Board, stats *analytics.ImpactMetrics) http.Handler {
	return httpapi.NewMux(httpapi.Deps{
		Service:  svc,
		Hub:      hub,
		Triggers: d,
		Board:    board,
		Stats:    stats,
		Logger:   logger,
	}, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler).With("service", "impact-server")
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the configured store and a cleanup that releases it.
func setupStorage(ctx context.Context, cfg *config.Config) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case config.AdapterMemory:
		return mem.New(), noop, nil
	case config.AdapterFile:
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case config.AdapterRedis:
		rc := redisAdapter.DefaultConfig()
		rc.Addr = cfg.Storage.Redis.Addr
		rc.Password = cfg.Storage.Redis.Password
		rc.DB = cfg.Storage.Redis.DB
		if cfg.Storage.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Storage.Redis.PoolSize
		}
		if cfg.Storage.Redis.KeyPrefix != "" {
			rc.KeyPrefix = cfg.Storage.Redis.KeyPrefix
		}
		if cfg.Storage.Redis.MaxTxRetries > 0 {
			rc.MaxTxRetries = cfg.Storage.Redis.MaxTxRetries
		}
		s, err := redisAdapter.New(rc)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.AdapterSQL:
		s, err := sqlxAdapter.New(sqlxAdapter.Config{
			Driver:          sqlxAdapter.Driver(cfg.Storage.SQL.Driver),
			DSN:             cfg.Storage.SQL.DSN,
			MaxOpenConns:    cfg.Storage.SQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.SQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.SQL.ConnMaxLifetime,
			AutoMigrate:     cfg.Storage.SQL.AutoMigrate,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.AdapterFirestore:
		s, err := firestoreAdapter.New(ctx, firestoreAdapter.Config{
			ProjectID:  cfg.Storage.Firestore.ProjectID,
			DatabaseID: cfg.Storage.Firestore.DatabaseID,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
