package impact

import (
	"context"
	"log/slog"

	mem "localloop/adapters/memory"
	"localloop/core"
	"localloop/engine"
	"localloop/leaderboard"
	"localloop/realtime"
)

// Hook consumes committed impact events.
type Hook interface {
	OnEvent(ctx context.Context, e core.Event)
}

// Option configures the impact service builder.
type Option func(*config)

type config struct {
	storage engine.Storage
	mode    engine.DispatchMode
	rules   core.RuleTable
	ladder  core.Ladder
	logger  *slog.Logger
	hub     *realtime.Hub
	board   leaderboard.Board
	hooks   []Hook
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

func WithRules(r core.RuleTable) Option { return func(c *config) { c.rules = r } }

func WithLadder(l core.Ladder) Option { return func(c *config) { c.ladder = l } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime streams every event to the hub.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithLeaderboard keeps board current from impact events.
func WithLeaderboard(b leaderboard.Board) Option { return func(c *config) { c.board = b } }

// WithHooks subscribes additional consumers (analytics, webhooks) to every event.
func WithHooks(hooks ...Hook) Option {
	return func(c *config) {
		for _, h := range hooks {
			if h != nil {
				c.hooks = append(c.hooks, h)
			}
		}
	}
}

// New builds a configured ImpactService. If not provided, defaults are used:
//   - storage: in-memory
//   - rules and ladder: the marketplace defaults
//   - dispatch: async
func New(opts ...Option) *engine.ImpactService {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	var busOpts []engine.BusOption
	if cfg.logger != nil {
		busOpts = append(busOpts, engine.WithBusLogger(cfg.logger))
	}
	bus := engine.NewEventBus(cfg.mode, busOpts...)

	var svcOpts []engine.ServiceOption
	if cfg.rules != nil {
		svcOpts = append(svcOpts, engine.WithRules(cfg.rules))
	}
	if cfg.ladder != nil {
		svcOpts = append(svcOpts, engine.WithLadder(cfg.ladder))
	}
	if cfg.logger != nil {
		svcOpts = append(svcOpts, engine.WithLogger(cfg.logger))
	}
	svc := engine.NewImpactService(cfg.storage, bus, svcOpts...)

	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Broadcast)
	}
	if cfg.board != nil {
		bus.SubscribeAll(leaderboard.NewTracker(cfg.board).OnEvent)
	}
	for _, h := range cfg.hooks {
		bus.SubscribeAll(h.OnEvent)
	}
	return svc
}
