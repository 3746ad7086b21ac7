package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	wsadapter "localloop/adapters/websocket"
	"localloop/analytics"
	"localloop/engine"
	"localloop/integrations/marketplace"
	"localloop/leaderboard"
	"localloop/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
}

// TriggerSink queues marketplace documents for impact processing.
type TriggerSink interface {
	Submit(t marketplace.Trigger) bool
}

// Deps are the components the API serves. Only Service is required; routes
// backed by a nil dependency answer 404.
type Deps struct {
	Service  *engine.ImpactService
	Hub      *realtime.Hub
	Triggers TriggerSink
	Board    leaderboard.Board
	Stats    *analytics.ImpactMetrics
	Logger   *slog.Logger
}

type server struct {
	Deps
	validate *validator.Validate
}

// NewMux builds the impact REST API and WebSocket stream.
// Routes (all under {prefix}):
//   - GET    /healthz
//   - GET    /ws?user={id}
//   - GET    /rules
//   - GET    /users/{id}
//   - POST   /users/{id}/impact
//   - GET    /users/{id}/entries?period=week|month|year|all
//   - POST   /users/{id}/badges/evaluate
//   - PATCH  /entries/{entryID}
//   - DELETE /entries/{entryID}
//   - POST   /hooks/{kind}
//   - GET    /leaderboard?limit=N
//   - GET    /stats
func NewMux(deps Deps, opts Options) http.Handler {
	if deps.Service == nil {
		panic("httpapi: service is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &server{Deps: deps, validate: validator.New(validator.WithRequiredStructEnabled())}

	api := chi.NewRouter()
	api.Get("/healthz", s.healthCheck)
	if s.Hub != nil {
		api.Handle("/ws", wsadapter.Handler(s.Hub, s.Logger))
	}
	api.Get("/rules", s.getRules)
	api.Route("/users/{id}", func(r chi.Router) {
		r.Get("/", s.getUser)
		r.Post("/impact", s.postImpact)
		r.Get("/entries", s.listEntries)
		r.Post("/badges/evaluate", s.evaluateBadges)
	})
	api.Patch("/entries/{entryID}", s.patchEntry)
	api.Delete("/entries/{entryID}", s.deleteEntry)
	api.Post("/hooks/{kind}", s.postHook)
	api.Get("/leaderboard", s.getLeaderboard)
	api.Get("/stats", s.getStats)
	api.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	api.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	root := chi.NewRouter()
	root.Use(middleware.RequestID)
	root.Use(middleware.RealIP)
	root.Use(middleware.Recoverer)
	prefix := trimPrefix(opts.PathPrefix)
	if prefix == "" {
		root.Mount("/", api)
	} else {
		root.Mount(prefix, api)
	}

	var handler http.Handler = root
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys, prefix+"/healthz")
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

func trimPrefix(prefix string) string {
	for len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	if prefix != "" && prefix[0] != '/' {
		prefix = "/" + prefix
	}
	return prefix
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details})
}
