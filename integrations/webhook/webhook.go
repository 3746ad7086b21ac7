package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"localloop/core"
)

// EventHeader carries the impact event type on every delivery.
const EventHeader = "X-LocalLoop-Event"

// Sink posts impact events to configured HTTP endpoints.
// Deliveries are best effort: failures are logged and not retried.
type Sink struct {
	client    *http.Client
	endpoints []string
	logger    *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// OnEvent posts the event JSON to all endpoints.
func (s *Sink) OnEvent(ctx context.Context, e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("webhook encode failed", "event", e.Type, "error", err)
		return
	}
	// deliveries outlive the request that triggered them
	ctx = context.WithoutCancel(ctx)
	for _, ep := range s.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(body))
		if err != nil {
			s.logger.Warn("webhook request invalid", "endpoint", ep, "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(EventHeader, string(e.Type))
		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Warn("webhook delivery failed", "endpoint", ep, "event", e.Type, "error", err)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			s.logger.Warn("webhook endpoint rejected event", "endpoint", ep, "event", e.Type, "status", resp.StatusCode)
		}
	}
}
