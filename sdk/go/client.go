package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"localloop/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the LocalLoop impact HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// GetUser fetches a user's profile and badge progress. Unknown users come
// back as an empty profile.
func (c *Client) GetUser(ctx context.Context, userID string) (UserView, error) {
	if strings.TrimSpace(userID) == "" {
		return UserView{}, ErrEmptyUserID
	}
	var v UserView
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, nil, &v)
	return v, err
}

// RecordImpact adds a manual impact entry worth the rule-table points for action.
func (c *Client) RecordImpact(ctx context.Context, userID string, action core.ActionType, summary string) (Receipt, error) {
	if strings.TrimSpace(userID) == "" {
		return Receipt{}, ErrEmptyUserID
	}
	body := map[string]any{"type": action, "summary": summary}
	var rc Receipt
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/impact", nil, body, &rc)
	return rc, err
}

// ListEntries returns a user's entries for period, newest first.
func (c *Client) ListEntries(ctx context.Context, userID string, period core.Period) ([]core.Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	q := url.Values{}
	if period != "" {
		q.Set("period", string(period))
	}
	var out struct {
		Entries []core.Entry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/entries", q, nil, &out)
	return out.Entries, err
}

// EvaluateBadges asks the server to unlock any badge the total has reached.
// A nil total uses the stored total.
func (c *Client) EvaluateBadges(ctx context.Context, userID string, total *int64) (string, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return "", false, ErrEmptyUserID
	}
	var body any
	if total != nil {
		body = map[string]int64{"total": *total}
	}
	var out struct {
		Badge    string `json:"badge"`
		Unlocked bool   `json:"unlocked"`
	}
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/badges/evaluate", nil, body, &out)
	return out.Badge, out.Unlocked, err
}

func (c *Client) UpdateEntry(ctx context.Context, entryID string, patch EntryPatch) (core.Entry, error) {
	if strings.TrimSpace(entryID) == "" {
		return core.Entry{}, ErrEmptyEntryID
	}
	var e core.Entry
	err := c.do(ctx, http.MethodPatch, "/entries/"+url.PathEscape(entryID), nil, patch, &e)
	return e, err
}

func (c *Client) DeleteEntry(ctx context.Context, entryID string) (DeleteResult, error) {
	if strings.TrimSpace(entryID) == "" {
		return DeleteResult{}, ErrEmptyEntryID
	}
	var res DeleteResult
	err := c.do(ctx, http.MethodDelete, "/entries/"+url.PathEscape(entryID), nil, nil, &res)
	return res, err
}

// SubmitDocument posts a marketplace document (payments, orders, products,
// events) for asynchronous impact processing.
func (c *Client) SubmitDocument(ctx context.Context, kind, docID string, payload any) error {
	q := url.Values{}
	if docID != "" {
		q.Set("doc_id", docID)
	}
	return c.do(ctx, http.MethodPost, "/hooks/"+url.PathEscape(kind), q, payload, nil)
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/leaderboard", q, nil, &out)
	return out.Entries, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &s)
	return s, err
}

func (c *Client) Rules(ctx context.Context) (Rules, error) {
	var r Rules
	err := c.do(ctx, http.MethodGet, "/rules", nil, nil, &r)
	return r, err
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits events, only
// those for userID when it is non-empty. The returned channel closes when
// ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if userID != "" {
		target += "?user=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, target any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
