package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"localloop/core"
)

// UserView is the /users/{id} response: the stored profile plus progress
// towards the next badge.
type UserView struct {
	Profile  core.Profile  `json:"profile"`
	Progress core.Progress `json:"progress"`
}

// Receipt mirrors the result of recording impact.
type Receipt struct {
	Skipped  bool              `json:"skipped"`
	Entry    core.Entry        `json:"entry"`
	Total    int64             `json:"total"`
	Unlocked *core.Achievement `json:"unlocked,omitempty"`
	Profile  core.Profile      `json:"profile"`
}

// DeleteResult mirrors the result of deleting an entry.
type DeleteResult struct {
	Entry         core.Entry `json:"entry"`
	Removed       int64      `json:"removed"`
	Total         int64      `json:"total"`
	PreviousBadge string     `json:"previous_badge,omitempty"`
	CurrentBadge  string     `json:"current_badge,omitempty"`
	BadgeChanged  bool       `json:"badge_changed"`
}

// EntryPatch lists the editable entry fields; nil fields are left alone.
type EntryPatch struct {
	Type    *core.ActionType `json:"type,omitempty"`
	Summary *string          `json:"summary,omitempty"`
}

type Rules struct {
	Rules  core.RuleTable `json:"rules"`
	Ladder core.Ladder    `json:"ladder"`
}

type LeaderboardEntry struct {
	User   core.UserID `json:"user_id"`
	Points int64       `json:"points"`
	Badge  string      `json:"badge,omitempty"`
	Rank   int         `json:"rank,omitempty"`
}

// Stats is the /stats snapshot.
type Stats struct {
	Since              time.Time `json:"since"`
	Today              string    `json:"today"`
	ActiveEarnersToday int       `json:"active_earners_today"`
	PointsToday        int64     `json:"points_today"`
	PointsAwarded      int64     `json:"points_awarded"`
	PointsRemoved      int64     `json:"points_removed"`
	Downgrades         int64     `json:"downgrades"`
	EntryUpdates       int64     `json:"entry_updates"`
	ByAction           []struct {
		Action  core.ActionType `json:"action"`
		Points  int64           `json:"points"`
		Entries int64           `json:"entries"`
	} `json:"by_action"`
	ByBadge []struct {
		Badge   string `json:"badge"`
		Unlocks int64  `json:"unlocks"`
		Holders int    `json:"holders"`
	} `json:"by_badge"`
}

// Event is one frame of the WebSocket stream.
type Event struct {
	core.Event
	Celebrate bool   `json:"celebrate,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is the error envelope returned by the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("localloop: %d %s: %s", e.Status, e.Code, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

var (
	// ErrEmptyUserID is returned when user id is empty.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrEmptyEntryID is returned when entry id is empty.
	ErrEmptyEntryID = errors.New("entry id is required")
)
