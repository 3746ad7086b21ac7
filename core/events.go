package core

import "time"

// EventType enumerates impact events published after a store commit.
type EventType string

const (
	EventImpactRecorded  EventType = "impact_recorded"
	EventBadgeUnlocked   EventType = "badge_unlocked"
	EventBadgeRecomputed EventType = "badge_recomputed"
	EventEntryUpdated    EventType = "entry_updated"
	EventEntryDeleted    EventType = "entry_deleted"
)

// AllEventTypes lists every event the service publishes.
var AllEventTypes = []EventType{
	EventImpactRecorded,
	EventBadgeUnlocked,
	EventBadgeRecomputed,
	EventEntryUpdated,
	EventEntryDeleted,
}

// Event represents an immutable domain event.
type Event struct {
	Type          EventType      `json:"type"`
	Time          time.Time      `json:"time"`
	UserID        UserID         `json:"user_id"`
	EntryID       EntryID        `json:"entry_id,omitempty"`
	Action        ActionType     `json:"action,omitempty"`
	Delta         int64          `json:"delta,omitempty"`
	Total         int64          `json:"total"`
	Badge         string         `json:"badge,omitempty"`
	PreviousBadge string         `json:"previous_badge,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func NewImpactRecorded(e Entry, total int64) Event {
	return Event{
		Type:     EventImpactRecorded,
		Time:     time.Now().UTC(),
		UserID:   e.UserID,
		EntryID:  e.ID,
		Action:   e.Type,
		Delta:    e.Points,
		Total:    total,
		Metadata: map[string]any{"source": string(e.Source), "summary": e.Summary},
	}
}

func NewBadgeUnlocked(user UserID, a Achievement) Event {
	return Event{Type: EventBadgeUnlocked, Time: time.Now().UTC(), UserID: user, Badge: a.Name, Total: a.PointsAtUnlock}
}

func NewBadgeRecomputed(user UserID, previous, current string, total int64) Event {
	return Event{Type: EventBadgeRecomputed, Time: time.Now().UTC(), UserID: user, Badge: current, PreviousBadge: previous, Total: total}
}

// NewEntryDeleted carries the points actually removed, which can be less
// than e.Points when the total was floored at zero.
func NewEntryDeleted(e Entry, removed int64, total int64) Event {
	return Event{Type: EventEntryDeleted, Time: time.Now().UTC(), UserID: e.UserID, EntryID: e.ID, Action: e.Type, Delta: -removed, Total: total}
}

func NewEntryUpdated(e Entry) Event {
	return Event{Type: EventEntryUpdated, Time: time.Now().UTC(), UserID: e.UserID, EntryID: e.ID, Action: e.Type}
}
