package leaderboard

import (
	"context"

	"localloop/core"
)

// Entry is one user's standing on the community board.
type Entry struct {
	User   core.UserID `json:"user_id"`
	Points int64       `json:"points"`
	Badge  string      `json:"badge,omitempty"`
	Rank   int         `json:"rank,omitempty"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(user core.UserID, points int64, badge string)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	Around(user core.UserID, radius int) ([]Entry, bool)
}

// Tracker keeps a Board in step with committed impact events.
type Tracker struct {
	board Board
}

func NewTracker(b Board) *Tracker { return &Tracker{board: b} }

func (t *Tracker) Board() Board { return t.board }

// OnEvent applies an impact event's running total and badge to the board.
func (t *Tracker) OnEvent(_ context.Context, ev core.Event) {
	prev, known := t.board.Get(ev.UserID)
	switch ev.Type {
	case core.EventImpactRecorded, core.EventEntryDeleted:
		t.board.Update(ev.UserID, ev.Total, prev.Badge)
	case core.EventBadgeUnlocked, core.EventBadgeRecomputed:
		points := ev.Total
		if known {
			points = prev.Points
		}
		t.board.Update(ev.UserID, points, ev.Badge)
	}
}
