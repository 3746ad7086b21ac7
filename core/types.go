package core

import (
	"math"
	"slices"
	"strings"
	"time"
)

// UserID uniquely identifies a marketplace account. Ids come from the auth
// provider and are case-sensitive.
type UserID string

// EntryID identifies a single ledger entry.
type EntryID string

// ActionType is the key into the rule table, e.g. "sell_product".
type ActionType string

// Source records whether an entry was produced by a trigger or typed in by the user.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// Achievement is one badge unlock in a profile's history.
type Achievement struct {
	Name           string    `json:"name" firestore:"name"`
	UnlockedAt     time.Time `json:"unlocked_at" firestore:"unlockedAt"`
	PointsAtUnlock int64     `json:"points_at_unlock" firestore:"pointsAtUnlock"`
}

// Profile is the per-user impact state. Stores must hand out deep copies.
type Profile struct {
	UserID              UserID        `json:"user_id"`
	TotalPoints         int64         `json:"total_points"`
	CurrentBadge        string        `json:"current_badge,omitempty"`
	BadgesEarned        []string      `json:"badges_earned"`
	Achievements        []Achievement `json:"achievements"`
	LastBadgeUnlockedAt *time.Time    `json:"last_badge_unlocked_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// NewProfile builds the default profile a user gets on first use. Tiers the
// ladder grants for free (threshold <= 0) are recorded as unlocked at creation.
func NewProfile(user UserID, ladder Ladder, now time.Time) Profile {
	p := Profile{
		UserID:       user,
		BadgesEarned: []string{},
		Achievements: []Achievement{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, t := range ladder.Seed() {
		p.BadgesEarned = append(p.BadgesEarned, t.Name)
		p.Achievements = append(p.Achievements, Achievement{Name: t.Name, UnlockedAt: now})
		p.CurrentBadge = t.Name
	}
	return p
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	cp := p
	cp.BadgesEarned = slices.Clone(p.BadgesEarned)
	if cp.BadgesEarned == nil {
		cp.BadgesEarned = []string{}
	}
	cp.Achievements = slices.Clone(p.Achievements)
	if cp.Achievements == nil {
		cp.Achievements = []Achievement{}
	}
	if p.LastBadgeUnlockedAt != nil {
		t := *p.LastBadgeUnlockedAt
		cp.LastBadgeUnlockedAt = &t
	}
	return cp
}

// HasBadge reports whether name was ever unlocked.
func (p Profile) HasBadge(name string) bool {
	return slices.Contains(p.BadgesEarned, name)
}

// Entry is one immutable point-earning record. Points is a snapshot of the
// rule table at write time and is never rewritten.
type Entry struct {
	ID        EntryID    `json:"id"`
	UserID    UserID     `json:"user_id"`
	Type      ActionType `json:"type"`
	Summary   string     `json:"summary"`
	Points    int64      `json:"points"`
	Source    Source     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// SortNewestFirst orders entries by creation time descending, breaking ties
// by id so the order is stable.
func SortNewestFirst(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(b.ID), string(a.ID))
	})
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, ErrOverflow
	}
	return base + delta, nil
}

// NormalizeUserID trims surrounding whitespace and rejects empty ids.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", ErrInvalidUser
	}
	return UserID(s), nil
}
