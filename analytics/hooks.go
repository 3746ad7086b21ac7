package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"localloop/core"
)

// Hook receives committed impact events.
type Hook interface {
	OnEvent(ctx context.Context, e core.Event)
}

const dayLayout = "2006-01-02"

// DAU tracks users who earned points on a given UTC day.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(_ context.Context, e core.Event) {
	if e.Type != core.EventImpactRecorded {
		return
	}
	day := e.Time.UTC().Format(dayLayout)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// ImpactMetrics aggregates impact KPIs in memory since process start.
type ImpactMetrics struct {
	mu sync.RWMutex

	activeEarners  map[string]map[core.UserID]struct{}
	pointsByDay    map[string]int64
	pointsByAction map[core.ActionType]int64
	entriesByAct   map[core.ActionType]int64
	unlocksByBadge map[string]int64
	badgeHolders   map[string]map[core.UserID]struct{}
	pointsRemoved  int64
	downgrades     int64
	updates        int64
	startedAt      time.Time
}

func NewImpactMetrics() *ImpactMetrics {
	return &ImpactMetrics{
		activeEarners:  make(map[string]map[core.UserID]struct{}),
		pointsByDay:    make(map[string]int64),
		pointsByAction: make(map[core.ActionType]int64),
		entriesByAct:   make(map[core.ActionType]int64),
		unlocksByBadge: make(map[string]int64),
		badgeHolders:   make(map[string]map[core.UserID]struct{}),
		startedAt:      time.Now().UTC(),
	}
}

func (m *ImpactMetrics) OnEvent(_ context.Context, e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := e.Time.UTC().Format(dayLayout)
	switch e.Type {
	case core.EventImpactRecorded:
		if m.activeEarners[day] == nil {
			m.activeEarners[day] = make(map[core.UserID]struct{})
		}
		m.activeEarners[day][e.UserID] = struct{}{}
		m.pointsByDay[day] += e.Delta
		m.pointsByAction[e.Action] += e.Delta
		m.entriesByAct[e.Action]++
	case core.EventBadgeUnlocked:
		m.unlocksByBadge[e.Badge]++
		if m.badgeHolders[e.Badge] == nil {
			m.badgeHolders[e.Badge] = make(map[core.UserID]struct{})
		}
		m.badgeHolders[e.Badge][e.UserID] = struct{}{}
	case core.EventBadgeRecomputed:
		m.downgrades++
	case core.EventEntryDeleted:
		// Delta is negative on deletions
		m.pointsRemoved -= e.Delta
	case core.EventEntryUpdated:
		m.updates++
	}
}

// ActiveEarners returns how many distinct users earned points on day (YYYY-MM-DD).
func (m *ImpactMetrics) ActiveEarners(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeEarners[day])
}

func (m *ImpactMetrics) PointsByDay(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsByDay[day]
}

func (m *ImpactMetrics) PointsByAction(a core.ActionType) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsByAction[a]
}

func (m *ImpactMetrics) UnlocksByBadge(badge string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocksByBadge[badge]
}

func (m *ImpactMetrics) Downgrades() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.downgrades
}

// ActionStat is one row of the points-by-action breakdown.
type ActionStat struct {
	Action  core.ActionType `json:"action"`
	Points  int64           `json:"points"`
	Entries int64           `json:"entries"`
}

// BadgeStat is one row of the unlocks-by-badge breakdown.
type BadgeStat struct {
	Badge   string `json:"badge"`
	Unlocks int64  `json:"unlocks"`
	Holders int    `json:"holders"`
}

// Snapshot is the JSON body of GET /stats.
type Snapshot struct {
	Since              time.Time    `json:"since"`
	Today              string       `json:"today"`
	ActiveEarnersToday int          `json:"active_earners_today"`
	PointsToday        int64        `json:"points_today"`
	PointsAwarded      int64        `json:"points_awarded"`
	PointsRemoved      int64        `json:"points_removed"`
	Downgrades         int64        `json:"downgrades"`
	EntryUpdates       int64        `json:"entry_updates"`
	ByAction           []ActionStat `json:"by_action"`
	ByBadge            []BadgeStat  `json:"by_badge"`
}

// Snapshot copies the current counters; now selects "today".
func (m *ImpactMetrics) Snapshot(now time.Time) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	today := now.UTC().Format(dayLayout)
	s := Snapshot{
		Since:              m.startedAt,
		Today:              today,
		ActiveEarnersToday: len(m.activeEarners[today]),
		PointsToday:        m.pointsByDay[today],
		PointsRemoved:      m.pointsRemoved,
		Downgrades:         m.downgrades,
		EntryUpdates:       m.updates,
		ByAction:           make([]ActionStat, 0, len(m.pointsByAction)),
		ByBadge:            make([]BadgeStat, 0, len(m.unlocksByBadge)),
	}
	for a, pts := range m.pointsByAction {
		s.PointsAwarded += pts
		s.ByAction = append(s.ByAction, ActionStat{Action: a, Points: pts, Entries: m.entriesByAct[a]})
	}
	for b, n := range m.unlocksByBadge {
		s.ByBadge = append(s.ByBadge, BadgeStat{Badge: b, Unlocks: n, Holders: len(m.badgeHolders[b])})
	}
	sort.Slice(s.ByAction, func(i, j int) bool {
		if s.ByAction[i].Points != s.ByAction[j].Points {
			return s.ByAction[i].Points > s.ByAction[j].Points
		}
		return s.ByAction[i].Action < s.ByAction[j].Action
	})
	sort.Slice(s.ByBadge, func(i, j int) bool {
		if s.ByBadge[i].Unlocks != s.ByBadge[j].Unlocks {
			return s.ByBadge[i].Unlocks > s.ByBadge[j].Unlocks
		}
		return s.ByBadge[i].Badge < s.ByBadge[j].Badge
	})
	return s
}
