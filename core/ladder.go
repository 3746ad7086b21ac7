package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Tier is one named badge level unlocked at a cumulative point threshold.
type Tier struct {
	Name      string `json:"name"`
	Threshold int64  `json:"threshold"`
}

// Ladder is the ordered list of badge tiers, strictly increasing by threshold.
type Ladder []Tier

// DefaultLadder returns the community impact badges.
func DefaultLadder() Ladder {
	return Ladder{
		{Name: "Newbie", Threshold: 0},
		{Name: "Contributor", Threshold: 50},
		{Name: "Top Seller", Threshold: 200},
		{Name: "Eco Warrior", Threshold: 500},
		{Name: "Legend", Threshold: 1000},
	}
}

func (l Ladder) Validate() error {
	if len(l) == 0 {
		return errors.New("ladder must have at least one tier")
	}
	var errs []string
	seen := make(map[string]struct{}, len(l))
	for i, t := range l {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Sprintf("tier %d: empty name", i))
		}
		if _, dup := seen[t.Name]; dup {
			errs = append(errs, fmt.Sprintf("tier %d: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = struct{}{}
		if i > 0 && t.Threshold <= l[i-1].Threshold {
			errs = append(errs, fmt.Sprintf("tier %d: threshold %d must exceed %d", i, t.Threshold, l[i-1].Threshold))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Seed returns the tiers every profile holds from creation.
func (l Ladder) Seed() []Tier {
	var out []Tier
	for _, t := range l {
		if t.Threshold <= 0 {
			out = append(out, t)
		}
	}
	return out
}

// NextUnlock returns the highest tier reached by points above every tier in
// earned. Intermediate tiers crossed in the same jump are never reported,
// then or later: a filter on "not yet earned" alone would back-fill them on
// the next evaluation, which this ladder deliberately does not do.
func (l Ladder) NextUnlock(points int64, earned []string) (Tier, bool) {
	floor := -1
	for i, t := range l {
		if slices.Contains(earned, t.Name) {
			floor = i
		}
	}
	var (
		best  Tier
		found bool
	)
	for i, t := range l {
		if i > floor && t.Threshold <= points {
			best, found = t, true
		}
	}
	return best, found
}

// TierFor returns the highest tier whose threshold is <= points.
func (l Ladder) TierFor(points int64) (Tier, bool) {
	var (
		best  Tier
		found bool
	)
	for _, t := range l {
		if t.Threshold <= points {
			best, found = t, true
		}
	}
	return best, found
}

func (l Ladder) rank(name string) int {
	return slices.IndexFunc(l, func(t Tier) bool { return t.Name == name })
}

// reached returns the highest ladder tier whose threshold is <= total,
// capped at the highest tier p has earned. Tiers skipped by a jump count as
// reached; tiers above everything earned are left to Unlock.
func (l Ladder) reached(p *Profile, total int64) (Tier, bool) {
	t, ok := l.TierFor(total)
	if !ok {
		return Tier{}, false
	}
	top := -1
	for i, tier := range l {
		if p.HasBadge(tier.Name) {
			top = i
		}
	}
	if top < 0 {
		return Tier{}, false
	}
	if l.rank(t.Name) > top {
		t = l[top]
	}
	return t, true
}

// Unlock records the highest newly crossed tier on p: one achievement, one
// name in BadgesEarned, and the current badge pointer.
func (l Ladder) Unlock(p *Profile, total int64, now time.Time) (Achievement, bool) {
	t, ok := l.NextUnlock(total, p.BadgesEarned)
	if !ok {
		return Achievement{}, false
	}
	a := Achievement{Name: t.Name, UnlockedAt: now, PointsAtUnlock: total}
	p.CurrentBadge = t.Name
	p.BadgesEarned = append(p.BadgesEarned, t.Name)
	p.Achievements = append(p.Achievements, a)
	at := now
	p.LastBadgeUnlockedAt = &at
	p.UpdatedAt = now
	return a, true
}

// Restore moves the current badge back up after a downgrade has been made
// good by new points. No achievement is written.
func (l Ladder) Restore(p *Profile, total int64, now time.Time) bool {
	t, ok := l.reached(p, total)
	if !ok || l.rank(t.Name) <= l.rank(p.CurrentBadge) {
		return false
	}
	p.CurrentBadge = t.Name
	p.UpdatedAt = now
	return true
}

// Recompute sets the current badge to the highest ladder tier reached by
// total, allowing a downgrade. It returns the previous badge and whether it
// changed.
func (l Ladder) Recompute(p *Profile, total int64, now time.Time) (string, bool) {
	prev := p.CurrentBadge
	next := ""
	if t, ok := l.reached(p, total); ok {
		next = t.Name
	}
	p.CurrentBadge = next
	p.UpdatedAt = now
	return prev, prev != next
}

// Progress describes how far a total is towards the next tier.
type Progress struct {
	Current      *Tier   `json:"current,omitempty"`
	Next         *Tier   `json:"next,omitempty"`
	PointsToNext int64   `json:"points_to_next"`
	Percent      float64 `json:"percent"`
}

func (l Ladder) Progress(points int64) Progress {
	var pr Progress
	base := int64(0)
	if t, ok := l.TierFor(points); ok {
		cur := t
		pr.Current = &cur
		base = t.Threshold
	}
	for _, t := range l {
		if t.Threshold > points {
			next := t
			pr.Next = &next
			break
		}
	}
	if pr.Next == nil {
		pr.Percent = 100
		return pr
	}
	pr.PointsToNext = pr.Next.Threshold - points
	if span := pr.Next.Threshold - base; span > 0 {
		pr.Percent = float64(points-base) / float64(span) * 100
	}
	if pr.Percent < 0 {
		pr.Percent = 0
	}
	return pr
}
