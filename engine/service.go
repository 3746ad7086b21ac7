package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"localloop/core"
)

// ImpactService is the impact ledger: it resolves actions to points, appends
// ledger entries, keeps per-user totals and unlocks badge tiers.
type ImpactService struct {
	storage Storage
	bus     *EventBus
	rules   core.RuleTable
	ladder  core.Ladder
	logger  *slog.Logger
	now     func() time.Time
	newID   func() core.EntryID
}

// ServiceOption configures an ImpactService.
type ServiceOption func(*ImpactService)

func WithRules(r core.RuleTable) ServiceOption { return func(s *ImpactService) { s.rules = r } }

func WithLadder(l core.Ladder) ServiceOption { return func(s *ImpactService) { s.ladder = l } }

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *ImpactService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) ServiceOption { return func(s *ImpactService) { s.now = now } }

func WithIDGenerator(gen func() core.EntryID) ServiceOption {
	return func(s *ImpactService) { s.newID = gen }
}

func NewImpactService(storage Storage, bus *EventBus, opts ...ServiceOption) *ImpactService {
	if storage == nil || bus == nil {
		panic("NewImpactService requires non-nil storage and bus")
	}
	s := &ImpactService{
		storage: storage,
		bus:     bus,
		rules:   core.DefaultRules(),
		ladder:  core.DefaultLadder(),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() core.EntryID { return core.EntryID(uuid.NewString()) },
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.ladder.Validate(); err != nil {
		panic(fmt.Sprintf("invalid badge ladder: %v", err))
	}
	return s
}

// Receipt describes the outcome of a ledger write.
type Receipt struct {
	// Skipped is set when the action resolved to zero points and nothing was written.
	Skipped  bool              `json:"skipped"`
	Entry    core.Entry        `json:"entry"`
	Total    int64             `json:"total"`
	Unlocked *core.Achievement `json:"unlocked,omitempty"`
	Profile  core.Profile      `json:"profile"`
}

// DeleteResult describes the outcome of removing a ledger entry.
type DeleteResult struct {
	Entry         core.Entry `json:"entry"`
	Removed       int64      `json:"removed"`
	Total         int64      `json:"total"`
	PreviousBadge string     `json:"previous_badge,omitempty"`
	CurrentBadge  string     `json:"current_badge,omitempty"`
	BadgeChanged  bool       `json:"badge_changed"`
}

// EntryPatch holds the editable fields of an entry. Nil fields are left alone.
type EntryPatch struct {
	Type    *core.ActionType
	Summary *string
}

func (s *ImpactService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *ImpactService) Rules() core.RuleTable { return s.rules }

func (s *ImpactService) Ladder() core.Ladder { return s.ladder }

// RecordImpact awards the points for action to user as a system-triggered entry.
func (s *ImpactService) RecordImpact(ctx context.Context, user core.UserID, action core.ActionType, summary string) (Receipt, error) {
	return s.record(ctx, user, action, summary, core.SourceAuto)
}

// RecordManualImpact is the user-entered variant; it requires a summary.
func (s *ImpactService) RecordManualImpact(ctx context.Context, user core.UserID, action core.ActionType, summary string) (Receipt, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return Receipt{}, core.ErrEmptySummary
	}
	return s.record(ctx, user, action, summary, core.SourceManual)
}

func (s *ImpactService) record(ctx context.Context, user core.UserID, action core.ActionType, summary string, source core.Source) (Receipt, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return Receipt{}, err
	}
	points := s.rules.Points(action)
	if points <= 0 {
		s.logger.InfoContext(ctx, "no impact rule for action, skipping",
			"user_id", normalized, "action", action, "source", source)
		return Receipt{Skipped: true}, nil
	}

	now := s.now()
	if _, err := s.storage.EnsureProfile(ctx, core.NewProfile(normalized, s.ladder, now)); err != nil {
		return Receipt{}, fmt.Errorf("ensure profile: %w", err)
	}

	entry := core.Entry{
		ID:        s.newID(),
		UserID:    normalized,
		Type:      action,
		Summary:   summary,
		Points:    points,
		Source:    source,
		CreatedAt: now,
	}

	var rc Receipt
	err = s.storage.RunTx(ctx, func(ctx context.Context, tx Tx) error {
		rc = Receipt{Entry: entry}
		p, found, err := tx.Profile(normalized)
		if err != nil {
			return err
		}
		if !found {
			p = core.NewProfile(normalized, s.ladder, now)
		}
		total, err := core.AddSafe(p.TotalPoints, points)
		if err != nil {
			return err
		}
		p.TotalPoints = total
		p.UpdatedAt = now
		if a, ok := s.ladder.Unlock(&p, total, now); ok {
			rc.Unlocked = &a
		} else {
			s.ladder.Restore(&p, total, now)
		}
		if err := tx.PutEntry(entry); err != nil {
			return err
		}
		if err := tx.PutProfile(p); err != nil {
			return err
		}
		rc.Total = total
		rc.Profile = p
		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("record impact for %s: %w", normalized, err)
	}

	s.logger.InfoContext(ctx, "impact recorded",
		"user_id", normalized, "action", action, "points", points, "total", rc.Total, "source", source)
	s.bus.Publish(ctx, core.NewImpactRecorded(entry, rc.Total))
	if rc.Unlocked != nil {
		s.logger.InfoContext(ctx, "badge unlocked", "user_id", normalized, "badge", rc.Unlocked.Name, "total", rc.Total)
		s.bus.Publish(ctx, core.NewBadgeUnlocked(normalized, *rc.Unlocked))
	}
	return rc, nil
}

// EvaluateBadges unlocks the highest tier reached by total that the user does
// not hold yet. A missing profile is not an error; nothing happens.
func (s *ImpactService) EvaluateBadges(ctx context.Context, user core.UserID, total int64) (string, bool, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return "", false, err
	}
	now := s.now()
	var unlocked *core.Achievement
	err = s.storage.RunTx(ctx, func(ctx context.Context, tx Tx) error {
		unlocked = nil
		p, found, err := tx.Profile(normalized)
		if err != nil || !found {
			return err
		}
		a, ok := s.ladder.Unlock(&p, total, now)
		if !ok {
			return nil
		}
		unlocked = &a
		return tx.PutProfile(p)
	})
	if err != nil {
		return "", false, fmt.Errorf("evaluate badges for %s: %w", normalized, err)
	}
	if unlocked == nil {
		return "", false, nil
	}
	s.logger.InfoContext(ctx, "badge unlocked", "user_id", normalized, "badge", unlocked.Name, "total", total)
	s.bus.Publish(ctx, core.NewBadgeUnlocked(normalized, *unlocked))
	return unlocked.Name, true, nil
}

// DeleteEntry removes an entry, subtracts its points (floored at zero) and
// recomputes the current badge from the ladder, which may downgrade it.
func (s *ImpactService) DeleteEntry(ctx context.Context, id core.EntryID) (DeleteResult, error) {
	now := s.now()
	var res DeleteResult
	err := s.storage.RunTx(ctx, func(ctx context.Context, tx Tx) error {
		res = DeleteResult{}
		e, found, err := tx.Entry(id)
		if err != nil {
			return err
		}
		if !found {
			return core.ErrEntryNotFound
		}
		p, found, err := tx.Profile(e.UserID)
		if err != nil {
			return err
		}
		if !found {
			p = core.NewProfile(e.UserID, s.ladder, now)
		}
		next := max(p.TotalPoints-e.Points, 0)
		res.Removed = p.TotalPoints - next
		p.TotalPoints = next
		prev, changed := s.ladder.Recompute(&p, next, now)
		if err := tx.DeleteEntry(id); err != nil {
			return err
		}
		if err := tx.PutProfile(p); err != nil {
			return err
		}
		res.Entry = e
		res.Total = next
		res.PreviousBadge = prev
		res.CurrentBadge = p.CurrentBadge
		res.BadgeChanged = changed
		return nil
	})
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete entry %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "impact entry deleted",
		"user_id", res.Entry.UserID, "entry_id", id, "removed", res.Removed, "total", res.Total)
	s.bus.Publish(ctx, core.NewEntryDeleted(res.Entry, res.Removed, res.Total))
	if res.BadgeChanged {
		s.logger.InfoContext(ctx, "badge recomputed",
			"user_id", res.Entry.UserID, "previous", res.PreviousBadge, "current", res.CurrentBadge)
		s.bus.Publish(ctx, core.NewBadgeRecomputed(res.Entry.UserID, res.PreviousBadge, res.CurrentBadge, res.Total))
	}
	return res, nil
}

// UpdateEntry edits an entry's type and summary. Points stay as recorded.
func (s *ImpactService) UpdateEntry(ctx context.Context, id core.EntryID, patch EntryPatch) (core.Entry, error) {
	if patch.Type != nil && !s.rules.Known(*patch.Type) {
		return core.Entry{}, fmt.Errorf("%w: %s", core.ErrUnknownAction, *patch.Type)
	}
	if patch.Summary != nil {
		trimmed := strings.TrimSpace(*patch.Summary)
		if trimmed == "" {
			return core.Entry{}, core.ErrEmptySummary
		}
		patch.Summary = &trimmed
	}
	now := s.now()
	var updated core.Entry
	err := s.storage.RunTx(ctx, func(ctx context.Context, tx Tx) error {
		e, found, err := tx.Entry(id)
		if err != nil {
			return err
		}
		if !found {
			return core.ErrEntryNotFound
		}
		if patch.Type != nil {
			e.Type = *patch.Type
		}
		if patch.Summary != nil {
			e.Summary = *patch.Summary
		}
		at := now
		e.UpdatedAt = &at
		updated = e
		return tx.PutEntry(e)
	})
	if err != nil {
		return core.Entry{}, fmt.Errorf("update entry %s: %w", id, err)
	}
	s.bus.Publish(ctx, core.NewEntryUpdated(updated))
	return updated, nil
}

// GetProfile returns the stored profile, or an empty one holding no badges
// when the user has never earned impact.
func (s *ImpactService) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Profile{}, err
	}
	p, found, err := s.storage.GetProfile(ctx, normalized)
	if err != nil {
		return core.Profile{}, err
	}
	if !found {
		return core.Profile{UserID: normalized, BadgesEarned: []string{}, Achievements: []core.Achievement{}}, nil
	}
	return p, nil
}

func (s *ImpactService) GetEntry(ctx context.Context, id core.EntryID) (core.Entry, error) {
	e, found, err := s.storage.GetEntry(ctx, id)
	if err != nil {
		return core.Entry{}, err
	}
	if !found {
		return core.Entry{}, core.ErrEntryNotFound
	}
	return e, nil
}

// ListEntries returns the user's history for period, newest first.
func (s *ImpactService) ListEntries(ctx context.Context, user core.UserID, period core.Period) ([]core.Entry, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return s.storage.ListEntries(ctx, normalized, period.Since(s.now()))
}

// Progress reports how far total is towards the next badge tier.
func (s *ImpactService) Progress(total int64) core.Progress {
	return s.ladder.Progress(total)
}

func (s *ImpactService) Close() { s.bus.Close() }
