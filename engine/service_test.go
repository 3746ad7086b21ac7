package engine_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "localloop/adapters/memory"
	"localloop/core"
	"localloop/engine"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newService(t *testing.T, opts ...engine.ServiceOption) (*engine.ImpactService, *mem.Store) {
	t.Helper()
	store := mem.New()
	c := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	var seq atomic.Int64
	opts = append([]engine.ServiceOption{
		engine.WithClock(c.Now),
		engine.WithIDGenerator(func() core.EntryID { return core.EntryID(fmt.Sprintf("e%03d", seq.Add(1))) }),
	}, opts...)
	svc := engine.NewImpactService(store, engine.NewEventBus(engine.DispatchSync), opts...)
	return svc, store
}

func TestRecordImpact_ListingThenSalesUnlocksContributor(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	var unlocked []core.Event
	svc.Subscribe(core.EventBadgeUnlocked, func(_ context.Context, e core.Event) { unlocked = append(unlocked, e) })

	rc, err := svc.RecordImpact(ctx, "maya", core.ActionProductListing, "Listed a new home product: Jar")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rc.Total)
	assert.Nil(t, rc.Unlocked)
	assert.Equal(t, "Newbie", rc.Profile.CurrentBadge)

	for i := 0; i < 3; i++ {
		rc, err = svc.RecordImpact(ctx, "maya", core.ActionSellProduct, "Sold a Product: Jar")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(55), rc.Total)
	require.NotNil(t, rc.Unlocked)
	assert.Equal(t, "Contributor", rc.Unlocked.Name)
	assert.Equal(t, int64(55), rc.Unlocked.PointsAtUnlock)

	p, err := svc.GetProfile(ctx, "maya")
	require.NoError(t, err)
	assert.Equal(t, int64(55), p.TotalPoints)
	assert.Equal(t, "Contributor", p.CurrentBadge)
	assert.Equal(t, []string{"Newbie", "Contributor"}, p.BadgesEarned)
	require.Len(t, p.Achievements, 2)
	assert.Equal(t, int64(0), p.Achievements[0].PointsAtUnlock)
	assert.Equal(t, int64(55), p.Achievements[1].PointsAtUnlock)
	require.NotNil(t, p.LastBadgeUnlockedAt)

	require.Len(t, unlocked, 1)
	assert.Equal(t, "Contributor", unlocked[0].Badge)

	entries, err := svc.ListEntries(ctx, "maya", core.PeriodAll)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, core.ActionProductListing, entries[3].Type)
	assert.Equal(t, core.SourceAuto, entries[0].Source)
}

func TestRecordImpact_UnknownActionIsNoop(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	rc, err := svc.RecordImpact(ctx, "maya", core.ActionType("refund"), "nope")
	require.NoError(t, err)
	assert.True(t, rc.Skipped)

	_, found, err := store.GetProfile(ctx, "maya")
	require.NoError(t, err)
	assert.False(t, found)
	entries, err := svc.ListEntries(ctx, "maya", core.PeriodAll)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordImpact_InvalidUser(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.RecordImpact(context.Background(), "   ", core.ActionSellProduct, "x")
	require.ErrorIs(t, err, core.ErrInvalidUser)
}

func TestRecordImpact_JumpUnlocksOnlyHighestTier(t *testing.T) {
	svc, _ := newService(t, engine.WithRules(core.DefaultRules().Merge(map[string]int64{"grant": 620})))
	ctx := context.Background()

	rc, err := svc.RecordImpact(ctx, "maya", "grant", "bulk import")
	require.NoError(t, err)
	require.NotNil(t, rc.Unlocked)
	assert.Equal(t, "Eco Warrior", rc.Unlocked.Name)
	assert.Equal(t, []string{"Newbie", "Eco Warrior"}, rc.Profile.BadgesEarned)

	// skipped tiers are not back-filled
	_, ok, err := svc.EvaluateBadges(ctx, "maya", 620)
	require.NoError(t, err)
	assert.False(t, ok)

	name, ok, err := svc.EvaluateBadges(ctx, "maya", 1000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Legend", name)
}

func TestEvaluateBadges_Idempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordImpact(ctx, "maya", core.ActionSellEventTicket, "Sold Ticket for: Fair")
	require.NoError(t, err)

	name, ok, err := svc.EvaluateBadges(ctx, "maya", 60)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Contributor", name)

	_, ok, err = svc.EvaluateBadges(ctx, "maya", 60)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := svc.GetProfile(ctx, "maya")
	require.NoError(t, err)
	assert.Len(t, p.Achievements, 2)
}

func TestEvaluateBadges_MissingProfileIsNoop(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, ok, err := svc.EvaluateBadges(ctx, "ghost", 500)
	require.NoError(t, err)
	assert.False(t, ok)
	_, found, _ := store.GetProfile(ctx, "ghost")
	assert.False(t, found)
}

func TestRecordManualImpact(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordManualImpact(ctx, "maya", core.ActionBuyProduct, "  ")
	require.ErrorIs(t, err, core.ErrEmptySummary)

	rc, err := svc.RecordManualImpact(ctx, "maya", core.ActionBuyProduct, " Bought soap at the market ")
	require.NoError(t, err)
	assert.Equal(t, core.SourceManual, rc.Entry.Source)
	assert.Equal(t, "Bought soap at the market", rc.Entry.Summary)
	assert.Equal(t, int64(5), rc.Total)
}

func TestDeleteEntry_DowngradesBadge(t *testing.T) {
	rules := core.DefaultRules().Merge(map[string]int64{"grant": 165})
	svc, _ := newService(t, engine.WithRules(rules))
	ctx := context.Background()

	var recomputed []core.Event
	svc.Subscribe(core.EventBadgeRecomputed, func(_ context.Context, e core.Event) { recomputed = append(recomputed, e) })

	_, err := svc.RecordImpact(ctx, "maya", core.ActionSellEventTicket, "a")
	require.NoError(t, err)
	_, err = svc.RecordImpact(ctx, "maya", core.ActionSellEventTicket, "b")
	require.NoError(t, err)
	big, err := svc.RecordImpact(ctx, "maya", "grant", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(205), big.Total)
	assert.Equal(t, "Top Seller", big.Profile.CurrentBadge)

	res, err := svc.DeleteEntry(ctx, big.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.Total)
	assert.Equal(t, int64(165), res.Removed)
	assert.Equal(t, "Top Seller", res.PreviousBadge)
	assert.Equal(t, "Newbie", res.CurrentBadge)
	assert.True(t, res.BadgeChanged)
	require.Len(t, recomputed, 1)

	p, err := svc.GetProfile(ctx, "maya")
	require.NoError(t, err)
	assert.Equal(t, "Newbie", p.CurrentBadge)
	assert.True(t, p.HasBadge("Top Seller"))

	// earning back above the threshold restores the badge without a second unlock
	again, err := svc.RecordImpact(ctx, "maya", "grant", "d")
	require.NoError(t, err)
	assert.Nil(t, again.Unlocked)
	assert.Equal(t, "Top Seller", again.Profile.CurrentBadge)
	assert.Len(t, again.Profile.Achievements, 2)

	_, err = svc.DeleteEntry(ctx, big.Entry.ID)
	require.ErrorIs(t, err, core.ErrEntryNotFound)
}

func TestDeleteEntry_AfterSkipJumpLandsOnReachedTier(t *testing.T) {
	rules := core.DefaultRules().Merge(map[string]int64{"big": 520})
	svc, _ := newService(t, engine.WithRules(rules))
	ctx := context.Background()

	big, err := svc.RecordImpact(ctx, "leo", "big", "jump")
	require.NoError(t, err)
	require.NotNil(t, big.Unlocked)
	assert.Equal(t, "Eco Warrior", big.Unlocked.Name)

	for range 5 {
		_, err := svc.RecordImpact(ctx, "leo", core.ActionSellEventTicket, "ticket")
		require.NoError(t, err)
	}

	res, err := svc.DeleteEntry(ctx, big.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Total)
	assert.Equal(t, "Eco Warrior", res.PreviousBadge)
	assert.Equal(t, "Contributor", res.CurrentBadge)

	rc, err := svc.RecordImpact(ctx, "leo", "big", "again")
	require.NoError(t, err)
	assert.Nil(t, rc.Unlocked, "Eco Warrior was already earned")
	assert.Equal(t, "Eco Warrior", rc.Profile.CurrentBadge)
}

func TestDeleteEntry_FloorsTotalAtZero(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	rc, err := svc.RecordImpact(ctx, "maya", core.ActionSellProduct, "x")
	require.NoError(t, err)
	require.NoError(t, store.RunTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		p, _, err := tx.Profile("maya")
		if err != nil {
			return err
		}
		p.TotalPoints = 4
		return tx.PutProfile(p)
	}))

	res, err := svc.DeleteEntry(ctx, rc.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Total)
	assert.Equal(t, int64(4), res.Removed)
}

func TestUpdateEntry_KeepsPoints(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	rc, err := svc.RecordManualImpact(ctx, "maya", core.ActionBuyProduct, "soap")
	require.NoError(t, err)

	typ := core.ActionSellProduct
	summary := "sold soap"
	updated, err := svc.UpdateEntry(ctx, rc.Entry.ID, engine.EntryPatch{Type: &typ, Summary: &summary})
	require.NoError(t, err)
	assert.Equal(t, core.ActionSellProduct, updated.Type)
	assert.Equal(t, "sold soap", updated.Summary)
	assert.Equal(t, int64(5), updated.Points)
	require.NotNil(t, updated.UpdatedAt)

	p, err := svc.GetProfile(ctx, "maya")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.TotalPoints)

	bad := core.ActionType("refund")
	_, err = svc.UpdateEntry(ctx, rc.Entry.ID, engine.EntryPatch{Type: &bad})
	require.ErrorIs(t, err, core.ErrUnknownAction)

	blank := " "
	_, err = svc.UpdateEntry(ctx, rc.Entry.ID, engine.EntryPatch{Summary: &blank})
	require.ErrorIs(t, err, core.ErrEmptySummary)

	_, err = svc.UpdateEntry(ctx, "missing", engine.EntryPatch{Summary: &summary})
	require.ErrorIs(t, err, core.ErrEntryNotFound)
}

func TestGetProfile_MissingUserIsEmpty(t *testing.T) {
	svc, _ := newService(t)
	p, err := svc.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, core.UserID("nobody"), p.UserID)
	assert.Zero(t, p.TotalPoints)
	assert.Empty(t, p.CurrentBadge)
	assert.Empty(t, p.BadgesEarned)
}

func TestRecordImpact_ConcurrentWritesAccumulate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordImpact(ctx, "maya", core.ActionBuyProduct, "soap")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := svc.GetProfile(ctx, "maya")
	require.NoError(t, err)
	assert.Equal(t, int64(n*5), p.TotalPoints)
	assert.Equal(t, []string{"Newbie", "Contributor"}, p.BadgesEarned)

	entries, err := svc.ListEntries(ctx, "maya", core.PeriodWeek)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}
