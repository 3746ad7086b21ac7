package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localloop/core"
	"localloop/engine"
)

func TestMemoryStore_EnsureProfileKeepsExisting(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := s.EnsureProfile(ctx, core.NewProfile("u", core.DefaultLadder(), now))
	require.NoError(t, err)
	assert.Equal(t, "Newbie", first.CurrentBadge)

	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		p, found, err := tx.Profile("u")
		if err != nil {
			return err
		}
		assert.True(t, found)
		p.TotalPoints = 42
		return tx.PutProfile(p)
	}))

	again, err := s.EnsureProfile(ctx, core.NewProfile("u", core.DefaultLadder(), now))
	require.NoError(t, err)
	assert.Equal(t, int64(42), again.TotalPoints)
}

func TestMemoryStore_RunTxDiscardsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		require.NoError(t, tx.PutEntry(core.Entry{ID: "e1", UserID: "u", Points: 5}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, found, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_TxReadsOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		require.NoError(t, tx.PutEntry(core.Entry{ID: "e1", UserID: "u"}))
		_, found, _ := tx.Entry("e1")
		assert.True(t, found)
		require.NoError(t, tx.DeleteEntry("e1"))
		_, found, _ = tx.Entry("e1")
		assert.False(t, found)
		return nil
	}))
}

func TestMemoryStore_ListEntriesNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		for i, id := range []core.EntryID{"a", "b", "c"} {
			if err := tx.PutEntry(core.Entry{ID: id, UserID: "u", CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
				return err
			}
		}
		return tx.PutEntry(core.Entry{ID: "other", UserID: "v", CreatedAt: base})
	}))

	all, err := s.ListEntries(ctx, "u", time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, core.EntryID("c"), all[0].ID)
	assert.Equal(t, core.EntryID("a"), all[2].ID)

	recent, err := s.ListEntries(ctx, "u", base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, core.EntryID("c"), recent[0].ID)
}

func TestMemoryStore_PersisterFailureAbortsWrite(t *testing.T) {
	var saved []Snapshot
	fail := false
	s := New(WithPersister(func(snap Snapshot) error {
		if fail {
			return errors.New("disk full")
		}
		saved = append(saved, snap)
		return nil
	}))
	ctx := context.Background()

	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		return tx.PutEntry(core.Entry{ID: "e1", UserID: "u"})
	}))
	require.Len(t, saved, 1)
	assert.Len(t, saved[0].Entries, 1)

	fail = true
	err := s.RunTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		return tx.DeleteEntry("e1")
	})
	require.Error(t, err)
	_, found, _ := s.GetEntry(ctx, "e1")
	assert.True(t, found)
}

func TestMemoryStore_ClonesProfiles(t *testing.T) {
	s := New(WithSnapshot(Snapshot{Profiles: []core.Profile{{UserID: "u", BadgesEarned: []string{"Newbie"}}}}))
	ctx := context.Background()

	p, found, err := s.GetProfile(ctx, "u")
	require.NoError(t, err)
	require.True(t, found)
	p.BadgesEarned[0] = "mutated"

	again, _, _ := s.GetProfile(ctx, "u")
	assert.Equal(t, []string{"Newbie"}, again.BadgesEarned)
}
