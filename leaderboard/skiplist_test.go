package leaderboard

import (
	"context"
	"testing"

	"localloop/core"
)

func TestSkipListBasic(t *testing.T) {
	s := NewSkipList()
	s.Update(core.UserID("a"), 10, "")
	s.Update(core.UserID("b"), 20, "")
	s.Update(core.UserID("c"), 15, "")
	top := s.TopN(3)
	if len(top) != 3 || top[0].User != core.UserID("b") || top[1].User != core.UserID("c") || top[2].User != core.UserID("a") {
		t.Fatalf("unexpected order: %#v", top)
	}
	if top[2].Rank != 3 {
		t.Fatalf("expected rank 3, got %d", top[2].Rank)
	}
	s.Update(core.UserID("a"), 25, "")
	top = s.TopN(1)
	if top[0].User != core.UserID("a") {
		t.Fatalf("top should be a, got %#v", top)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 users, got %d", s.Len())
	}
}

func TestSkipListGetReportsRank(t *testing.T) {
	s := NewSkipList()
	s.Update("a", 50, "Contributor")
	s.Update("b", 50, "Contributor")
	s.Update("c", 5, "Newbie")

	e, ok := s.Get("b")
	if !ok || e.Rank != 2 || e.Badge != "Contributor" {
		t.Fatalf("unexpected entry %#v", e)
	}
	s.Remove("a")
	e, _ = s.Get("b")
	if e.Rank != 1 {
		t.Fatalf("expected b to move to rank 1, got %d", e.Rank)
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("a should be removed")
	}
}

func TestTrackerFollowsEvents(t *testing.T) {
	s := NewSkipList()
	tr := NewTracker(s)
	ctx := context.Background()

	tr.OnEvent(ctx, core.NewImpactRecorded(core.Entry{ID: "e1", UserID: "maya", Points: 55}, 55))
	tr.OnEvent(ctx, core.NewBadgeUnlocked("maya", core.Achievement{Name: "Contributor", PointsAtUnlock: 55}))
	tr.OnEvent(ctx, core.NewImpactRecorded(core.Entry{ID: "e2", UserID: "leo", Points: 20}, 20))

	top := s.TopN(10)
	if len(top) != 2 || top[0].User != "maya" || top[0].Badge != "Contributor" || top[0].Points != 55 {
		t.Fatalf("unexpected board %#v", top)
	}

	tr.OnEvent(ctx, core.NewEntryDeleted(core.Entry{ID: "e1", UserID: "maya", Points: 55}, 55, 0))
	tr.OnEvent(ctx, core.NewBadgeRecomputed("maya", "Contributor", "Newbie", 0))

	top = s.TopN(10)
	if top[0].User != "leo" || top[1].Points != 0 || top[1].Badge != "Newbie" {
		t.Fatalf("unexpected board after delete %#v", top)
	}
}

func TestSkipListAround(t *testing.T) {
	s := NewSkipList()
	for i, u := range []core.UserID{"a", "b", "c", "d", "e"} {
		s.Update(u, int64(100-i*10), "")
	}

	near, ok := s.Around("c", 1)
	if !ok || len(near) != 3 {
		t.Fatalf("unexpected window %#v", near)
	}
	if near[0].User != "b" || near[1].User != "c" || near[2].User != "d" {
		t.Fatalf("unexpected order %#v", near)
	}
	if near[1].Rank != 3 {
		t.Fatalf("expected rank 3, got %d", near[1].Rank)
	}

	near, _ = s.Around("a", 2)
	if len(near) != 3 || near[0].User != "a" || near[0].Rank != 1 {
		t.Fatalf("window at head %#v", near)
	}
	near, _ = s.Around("e", 0)
	if len(near) != 1 || near[0].Rank != 5 {
		t.Fatalf("zero radius %#v", near)
	}
	if _, ok := s.Around("zz", 1); ok {
		t.Fatal("unranked user reported present")
	}
}
