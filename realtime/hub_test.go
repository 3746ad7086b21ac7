package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"localloop/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1, "")

	ev := core.NewImpactRecorded(core.Entry{ID: "e1", UserID: "bob", Type: core.ActionSellProduct, Points: 15}, 15)
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.UserID != "bob" || received.Type != core.EventImpactRecorded {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Subscribers())
	}
}

func TestHubFiltersByUser(t *testing.T) {
	h := NewHub()
	_, mine := h.Subscribe(2, "alice")

	h.Broadcast(context.Background(), core.NewBadgeUnlocked("bob", core.Achievement{Name: "Contributor"}))
	h.Broadcast(context.Background(), core.NewBadgeUnlocked("alice", core.Achievement{Name: "Contributor"}))

	got := <-mine
	if got.UserID != "alice" {
		t.Fatalf("expected alice's event, got %+v", got)
	}
	select {
	case extra := <-mine:
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewBadgeUnlocked("alice", core.Achievement{Name: "Top Seller", PointsAtUnlock: 210})
	b := MarshalJSON(ev)
	var out Frame
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Badge != "Top Seller" || !out.Celebrate {
		t.Fatalf("unexpected frame: %+v", out)
	}
	if out.Message != "You unlocked the Top Seller badge!" {
		t.Fatalf("unexpected message: %s", out.Message)
	}
}
