package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"localloop/core"
	"localloop/realtime"
)

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	wsURL := "ws" + url[len("http"):] // convert http->ws
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

func waitForSubscribers(t *testing.T, hub *realtime.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, hub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub, nil))
	defer server.Close()

	conn := dial(t, server.URL)
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	hub.Broadcast(context.Background(), core.NewBadgeUnlocked("alice", core.Achievement{Name: "Contributor", PointsAtUnlock: 55}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var received realtime.Frame
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if received.UserID != "alice" || !received.Celebrate {
		t.Fatalf("unexpected frame: %+v", received)
	}
}

func TestHandlerFiltersByUser(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub, nil))
	defer server.Close()

	conn := dial(t, server.URL+"?user=bob")
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	ctx := context.Background()
	hub.Broadcast(ctx, core.NewImpactRecorded(core.Entry{ID: "e1", UserID: "alice", Points: 5}, 5))
	hub.Broadcast(ctx, core.NewImpactRecorded(core.Entry{ID: "e2", UserID: "bob", Points: 15}, 15))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var received realtime.Frame
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if received.EntryID != "e2" || received.Message != "+15 impact points" {
		t.Fatalf("unexpected frame: %+v", received)
	}
}

func TestHandlerUnsubscribesOnDisconnect(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub, nil))
	defer server.Close()

	conn := dial(t, server.URL)
	waitForSubscribers(t, hub, 1)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
