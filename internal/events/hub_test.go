package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestClientWants(t *testing.T) {
	t.Run("NoSubscriptionGetsEverything", func(t *testing.T) {
		c := &Client{}
		if !c.wants(TypeAdmission) || !c.wants(TypeLoad) {
			t.Error("unfiltered client should receive all event types")
		}
	})

	t.Run("EmptyFilterGetsEverything", func(t *testing.T) {
		c := &Client{Subscription: &SubscriptionRequest{}}
		if !c.wants(TypeBlock) || !c.wants(TypeConnection) {
			t.Error("empty filter should receive all event types")
		}
	})

	t.Run("FilteredSubscription", func(t *testing.T) {
		c := &Client{Subscription: &SubscriptionRequest{Events: []Type{TypeIntrusion}}}
		if !c.wants(TypeIntrusion) {
			t.Error("subscribed type rejected")
		}
		if c.wants(TypeLoad) {
			t.Error("unsubscribed type accepted")
		}
	})
}

func TestHubBroadcastDelivery(t *testing.T) {
	h := NewHub(Config{ReadBufferSize: 1024, WriteBufferSize: 1024}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	all := &Client{ID: "all", Send: make(chan Event, 4)}
	filtered := &Client{
		ID:           "filtered",
		Send:         make(chan Event, 4),
		Subscription: &SubscriptionRequest{Events: []Type{TypeBlock}},
	}
	h.register <- all
	h.register <- filtered

	h.Publish(TypeIntrusion, IntrusionEvent{Principal: "alice", Cluster: 2})

	// Each registration broadcasts a connection event of its own, so drain
	// until the intrusion event comes through.
	deadline := time.After(time.Second)
	var got Event
	for got.Type != TypeIntrusion {
		select {
		case got = <-all.Send:
			if got.Type != TypeIntrusion && got.Type != TypeConnection {
				t.Fatalf("unexpected event type %v", got.Type)
			}
		case <-deadline:
			t.Fatal("unfiltered subscriber did not receive intrusion event")
		}
	}

	select {
	case ev := <-filtered.Send:
		t.Errorf("filtered subscriber received %v", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}

	stats := h.GetStats()
	if stats.TotalConnections != 2 {
		t.Errorf("total connections = %d, want 2", stats.TotalConnections)
	}
	// Two connection events plus the intrusion.
	if stats.TotalBroadcasts != 3 {
		t.Errorf("broadcasts = %d, want 3", stats.TotalBroadcasts)
	}
}

func TestHubAnnouncesSubscriberChurn(t *testing.T) {
	h := NewHub(Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	watcher := &Client{
		ID:           "watcher",
		Send:         make(chan Event, 8),
		Subscription: &SubscriptionRequest{Events: []Type{TypeConnection}},
	}
	h.register <- watcher

	other := &Client{ID: "other", Send: make(chan Event, 8)}
	h.register <- other
	h.unregister <- other

	want := []struct {
		action   string
		clientID string
	}{
		{"connected", "watcher"},
		{"connected", "other"},
		{"disconnected", "other"},
	}
	for _, w := range want {
		select {
		case ev := <-watcher.Send:
			if ev.Type != TypeConnection {
				t.Fatalf("event type = %v, want connection", ev.Type)
			}
			ce, ok := ev.Data.(ConnectionEvent)
			if !ok {
				t.Fatalf("event data = %T, want ConnectionEvent", ev.Data)
			}
			if ce.Action != w.action || ce.ClientID != w.clientID {
				t.Errorf("connection event = %+v, want %s %s", ce, w.action, w.clientID)
			}
		case <-time.After(time.Second):
			t.Fatalf("did not receive %s event for %s", w.action, w.clientID)
		}
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub(Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &Client{ID: "slow", Send: make(chan Event)} // unbuffered, never read
	h.register <- slow

	// First publish fills the (zero-capacity) channel path and evicts.
	h.Publish(TypeLoad, LoadEvent{LoadFactor: 1.0})

	deadline := time.After(time.Second)
	for {
		if h.GetStats().ActiveConnections == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("slow subscriber was not evicted")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
