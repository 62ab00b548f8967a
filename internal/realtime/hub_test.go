package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	return h
}

func attach(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	client := &Client{hub: h, send: make(chan []byte, 256), sub: sub}
	h.register <- client
	waitFor(t, func() bool { return h.ClientCount() > 0 })
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestSubscriptionMatches(t *testing.T) {
	payment := &Event{
		Type: EventPayment,
		Data: map[string]interface{}{"clientId": "cl_aaaa", "amount": "500.00"},
	}
	renewal := &Event{Type: EventRenewal}

	tests := []struct {
		name  string
		sub   Subscription
		event *Event
		want  bool
	}{
		{name: "all events", sub: Subscription{AllEvents: true}, event: renewal, want: true},
		{name: "empty subscription passes everything", sub: Subscription{}, event: payment, want: true},
		{name: "type filter admits listed type", sub: Subscription{EventTypes: []EventType{EventPayment, EventSync}}, event: payment, want: true},
		{name: "type filter rejects others", sub: Subscription{EventTypes: []EventType{EventPayment, EventSync}}, event: renewal, want: false},
		{name: "client filter admits watched client", sub: Subscription{ClientIDs: []string{"cl_aaaa"}}, event: payment, want: true},
		{name: "client filter rejects other clients", sub: Subscription{ClientIDs: []string{"cl_bbbb"}}, event: payment, want: false},
		{
			name:  "client filter ignores non-map payloads",
			sub:   Subscription{ClientIDs: []string{"cl_aaaa"}},
			event: &Event{Type: EventStatus, Data: "plain string"},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.matches(tt.event); got != tt.want {
				t.Errorf("matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatsInitial(t *testing.T) {
	h := NewHub(slog.Default())
	stats := h.Stats()
	if stats.ConnectedClients != 0 || stats.TotalEvents != 0 || stats.PeakClients != 0 {
		t.Fatalf("fresh hub stats not zero: %+v", stats)
	}
}

func TestBroadcastCountsEvents(t *testing.T) {
	h := startHub(t)

	h.Broadcast(&Event{Type: EventPayment, Timestamp: time.Now()})
	waitFor(t, func() bool { return h.Stats().TotalEvents == 1 })
}

func TestRegisterUnregisterTracksPeak(t *testing.T) {
	h := startHub(t)
	client := attach(t, h, Subscription{AllEvents: true})

	stats := h.Stats()
	if stats.ConnectedClients != 1 || stats.PeakClients != 1 {
		t.Fatalf("after register: %+v", stats)
	}

	h.unregister <- client
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	// Peak survives the disconnect.
	if got := h.Stats().PeakClients; got != 1 {
		t.Fatalf("peak = %d, want 1", got)
	}
}

func TestBroadcastReachesSubscriber(t *testing.T) {
	h := startHub(t)
	client := attach(t, h, Subscription{AllEvents: true})

	h.Broadcast(&Event{
		Type:      EventPayment,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"amount": "500.00"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Fatal("empty broadcast payload")
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast never arrived")
	}
}

func TestBroadcastHonorsTypeFilter(t *testing.T) {
	h := startHub(t)
	client := attach(t, h, Subscription{EventTypes: []EventType{EventRenewal}})

	h.Broadcast(&Event{Type: EventPayment, Timestamp: time.Now()})
	waitFor(t, func() bool { return h.Stats().TotalEvents == 1 })

	select {
	case <-client.send:
		t.Fatal("payment event should have been filtered out")
	default:
	}

	h.Broadcast(&Event{Type: EventRenewal, Timestamp: time.Now()})
	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Fatal("empty renewal payload")
		}
	case <-time.After(time.Second):
		t.Fatal("renewal event never arrived")
	}
}

func TestEmitHelpers(t *testing.T) {
	h := startHub(t)

	h.EmitPayment("cl_aaaa", "500.00", "renewed")
	h.EmitSync("cl_aaaa", "connect", "pushed")
	h.EmitRenewal("cl_aaaa", "suspended")

	waitFor(t, func() bool { return h.Stats().TotalEvents == 3 })
}

func TestRunStopsOnCancel(t *testing.T) {
	h := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancellation")
	}
}
