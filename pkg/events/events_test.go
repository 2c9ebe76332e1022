package events

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)

	if got := b.SubscriberCount(); got != 2 {
		t.Fatalf("subscriber count = %d, want 2", got)
	}

	b.Publish(&Event{
		Type: EventCommit,
		Repo: "test-repo",
		Ref:  "main",
		Hash: "ab12",
		Keys: []string{"db.t1"},
	})

	for _, sub := range []Subscriber{s1, s2} {
		e := recvEvent(t, sub)
		if e.Type != EventCommit {
			t.Errorf("type = %q, want %q", e.Type, EventCommit)
		}
		if e.Ref != "main" || e.Repo != "test-repo" {
			t.Errorf("unexpected event scope %q %q", e.Repo, e.Ref)
		}
		if e.ID == "" {
			t.Error("event id was not filled in")
		}
		if e.Timestamp.IsZero() {
			t.Error("event timestamp was not filled in")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("subscriber count = %d, want 0", got)
	}

	// The channel is closed on unsubscribe.
	if _, open := <-sub; open {
		t.Error("subscriber channel still open after unsubscribe")
	}
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventRefCreated, Ref: "main"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked after stop")
	}
}
