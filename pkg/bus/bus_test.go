package bus

import (
	"testing"
	"time"

	"github.com/B-Whitt/skillwatch/pkg/store"
)

func projectionWithLine(line string) Projection {
	return Projection{
		Summaries:   []store.Summary{},
		StatusLine:  line,
		GeneratedAt: time.Now(),
	}
}

func TestSubscriberReceivesPublished(t *testing.T) {
	b := NewProjectionBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(projectionWithLine("one running"))

	select {
	case p := <-ch:
		if p.StatusLine != "one running" {
			t.Fatalf("got %q", p.StatusLine)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for projection")
	}
}

func TestLatestWinsForSlowSubscriber(t *testing.T) {
	b := NewProjectionBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	// Nobody reads between these; older snapshots are dropped.
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		b.Publish(projectionWithLine(line))
	}

	p := <-ch
	if p.StatusLine != "e" {
		t.Fatalf("slow subscriber saw %q, want latest %q", p.StatusLine, "e")
	}
	select {
	case stale := <-ch:
		t.Fatalf("stale projection still queued: %q", stale.StatusLine)
	default:
	}
}

func TestLateSubscriberGetsLastSnapshot(t *testing.T) {
	b := NewProjectionBus()
	defer b.Close()

	b.Publish(projectionWithLine("before"))

	ch, cancel := b.Subscribe()
	defer cancel()

	select {
	case p := <-ch:
		if p.StatusLine != "before" {
			t.Fatalf("got %q", p.StatusLine)
		}
	default:
		t.Fatal("late subscriber did not get the cached snapshot")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewProjectionBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}
	// Publishing after cancel must not panic.
	b.Publish(projectionWithLine("after"))
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := NewProjectionBus()
	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()

	b.Close()

	for _, ch := range []<-chan Projection{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Fatal("subscriber channel still open after Close")
		}
	}
	// Idempotent.
	b.Close()
}
