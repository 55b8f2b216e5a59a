package events

import (
	"context"
	"errors"
	"testing"
)

func TestHubDeliversToMatchingSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("m1")
	b := hub.Subscribe("m1")
	other := hub.Subscribe("m2")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	if err := hub.Publish(context.Background(), Event{MediaID: "m1", Stage: StageUpload, Status: "complete"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, s := range []*Subscription{a, b} {
		select {
		case ev := <-s.C():
			if ev.Stage != StageUpload || ev.Status != "complete" || ev.Timestamp == 0 {
				t.Fatalf("unexpected event %+v", ev)
			}
		default:
			t.Fatal("expected an event")
		}
	}
	select {
	case ev := <-other.C():
		t.Fatalf("unexpected event for other media: %+v", ev)
	default:
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	s := hub.Subscribe("m1")
	s.Close()
	s.Close()
	if _, ok := <-s.C(); ok {
		t.Fatal("expected closed channel")
	}
	if n := hub.SubscriberCount("m1"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	s := hub.Subscribe("m1")
	for i := 0; i < subscriptionBuffer+1; i++ {
		_ = hub.Publish(context.Background(), Event{MediaID: "m1"})
	}
	if n := hub.SubscriberCount("m1"); n != 0 {
		t.Fatalf("slow subscriber kept, count=%d", n)
	}
	received := 0
	for range s.C() {
		received++
	}
	if received != subscriptionBuffer {
		t.Fatalf("expected %d buffered events, got %d", subscriptionBuffer, received)
	}
	s.Close()
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub()
	s := hub.Subscribe("m1")
	hub.Close()
	if _, ok := <-s.C(); ok {
		t.Fatal("expected closed channel")
	}
	s.Close()
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMultiPublishesToAll(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: boom}

	err := Multi{ok, nil, failing}.Publish(context.Background(), Event{MediaID: "m1", Stage: StageAnalysis})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("not every publisher was called: %d %d", len(ok.events), len(failing.events))
	}
	if ok.events[0].Timestamp == 0 || ok.events[0].Timestamp != failing.events[0].Timestamp {
		t.Fatalf("timestamp not stamped once: %+v %+v", ok.events[0], failing.events[0])
	}
}
