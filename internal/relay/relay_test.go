package relay

import (
	"context"
	"testing"
	"time"

	"github.com/dohr-michael/smoothstream/internal/events"
	"github.com/dohr-michael/smoothstream/internal/smooth"
)

func newTestRelay(t *testing.T) (*events.Bus, *Relay) {
	t.Helper()
	bus := events.NewBus(256)
	r := New(Config{
		EventBus: bus,
		Factory:  smooth.NewFactory(smooth.Config{Delay: 0, Chunking: smooth.ChunkWord}),
	})
	t.Cleanup(func() {
		r.Close()
		bus.Close()
	})
	return bus, r
}

func publish(t *testing.T, bus *events.Bus, sessionID string, p events.EventPayload) {
	t.Helper()
	e := events.NewTypedEventWithSession(events.SourceAgent, p, sessionID)
	if err := bus.PublishAsync(context.Background(), e); err != nil {
		t.Fatal(err)
	}
}

func collect(t *testing.T, ch <-chan events.Event, n int) []events.SmoothStreamPayload {
	t.Helper()
	var got []events.SmoothStreamPayload
	for len(got) < n {
		select {
		case e := <-ch:
			p, ok := events.GetSmoothStreamPayload(e)
			if !ok {
				t.Fatalf("unexpected event %s", e.Type)
			}
			got = append(got, p)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout: got %d of %d events", len(got), n)
		}
	}
	return got
}

func TestRelaySmoothsSession(t *testing.T) {
	bus, _ := newTestRelay(t)
	ch, unsub := bus.SubscribeChan(64, events.EventAssistantSmooth)
	defer unsub()

	publish(t, bus, "s1", events.AssistantStreamPayload{Phase: events.StreamPhaseStart})
	publish(t, bus, "s1", events.AssistantStreamPayload{Phase: events.StreamPhaseDelta, Content: "Hello wor"})
	publish(t, bus, "s1", events.AssistantStreamPayload{Phase: events.StreamPhaseDelta, Content: "ld foo"})
	publish(t, bus, "s1", events.AssistantStreamPayload{Phase: events.StreamPhaseEnd, FinishReason: "stop"})

	got := collect(t, ch, 5)

	want := []events.SmoothStreamPayload{
		{Phase: events.StreamPhaseStart},
		{Phase: events.StreamPhaseDelta, Content: "Hello ", Index: 1},
		{Phase: events.StreamPhaseDelta, Content: "world ", Index: 2},
		{Phase: events.StreamPhaseDelta, Content: "foo", Index: 3},
		{Phase: events.StreamPhaseEnd, FinishReason: "stop"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestRelayKeepsSessionsApart(t *testing.T) {
	bus, r := newTestRelay(t)
	ch, unsub := bus.SubscribeChan(64, events.EventAssistantSmooth)
	defer unsub()

	publish(t, bus, "a", events.AssistantStreamPayload{Phase: events.StreamPhaseDelta, Content: "alpha"})
	publish(t, bus, "b", events.AssistantStreamPayload{Phase: events.StreamPhaseDelta, Content: "beta"})
	publish(t, bus, "a", events.AssistantStreamPayload{Phase: events.StreamPhaseEnd})

	var sawAlpha bool
	for _, p := range collect(t, ch, 2) {
		if p.Content == "beta" {
			t.Error("session b leaked into session a")
		}
		if p.Content == "alpha" {
			sawAlpha = true
		}
	}
	if !sawAlpha {
		t.Error("expected alpha to be flushed")
	}
	if n := r.Sessions(); n != 2 {
		t.Errorf("expected 2 live sessions, got %d", n)
	}
}

func TestRelaySessionClosed(t *testing.T) {
	bus, r := newTestRelay(t)

	publish(t, bus, "s1", events.AssistantStreamPayload{Phase: events.StreamPhaseDelta, Content: "pending"})
	publish(t, bus, "s1", events.SessionClosedPayload{Reason: "done"})

	deadline := time.Now().Add(2 * time.Second)
	for r.Sessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected session to be removed, still %d", r.Sessions())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayIgnoresUnknownPhase(t *testing.T) {
	bus, r := newTestRelay(t)

	publish(t, bus, "s1", events.AssistantStreamPayload{Phase: "bogus"})
	time.Sleep(20 * time.Millisecond)

	if n := r.Sessions(); n != 0 {
		t.Errorf("expected no session for unknown phase, got %d", n)
	}
}

func TestRelaySetFactoryAppliesToNewSessions(t *testing.T) {
	bus, r := newTestRelay(t)
	ch, unsub := bus.SubscribeChan(64, events.EventAssistantSmooth)
	defer unsub()

	r.SetFactory(smooth.NewFactory(smooth.Config{Delay: 0, Chunking: smooth.ChunkLine}))

	publish(t, bus, "s2", events.AssistantStreamPayload{Phase: events.StreamPhaseDelta, Content: "a b\nc"})
	publish(t, bus, "s2", events.AssistantStreamPayload{Phase: events.StreamPhaseEnd})

	got := collect(t, ch, 3)
	if got[0].Content != "a b\n" {
		t.Errorf("expected line piece %q, got %q", "a b\n", got[0].Content)
	}
	if got[1].Content != "c" || got[2].Phase != events.StreamPhaseEnd {
		t.Errorf("unexpected tail %+v", got[1:])
	}
}
