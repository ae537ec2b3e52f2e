package events

import "testing"

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var got []Event
	bus.Subscribe(EventWorldSaved, "test", func(e Event) {
		got = append(got, e)
	})

	bus.Emit(Event{Type: EventWorldSaved, Source: "x", Payload: WorldSavedPayload{DurationMS: "12.5"}})
	bus.Emit(Event{Type: EventPlayerJoined, Source: "x"}) // different type, not delivered

	if len(got) != 1 {
		t.Fatalf("delivered events = %d, want 1", len(got))
	}
	if p, ok := got[0].Payload.(WorldSavedPayload); !ok || p.DurationMS != "12.5" {
		t.Errorf("payload = %+v", got[0].Payload)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	count := 0
	tok := bus.Subscribe(EventLogLine, "test", func(Event) { count++ })
	bus.Emit(Event{Type: EventLogLine})
	bus.Unsubscribe(EventLogLine, tok)
	bus.Emit(Event{Type: EventLogLine})

	if count != 1 {
		t.Errorf("deliveries = %d, want 1", count)
	}
	if got := bus.HandlerCount(EventLogLine); got != 0 {
		t.Errorf("HandlerCount = %d, want 0", got)
	}
}

func TestBusRecoversFromPanickingHandler(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	delivered := false
	bus.Subscribe(EventError, "bad", func(Event) { panic("boom") })
	bus.Subscribe(EventError, "good", func(Event) { delivered = true })

	bus.Emit(Event{Type: EventError, Payload: ErrorPayload{Component: "test"}})

	if !delivered {
		t.Error("a panicking handler must not block later handlers")
	}
}

func TestBusEmitAfterStop(t *testing.T) {
	bus := NewEventBus()

	count := 0
	bus.Subscribe(EventShutdown, "test", func(Event) { count++ })
	bus.Stop()
	bus.Emit(Event{Type: EventShutdown})

	if count != 0 {
		t.Errorf("deliveries after Stop = %d, want 0", count)
	}
}

func TestProcessStateString(t *testing.T) {
	tests := []struct {
		state ProcessState
		want  string
	}{
		{ProcessOffline, "offline"},
		{ProcessStarting, "starting"},
		{ProcessOnline, "online"},
		{ProcessCrashed, "crashed"},
		{ProcessStopping, "stopping"},
		{ProcessState(99), "offline"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ProcessState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
