package db

import (
	"path/filepath"
	"testing"

	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewHistoryStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)

	id, err := store.OpenSession("76561198000000001", "Thorvald")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if id == 0 {
		t.Error("session id = 0")
	}

	sessions, err := store.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].LeftAt != nil {
		t.Error("fresh session should be open")
	}

	if err := store.CloseSession("76561198000000001"); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	sessions, _ = store.RecentSessions(10)
	if sessions[0].LeftAt == nil {
		t.Error("session should be closed")
	}
}

func TestCloseAllSessions(t *testing.T) {
	store := newTestStore(t)

	store.OpenSession("1", "A")
	store.OpenSession("2", "B")
	if err := store.CloseAllSessions(); err != nil {
		t.Fatalf("CloseAllSessions failed: %v", err)
	}

	sessions, _ := store.RecentSessions(10)
	for _, s := range sessions {
		if s.LeftAt == nil {
			t.Errorf("session %s still open", s.CharacterName)
		}
	}
}

func TestRecentEventsFiltering(t *testing.T) {
	store := newTestStore(t)

	store.RecordEvent(EventKindWorldSave, "1234ms")
	store.RecordEvent(EventKindRestart, "attempt 1 of 5")
	store.RecordEvent(EventKindWorldSave, "999ms")

	all, err := store.RecentEvents("", 10)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all events = %d, want 3", len(all))
	}
	// Most recent first.
	if all[0].Detail != "999ms" {
		t.Errorf("newest event = %q, want 999ms", all[0].Detail)
	}

	saves, err := store.RecentEvents(EventKindWorldSave, 10)
	if err != nil {
		t.Fatalf("filtered RecentEvents failed: %v", err)
	}
	if len(saves) != 2 {
		t.Errorf("world saves = %d, want 2", len(saves))
	}
}

func TestRecorderPersistsBusEvents(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()
	defer bus.Stop()

	rec := NewRecorder(store, bus)
	defer rec.Detach()

	bus.Emit(events.Event{
		Type:    events.EventPlayerJoined,
		Payload: events.PlayerPayload{Name: "Thorvald", SteamID: "76561198000000001"},
	})
	bus.Emit(events.Event{
		Type:    events.EventWorldSaved,
		Payload: events.WorldSavedPayload{DurationMS: "42"},
	})
	bus.Emit(events.Event{
		Type:    events.EventPlayerLeft,
		Payload: events.PlayerPayload{Name: "Thorvald", SteamID: "76561198000000001"},
	})

	sessions, _ := store.RecentSessions(10)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].LeftAt == nil {
		t.Error("session should be closed after player left event")
	}

	saves, _ := store.RecentEvents(EventKindWorldSave, 10)
	if len(saves) != 1 || saves[0].Detail != "42ms" {
		t.Errorf("world save events = %+v", saves)
	}
}

func TestRecorderClosesSessionsOnCrash(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()
	defer bus.Stop()

	rec := NewRecorder(store, bus)
	defer rec.Detach()

	bus.Emit(events.Event{
		Type:    events.EventPlayerJoined,
		Payload: events.PlayerPayload{Name: "Erik", SteamID: "2"},
	})
	bus.Emit(events.Event{
		Type: events.EventProcessStateChanged,
		Payload: events.ProcessStateChangedPayload{
			Old: events.ProcessOnline,
			New: events.ProcessCrashed,
		},
	})

	sessions, _ := store.RecentSessions(10)
	if len(sessions) != 1 || sessions[0].LeftAt == nil {
		t.Errorf("crash should close open sessions, got %+v", sessions)
	}

	changes, _ := store.RecentEvents(EventKindStateChange, 10)
	if len(changes) != 1 || changes[0].Detail != "online -> crashed" {
		t.Errorf("state change events = %+v", changes)
	}
}
