package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
)

type capturedEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type capturedPayload struct {
	Embeds []capturedEmbed `json:"embeds"`
}

// newWebhookServer returns a fake webhook endpoint and a channel delivering
// each posted embed.
func newWebhookServer(t *testing.T) (*httptest.Server, chan capturedEmbed) {
	t.Helper()
	got := make(chan capturedEmbed, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read webhook body: %v", err)
			return
		}
		var payload capturedPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decode webhook body: %v", err)
			return
		}
		for _, e := range payload.Embeds {
			got <- e
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestNotifier(t *testing.T, url string, playerEvents bool) (*DiscordNotifier, *events.EventBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	app := cfg.GetApplicationData()
	app.Discord.Enabled = true
	app.Discord.WebhookURL = url
	app.Discord.NotifyPlayerEvents = playerEvents
	cfg.ApplicationData = app

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	n, err := NewDiscordNotifier(cfg, bus)
	if err != nil {
		t.Fatalf("NewDiscordNotifier: %v", err)
	}
	t.Cleanup(n.Detach)
	return n, bus
}

func waitEmbed(t *testing.T, ch chan capturedEmbed) capturedEmbed {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return capturedEmbed{}
	}
}

func TestNotifierRequiresWebhookURL(t *testing.T) {
	cfg := config.DefaultConfig()
	bus := events.NewEventBus()
	defer bus.Stop()

	if _, err := NewDiscordNotifier(cfg, bus); err == nil {
		t.Fatal("expected error for missing webhook URL")
	}
}

func TestNotifierSendsCrashEmbed(t *testing.T) {
	srv, got := newWebhookServer(t)
	_, bus := newTestNotifier(t, srv.URL, false)

	bus.Emit(events.Event{
		Type:   events.EventProcessStateChanged,
		Source: "watchdog",
		Payload: events.ProcessStateChangedPayload{
			Old: events.ProcessOnline,
			New: events.ProcessCrashed,
		},
	})

	embed := waitEmbed(t, got)
	if embed.Title != "Server crashed" {
		t.Errorf("title = %q, want %q", embed.Title, "Server crashed")
	}
	if embed.Color != 0xFF0000 {
		t.Errorf("color = %#x, want red", embed.Color)
	}
}

func TestNotifierIgnoresIntermediateTransitions(t *testing.T) {
	srv, got := newWebhookServer(t)
	_, bus := newTestNotifier(t, srv.URL, false)

	bus.Emit(events.Event{
		Type:   events.EventProcessStateChanged,
		Source: "watchdog",
		Payload: events.ProcessStateChangedPayload{
			Old: events.ProcessOffline,
			New: events.ProcessStarting,
		},
	})

	select {
	case e := <-got:
		t.Fatalf("unexpected webhook delivery: %+v", e)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestNotifierPlayerEvents(t *testing.T) {
	srv, got := newWebhookServer(t)
	_, bus := newTestNotifier(t, srv.URL, true)

	bus.Emit(events.Event{
		Type:    events.EventPlayerJoined,
		Source:  "supervisor",
		Payload: events.PlayerPayload{Name: "Dorothy", SteamID: "7656119"},
	})

	embed := waitEmbed(t, got)
	if embed.Title != "Player joined" {
		t.Errorf("title = %q, want %q", embed.Title, "Player joined")
	}
}

func TestNotifierPlayerEventsDisabled(t *testing.T) {
	srv, got := newWebhookServer(t)
	_, bus := newTestNotifier(t, srv.URL, false)

	bus.Emit(events.Event{
		Type:    events.EventPlayerJoined,
		Source:  "supervisor",
		Payload: events.PlayerPayload{Name: "Dorothy", SteamID: "7656119"},
	})

	select {
	case e := <-got:
		t.Fatalf("unexpected webhook delivery: %+v", e)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestNotifierMaxRestartsEmbed(t *testing.T) {
	srv, got := newWebhookServer(t)
	_, bus := newTestNotifier(t, srv.URL, false)

	bus.Emit(events.Event{
		Type:    events.EventWatchdogMaxRestarts,
		Source:  "watchdog",
		Payload: events.WatchdogRestartPayload{Attempt: 5, Max: 5},
	})

	embed := waitEmbed(t, got)
	if embed.Title != "Server down" {
		t.Errorf("title = %q, want %q", embed.Title, "Server down")
	}
}
