// Package notify pushes server lifecycle notifications to a Discord
// webhook: crashes, restarts, player joins and leaves, and the initial
// server-ready announcement.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
)

const webhookTimeout = 10 * time.Second

// Notification levels select the embed color.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// DiscordNotifier subscribes to the event bus and forwards selected events
// to a Discord webhook as embeds. Sends are fire-and-forget; a failed
// webhook call is logged and dropped.
type DiscordNotifier struct {
	cfg    *config.Config
	bus    *events.EventBus
	client *http.Client
	logger zerolog.Logger

	tokens []subscription
}

type subscription struct {
	eventType events.EventType
	token     events.Token
}

// NewDiscordNotifier wires a notifier to the bus. Returns an error when the
// webhook URL is missing.
func NewDiscordNotifier(cfg *config.Config, bus *events.EventBus) (*DiscordNotifier, error) {
	dcfg := cfg.GetApplicationData().Discord
	if dcfg.WebhookURL == "" {
		return nil, fmt.Errorf("discord webhook URL is not configured")
	}

	n := &DiscordNotifier{
		cfg:    cfg,
		bus:    bus,
		client: &http.Client{Timeout: webhookTimeout},
		logger: log.With().Str("component", "notify").Logger(),
	}
	n.subscribe()
	return n, nil
}

func (n *DiscordNotifier) subscribe() {
	sub := func(t events.EventType, h events.HandlerFunc) {
		n.tokens = append(n.tokens, subscription{t, n.bus.Subscribe(t, "notify.discord", h)})
	}

	sub(events.EventServerReady, n.onServerReady)
	sub(events.EventProcessStateChanged, n.onStateChanged)
	sub(events.EventWatchdogRestart, n.onRestart)
	sub(events.EventWatchdogMaxRestarts, n.onMaxRestarts)

	if n.cfg.GetApplicationData().Discord.NotifyPlayerEvents {
		sub(events.EventPlayerJoined, n.onPlayerJoined)
		sub(events.EventPlayerLeft, n.onPlayerLeft)
	}
}

// Detach removes the notifier's bus subscriptions.
func (n *DiscordNotifier) Detach() {
	for _, s := range n.tokens {
		n.bus.Unsubscribe(s.eventType, s.token)
	}
	n.tokens = nil
}

func (n *DiscordNotifier) onServerReady(events.Event) {
	world := n.cfg.GetServerData().World
	n.send("Server online", fmt.Sprintf("World **%s** is accepting connections.", world), LevelInfo)
}

func (n *DiscordNotifier) onStateChanged(event events.Event) {
	payload, ok := event.Payload.(events.ProcessStateChangedPayload)
	if !ok {
		return
	}
	// Joins, saves and restarts have dedicated messages; only the
	// terminal transitions are worth a ping here.
	switch payload.New {
	case events.ProcessCrashed:
		n.send("Server crashed", "The game server exited unexpectedly.", LevelError)
	case events.ProcessOffline:
		if payload.Old == events.ProcessStopping {
			n.send("Server stopped", "The game server was shut down.", LevelInfo)
		}
	}
}

func (n *DiscordNotifier) onRestart(event events.Event) {
	payload, ok := event.Payload.(events.WatchdogRestartPayload)
	if !ok {
		return
	}
	n.send("Restarting server",
		fmt.Sprintf("Automatic restart attempt %d of %d.", payload.Attempt, payload.Max),
		LevelWarning)
}

func (n *DiscordNotifier) onMaxRestarts(event events.Event) {
	payload, ok := event.Payload.(events.WatchdogRestartPayload)
	if !ok {
		return
	}
	n.send("Server down",
		fmt.Sprintf("Gave up after %d restart attempts. Manual intervention required.", payload.Max),
		LevelError)
}

func (n *DiscordNotifier) onPlayerJoined(event events.Event) {
	payload, ok := event.Payload.(events.PlayerPayload)
	if !ok {
		return
	}
	n.send("Player joined", fmt.Sprintf("**%s** entered the world.", payload.Name), LevelInfo)
}

func (n *DiscordNotifier) onPlayerLeft(event events.Event) {
	payload, ok := event.Payload.(events.PlayerPayload)
	if !ok {
		return
	}
	n.send("Player left", fmt.Sprintf("**%s** left the world.", payload.Name), LevelInfo)
}

// send posts an embed to the webhook in a goroutine so bus handlers never
// block on network I/O.
func (n *DiscordNotifier) send(title, message, level string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := n.post(ctx, title, message, level); err != nil {
			n.logger.Warn().Err(err).Str("title", title).Msg("webhook notification failed")
		}
	}()
}

func (n *DiscordNotifier) post(ctx context.Context, title, message, level string) error {
	var color int
	switch level {
	case LevelError:
		color = 0xFF0000
	case LevelWarning:
		color = 0xFFAA00
	default:
		color = 0x00FF00
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"timestamp":   time.Now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": "ozdsm",
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		n.cfg.GetApplicationData().Discord.WebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
