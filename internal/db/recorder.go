package db

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
)

// Recorder subscribes a HistoryStore to the event bus so gameplay and
// lifecycle events end up in the database without the emitting components
// knowing about persistence.
type Recorder struct {
	store  *HistoryStore
	bus    *events.EventBus
	tokens []subscription
	logger zerolog.Logger
}

type subscription struct {
	eventType events.EventType
	token     events.Token
}

// NewRecorder attaches a recorder to the bus.
func NewRecorder(store *HistoryStore, bus *events.EventBus) *Recorder {
	r := &Recorder{
		store:  store,
		bus:    bus,
		logger: log.With().Str("component", "recorder").Logger(),
	}

	r.subscribe(events.EventPlayerJoined, r.onPlayerJoined)
	r.subscribe(events.EventPlayerLeft, r.onPlayerLeft)
	r.subscribe(events.EventWorldSaved, r.onWorldSaved)
	r.subscribe(events.EventRandomEvent, r.onRandomEvent)
	r.subscribe(events.EventProcessStateChanged, r.onStateChanged)
	r.subscribe(events.EventWatchdogRestart, r.onRestart)

	return r
}

// Detach removes all bus subscriptions.
func (r *Recorder) Detach() {
	for _, sub := range r.tokens {
		r.bus.Unsubscribe(sub.eventType, sub.token)
	}
	r.tokens = nil
}

func (r *Recorder) subscribe(eventType events.EventType, fn events.HandlerFunc) {
	tok := r.bus.Subscribe(eventType, "recorder", fn)
	r.tokens = append(r.tokens, subscription{eventType: eventType, token: tok})
}

func (r *Recorder) onPlayerJoined(e events.Event) {
	p, ok := e.Payload.(events.PlayerPayload)
	if !ok {
		return
	}
	if _, err := r.store.OpenSession(p.SteamID, p.Name); err != nil {
		r.logger.Warn().Err(err).Str("player", p.Name).Msg("failed to record join")
	}
}

func (r *Recorder) onPlayerLeft(e events.Event) {
	p, ok := e.Payload.(events.PlayerPayload)
	if !ok {
		return
	}
	if err := r.store.CloseSession(p.SteamID); err != nil {
		r.logger.Warn().Err(err).Str("steam_id", p.SteamID).Msg("failed to record leave")
	}
}

func (r *Recorder) onWorldSaved(e events.Event) {
	p, _ := e.Payload.(events.WorldSavedPayload)
	if err := r.store.RecordEvent(EventKindWorldSave, p.DurationMS+"ms"); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record world save")
	}
}

func (r *Recorder) onRandomEvent(e events.Event) {
	p, ok := e.Payload.(events.RandomEventPayload)
	if !ok {
		return
	}
	if err := r.store.RecordEvent(EventKindRandomEvent, p.Name); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record random event")
	}
}

func (r *Recorder) onStateChanged(e events.Event) {
	p, ok := e.Payload.(events.ProcessStateChangedPayload)
	if !ok {
		return
	}
	detail := fmt.Sprintf("%s -> %s", p.Old, p.New)
	if err := r.store.RecordEvent(EventKindStateChange, detail); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record state change")
	}
	// An unclean exit means no per-player disconnects are coming.
	if p.New == events.ProcessCrashed || p.New == events.ProcessOffline {
		if err := r.store.CloseAllSessions(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close open sessions")
		}
	}
}

func (r *Recorder) onRestart(e events.Event) {
	p, ok := e.Payload.(events.WatchdogRestartPayload)
	if !ok {
		return
	}
	detail := fmt.Sprintf("attempt %d of %d", p.Attempt, p.Max)
	if err := r.store.RecordEvent(EventKindRestart, detail); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record restart")
	}
}
