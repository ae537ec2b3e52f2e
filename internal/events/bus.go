package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event. Handlers are invoked
// synchronously on the emitting component's goroutine, so an event from a
// periodic task is fully delivered before the task re-arms.
type HandlerFunc func(event Event)

// Token identifies a single subscription for later removal.
type Token uint64

// EventBus is a typed publish-subscribe hub connecting the watchdog, the
// RCON manager, and the log tailers to telemetry, persistence, and the API.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	nextTok  Token
	stopped  bool
}

type handlerEntry struct {
	token   Token
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		nextTok:  1,
	}
}

// Subscribe registers a handler for a specific event type and returns a
// token that can be passed to Unsubscribe. The name is used for logging.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) Token {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	tok := eb.nextTok
	eb.nextTok++

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		token:   tok,
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")

	return tok
}

// Unsubscribe removes the subscription identified by token. Removing an
// unknown token is a no-op.
func (eb *EventBus) Unsubscribe(eventType EventType, token Token) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.token != token {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered
}

// Emit delivers an event to all subscribed handlers, in subscription order,
// on the caller's goroutine. A panicking handler is recovered and logged so
// one bad subscriber cannot take down the emitting component.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return
	}
	handlers := eb.handlers[event.Type]
	handlersCopy := make([]handlerEntry, len(handlers))
	copy(handlersCopy, handlers)
	eb.mu.RUnlock()

	if len(handlersCopy) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlersCopy)).
		Msg("emitting event")

	for _, h := range handlersCopy {
		eb.invoke(h, event)
	}
}

func (eb *EventBus) invoke(h handlerEntry, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()
	h.handler(event)
}

// Stop marks the bus stopped; further Emit calls are dropped.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	eb.stopped = true
	eb.mu.Unlock()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
