// Package events defines event types and enumerations for the manager's
// internal event system.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Process lifecycle events
	EventProcessStateChanged EventType = "process_state_changed"
	EventServerReady         EventType = "server_ready"
	EventWatchdogRestart     EventType = "watchdog_restart"
	EventWatchdogMaxRestarts EventType = "watchdog_max_restarts"

	// Log stream events
	EventLogLine     EventType = "log_line"
	EventWorldSaved  EventType = "world_saved"
	EventRandomEvent EventType = "random_event"

	// Player events
	EventPlayerJoined     EventType = "player_joined"
	EventPlayerLeft       EventType = "player_left"
	EventPlayerListUpdate EventType = "player_list_update"

	// RCON events
	EventRconStateChanged EventType = "rcon_state_changed"

	// System events
	EventError    EventType = "error"
	EventShutdown EventType = "shutdown"
)

// ProcessState represents the lifecycle state of the supervised game server
// process. It is owned and mutated exclusively by the watchdog.
type ProcessState int

const (
	ProcessOffline ProcessState = iota
	ProcessStarting
	ProcessOnline
	ProcessCrashed
	ProcessStopping
)

// processStateStrings maps ProcessState values to their lowercase JSON string
// representation.
var processStateStrings = map[ProcessState]string{
	ProcessOffline:  "offline",
	ProcessStarting: "starting",
	ProcessOnline:   "online",
	ProcessCrashed:  "crashed",
	ProcessStopping: "stopping",
}

// String returns the string representation of ProcessState.
func (s ProcessState) String() string {
	if str, ok := processStateStrings[s]; ok {
		return str
	}
	return "offline"
}

// MarshalJSON serializes ProcessState as a JSON string (e.g. "online").
func (s ProcessState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ProcessStateChangedPayload carries a watchdog state transition.
type ProcessStateChangedPayload struct {
	Old ProcessState
	New ProcessState
}

// WatchdogRestartPayload carries a scheduled restart attempt.
type WatchdogRestartPayload struct {
	Attempt int
	Max     int
}

// LogLinePayload carries one complete line from a tailed log file.
type LogLinePayload struct {
	Source string // "server" or "bepinex"
	Line   string
}

// WorldSavedPayload carries a world-save completion parsed from the log.
// The duration keeps the log's textual form, including locale-dependent
// decimal separators ("12,3" or "12.3").
type WorldSavedPayload struct {
	DurationMS string
}

// RandomEventPayload carries a random in-game event parsed from the log.
type RandomEventPayload struct {
	Name string
}

// PlayerPayload carries a single player's join/leave details.
type PlayerPayload struct {
	Name    string
	SteamID string
}

// PlayerListPayload carries the polled player name list.
type PlayerListPayload struct {
	Names []string
}

// RconStatePayload carries an RCON connection state transition.
type RconStatePayload struct {
	State string
}

// ErrorPayload carries a recoverable error surfaced by a component.
type ErrorPayload struct {
	Component string
	Err       error
}
