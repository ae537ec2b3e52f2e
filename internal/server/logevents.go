package server

import (
	"regexp"
	"strings"
	"sync"
)

// LogEventType identifies a game event recognized in the server log.
type LogEventType int

const (
	LogEventNone LogEventType = iota
	LogEventServerReady
	LogEventCharacterSpawn
	LogEventSteamConnect
	LogEventSteamDisconnect
	LogEventWorldSaved
	LogEventRandomEvent
)

// LogEvent is a structured event parsed from one server log line.
type LogEvent struct {
	Type LogEventType

	CharacterName string // LogEventCharacterSpawn
	ZDOID         string // LogEventCharacterSpawn
	SteamID       string // LogEventSteamConnect, LogEventSteamDisconnect
	DurationMS    string // LogEventWorldSaved
	EventName     string // LogEventRandomEvent
}

var (
	reCharacterSpawn  = regexp.MustCompile(`Got character ZDOID from (.+?) : (-?\d+:\d+)`)
	reSteamConnect    = regexp.MustCompile(`Got connection SteamID (\d+)`)
	reSteamDisconnect = regexp.MustCompile(`Closing socket (\d+)`)
	reWorldSaved      = regexp.MustCompile(`World saved \( (\d+(?:[.,]\d+)?)ms \)`)
	reRandomEvent     = regexp.MustCompile(`Random event set:(\S+)`)
)

// ParseLogLine inspects one server log line and returns the structured
// event it carries, or a LogEventNone event for uninteresting lines.
func ParseLogLine(line string) LogEvent {
	if strings.Contains(line, "Game server connected") {
		return LogEvent{Type: LogEventServerReady}
	}
	if m := reCharacterSpawn.FindStringSubmatch(line); m != nil {
		return LogEvent{Type: LogEventCharacterSpawn, CharacterName: m[1], ZDOID: m[2]}
	}
	if m := reSteamConnect.FindStringSubmatch(line); m != nil {
		return LogEvent{Type: LogEventSteamConnect, SteamID: m[1]}
	}
	if m := reSteamDisconnect.FindStringSubmatch(line); m != nil {
		return LogEvent{Type: LogEventSteamDisconnect, SteamID: m[1]}
	}
	if m := reWorldSaved.FindStringSubmatch(line); m != nil {
		return LogEvent{Type: LogEventWorldSaved, DurationMS: m[1]}
	}
	if m := reRandomEvent.FindStringSubmatch(line); m != nil {
		return LogEvent{Type: LogEventRandomEvent, EventName: m[1]}
	}
	return LogEvent{Type: LogEventNone}
}

// Session describes one player connection observed through log events.
type Session struct {
	SteamID       string
	CharacterName string
}

// SessionTracker correlates Steam connection events with character spawn
// events. The server logs the SteamID first and the character name only
// once the player spawns, so connections are queued until a spawn names
// them.
type SessionTracker struct {
	mu      sync.Mutex
	pending []string           // SteamIDs connected but not yet spawned
	active  map[string]Session // keyed by SteamID
}

// NewSessionTracker creates an empty session tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{active: make(map[string]Session)}
}

// Connect records a new Steam connection awaiting its character spawn.
func (t *SessionTracker) Connect(steamID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.pending {
		if id == steamID {
			return
		}
	}
	t.pending = append(t.pending, steamID)
}

// Spawn records a character spawn. A ZDOID of "0:0" marks a death respawn
// and is ignored. If a spawn names a character already in an active
// session, it is a respawn and no new session starts. Otherwise the spawn
// is paired with the oldest pending connection; the completed session is
// returned with ok=true when a new session starts.
func (t *SessionTracker) Spawn(characterName, zdoid string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if zdoid == "0:0" {
		return Session{}, false
	}
	for _, s := range t.active {
		if s.CharacterName == characterName {
			return Session{}, false
		}
	}
	if len(t.pending) == 0 {
		// Spawn with no observed connection (e.g. tailer started
		// mid-session). Track it without a SteamID.
		s := Session{CharacterName: characterName}
		t.active["?"+characterName] = s
		return s, true
	}

	steamID := t.pending[0]
	t.pending = t.pending[1:]
	s := Session{SteamID: steamID, CharacterName: characterName}
	t.active[steamID] = s
	return s, true
}

// Disconnect closes the session for a SteamID. The ended session is
// returned with ok=true when one was active; pending connections that
// never spawned are dropped silently.
func (t *SessionTracker) Disconnect(steamID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, id := range t.pending {
		if id == steamID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}

	s, ok := t.active[steamID]
	if ok {
		delete(t.active, steamID)
	}
	return s, ok
}

// Active returns a snapshot of the active sessions.
func (t *SessionTracker) Active() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Session, 0, len(t.active))
	for _, s := range t.active {
		out = append(out, s)
	}
	return out
}

// Reset clears all tracked state, for server restarts.
func (t *SessionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	t.active = make(map[string]Session)
}
