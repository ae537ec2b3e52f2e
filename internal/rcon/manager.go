package rcon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
)

// ConnectionState is the manager's view of the RCON link. Transitions are
// disconnected -> connecting -> {connected|error} -> disconnected; the
// manager never goes connected -> connecting without an intervening
// disconnected.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

var connectionStateStrings = map[ConnectionState]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateError:        "error",
}

// String returns the string representation of ConnectionState.
func (s ConnectionState) String() string {
	if str, ok := connectionStateStrings[s]; ok {
		return str
	}
	return "disconnected"
}

const (
	// ReconnectDelay is the fixed delay before a reconnect attempt.
	ReconnectDelay = 5 * time.Second

	// DefaultPollInterval is the period of the player-list poll.
	DefaultPollInterval = 10 * time.Second

	// PlayersHeaderPrefix marks the header line of the "players" command
	// output, which is excluded from the parsed name list.
	PlayersHeaderPrefix = "Online players"
)

// ManagerConfig is an immutable snapshot of the RCON connection settings.
// Re-supplying an identical (host, port, password) while connected is a
// no-op apart from swapping callbacks.
type ManagerConfig struct {
	Host          string
	Port          int
	Password      string
	Timeout       time.Duration
	Enabled       bool
	AutoReconnect bool
	PollInterval  time.Duration
}

// Callbacks is the notification surface exposed by the manager. Either
// field may be nil. Callbacks run synchronously on the manager's own task
// and must not call back into the Manager.
type Callbacks struct {
	OnStateChange      func(state ConnectionState)
	OnPlayerListUpdate func(names []string)
}

// Manager orchestrates one Client's lifecycle: auto-reconnect after drops,
// periodic player-list polling, and the high-level admin command API.
// It is an explicitly constructed, owned object; multiple independent
// managers can coexist (e.g. under test).
type Manager struct {
	mu          sync.Mutex
	cfg         ManagerConfig
	callbacks   Callbacks
	client      *Client
	state       ConnectionState
	initialized bool

	// gen invalidates timers scheduled before the most recent disconnect.
	gen          uint64
	reconnectTmr *time.Timer
	pollTmr      *time.Timer

	bus    *events.EventBus
	logger zerolog.Logger
}

// NewManager creates an RCON manager. The event bus is optional; when set,
// state changes and player-list updates are also published on it.
func NewManager(bus *events.EventBus) *Manager {
	return &Manager{
		state:  StateDisconnected,
		bus:    bus,
		logger: log.With().Str("component", "rcon_manager").Logger(),
	}
}

// Initialize stores the configuration and callbacks. If the manager is
// already connected with an identical (host, port, password), only the
// callbacks are swapped, avoiding a redundant reconnect cycle on repeated
// reconfiguration.
func (m *Manager) Initialize(cfg ManagerConfig, cb Callbacks) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	m.mu.Lock()
	sameEndpoint := m.initialized &&
		m.cfg.Host == cfg.Host &&
		m.cfg.Port == cfg.Port &&
		m.cfg.Password == cfg.Password
	connected := m.state == StateConnected

	m.callbacks = cb
	if sameEndpoint && connected {
		// Keep the live connection; timeouts and poll interval still follow
		// the new snapshot.
		m.cfg.Timeout = cfg.Timeout
		m.cfg.PollInterval = cfg.PollInterval
		m.cfg.Enabled = cfg.Enabled
		m.cfg.AutoReconnect = cfg.AutoReconnect
		m.mu.Unlock()
		m.logger.Debug().Msg("rcon reinitialized with identical endpoint, callbacks swapped")
		return
	}

	m.cfg = cfg
	m.initialized = true
	m.mu.Unlock()
}

// Connect attempts to establish and authenticate the RCON link. It is a
// no-op when the manager is uninitialized or disabled. On failure the
// manager transitions to the error state and, when auto-reconnect is
// enabled, schedules a retry; each failed attempt reschedules itself.
func (m *Manager) Connect() {
	m.mu.Lock()
	if !m.initialized || !m.cfg.Enabled {
		m.mu.Unlock()
		return
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	cfg := m.cfg
	gen := m.gen
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	client := NewClient(ClientConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})

	err := client.Connect(context.Background())

	m.mu.Lock()
	if m.gen != gen {
		// Disconnected while we were dialing; drop the result.
		m.mu.Unlock()
		client.Disconnect()
		return
	}
	if err != nil {
		m.setStateLocked(StateError)
		m.client = nil
		m.logger.Warn().Err(err).
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Msg("rcon connect failed")
		if m.cfg.AutoReconnect {
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		return
	}

	m.client = client
	m.setStateLocked(StateConnected)
	m.schedulePollLocked()
	m.mu.Unlock()
}

// Disconnect tears the link down: it cancels any poll and pending reconnect
// timers, closes the client if present, and transitions to disconnected.
// It is idempotent and safe to call at any time, including mid-connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.reconnectTmr != nil {
		m.reconnectTmr.Stop()
		m.reconnectTmr = nil
	}
	if m.pollTmr != nil {
		m.pollTmr.Stop()
		m.pollTmr = nil
	}
	client := m.client
	m.client = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the RCON link is up and authenticated.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// setStateLocked changes the connection state; the state-change callback
// fires only on actual transitions. Caller holds m.mu.
func (m *Manager) setStateLocked(next ConnectionState) {
	if m.state == next {
		return
	}
	old := m.state
	m.state = next
	cb := m.callbacks.OnStateChange
	m.logger.Info().
		Str("from", old.String()).
		Str("to", next.String()).
		Msg("rcon state change")

	if cb != nil {
		cb(next)
	}
	if m.bus != nil {
		m.bus.Emit(events.Event{
			Type:    events.EventRconStateChanged,
			Source:  "rcon_manager",
			Payload: events.RconStatePayload{State: next.String()},
		})
	}
}

// scheduleReconnectLocked arms a one-shot reconnect after the fixed delay.
// Caller holds m.mu.
func (m *Manager) scheduleReconnectLocked() {
	gen := m.gen
	m.reconnectTmr = time.AfterFunc(ReconnectDelay, func() {
		m.mu.Lock()
		stale := m.gen != gen
		m.mu.Unlock()
		if stale {
			return
		}
		m.Connect()
	})
}

// schedulePollLocked arms the next player-list poll. The timer re-arms only
// after the current tick completes, so polls never overlap. Caller holds m.mu.
func (m *Manager) schedulePollLocked() {
	gen := m.gen
	m.pollTmr = time.AfterFunc(m.cfg.PollInterval, func() {
		m.mu.Lock()
		stale := m.gen != gen || m.state != StateConnected
		m.mu.Unlock()
		if stale {
			return
		}
		m.pollPlayers()
		m.mu.Lock()
		if m.gen == gen && m.state == StateConnected {
			m.schedulePollLocked()
		}
		m.mu.Unlock()
	})
}

// pollPlayers issues the "players" command and delivers the parsed name
// list. A failure coinciding with a dropped client triggers the same
// disconnect-and-reconnect path as command failures.
func (m *Manager) pollPlayers() {
	resp, err := m.SendCommand("players")
	if err != nil {
		return
	}

	names := ParsePlayerList(resp)

	m.mu.Lock()
	cb := m.callbacks.OnPlayerListUpdate
	m.mu.Unlock()
	if cb != nil {
		cb(names)
	}
	if m.bus != nil {
		m.bus.Emit(events.Event{
			Type:    events.EventPlayerListUpdate,
			Source:  "rcon_manager",
			Payload: events.PlayerListPayload{Names: names},
		})
	}
}

// SendCommand funnels a raw command through the owned client. It returns
// ErrDisconnected (with a logged warning) when no link is up. On a send
// failure it checks whether the client dropped; if so the manager
// transitions to disconnected, discards the client, and schedules a
// reconnect when enabled.
//
// An empty response body with a nil error is a genuinely empty valid
// response; failures are always reported through the error.
func (m *Manager) SendCommand(text string) (string, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil {
		m.logger.Warn().Str("command", firstWord(text)).Msg("rcon command while not connected")
		return "", ErrDisconnected
	}

	resp, err := client.Send(text)
	if err == nil {
		return resp, nil
	}

	if !client.IsConnected() {
		m.mu.Lock()
		if m.client == client {
			m.client = nil
			m.setStateLocked(StateDisconnected)
			if m.pollTmr != nil {
				m.pollTmr.Stop()
				m.pollTmr = nil
			}
			if m.cfg.AutoReconnect && m.cfg.Enabled {
				m.scheduleReconnectLocked()
			}
		}
		m.mu.Unlock()
	}

	m.logger.Warn().Err(err).Str("command", firstWord(text)).Msg("rcon command failed")
	return "", err
}

// --- High-level command API ---

// Kick disconnects a player by name, IP, or platform id.
func (m *Manager) Kick(target string) error {
	_, err := m.SendCommand("kick " + target)
	return err
}

// Ban bans a player by name, IP, or platform id.
func (m *Manager) Ban(target string) error {
	_, err := m.SendCommand("ban " + target)
	return err
}

// Unban removes a ban.
func (m *Manager) Unban(target string) error {
	_, err := m.SendCommand("unban " + target)
	return err
}

// ListBanned returns the current ban list, one entry per line with blanks
// removed.
func (m *Manager) ListBanned() ([]string, error) {
	resp, err := m.SendCommand("banned")
	if err != nil {
		return nil, err
	}
	return splitLines(resp), nil
}

// TriggerEvent starts a named random event near the players.
func (m *Manager) TriggerEvent(name string) error {
	_, err := m.SendCommand("event " + name)
	return err
}

// StopEvent stops the current random event.
func (m *Manager) StopEvent() error {
	_, err := m.SendCommand("stopevent")
	return err
}

// SetGlobalKey sets a world progression key (e.g. defeated_eikthyr).
func (m *Manager) SetGlobalKey(key string) error {
	_, err := m.SendCommand("setkey " + key)
	return err
}

// RemoveGlobalKey removes a world progression key.
func (m *Manager) RemoveGlobalKey(key string) error {
	_, err := m.SendCommand("removekey " + key)
	return err
}

// ResetGlobalKeys clears all world progression keys.
func (m *Manager) ResetGlobalKeys() error {
	_, err := m.SendCommand("resetkeys")
	return err
}

// ListGlobalKeys returns the set world progression keys.
func (m *Manager) ListGlobalKeys() ([]string, error) {
	resp, err := m.SendCommand("listkeys")
	if err != nil {
		return nil, err
	}
	return splitLines(resp), nil
}

// Sleep forces the night to pass.
func (m *Manager) Sleep() error {
	_, err := m.SendCommand("sleep")
	return err
}

// SkipTime advances the world clock by the given number of seconds.
func (m *Manager) SkipTime(seconds int) error {
	_, err := m.SendCommand(fmt.Sprintf("skiptime %d", seconds))
	return err
}

// ServerInfo returns the server's info text.
func (m *Manager) ServerInfo() (string, error) {
	return m.SendCommand("info")
}

// Ping round-trips a ping through the console.
func (m *Manager) Ping() (string, error) {
	return m.SendCommand("ping")
}

// RemoveDrops deletes all item drops in loaded areas.
func (m *Manager) RemoveDrops() error {
	_, err := m.SendCommand("removedrops")
	return err
}

// Save forces a world save.
func (m *Manager) Save() error {
	_, err := m.SendCommand("save")
	return err
}

// Players returns the polled player names immediately (outside the periodic
// poll).
func (m *Manager) Players() ([]string, error) {
	resp, err := m.SendCommand("players")
	if err != nil {
		return nil, err
	}
	return ParsePlayerList(resp), nil
}

// ParsePlayerList extracts player names from a "players" response: one name
// per line, excluding blank lines and the literal header line.
func ParsePlayerList(resp string) []string {
	names := make([]string, 0, 8)
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, PlayersHeaderPrefix) {
			continue
		}
		names = append(names, line)
	}
	return names
}

// splitLines splits a multi-line response, trimming whitespace and removing
// blank lines.
func splitLines(resp string) []string {
	out := make([]string, 0, 8)
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func firstWord(s string) string {
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		return s[:idx]
	}
	return s
}
