package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
	"github.com/caleb-collar/land-of-oz-dsm/internal/rcon"
	"github.com/caleb-collar/land-of-oz-dsm/internal/tail"
)

// DefaultStopTimeout bounds a graceful server shutdown before escalation.
const DefaultStopTimeout = 30 * time.Second

// Status is a point-in-time snapshot of the supervised server, served by
// the API, the CLI, and the telemetry feed.
type Status struct {
	State        string   `json:"state"`
	PID          int      `json:"pid,omitempty"`
	UptimeSec    int64    `json:"uptime_sec"`
	Attempts     int      `json:"restart_attempts"`
	LastExitCode int      `json:"last_exit_code"`
	RconState    string   `json:"rcon_state"`
	Players      []string `json:"players"`
	World        string   `json:"world"`
	CPUPercent   float64  `json:"cpu_percent,omitempty"`
	MemoryMB     float64  `json:"memory_mb,omitempty"`
}

// Supervisor is the application core: it owns the watchdog, the log
// tailers, the session tracker, and the RCON manager, and translates raw
// log lines into game events on the bus.
type Supervisor struct {
	mu  sync.Mutex
	cfg *config.Config
	bus *events.EventBus

	watchdog *Watchdog
	rcon     *rcon.Manager
	tracker  *SessionTracker

	serverTail  *tail.Tailer
	bepinexTail *tail.Tailer

	players []string
	logger  zerolog.Logger
}

// NewSupervisor wires a supervisor around the loaded configuration.
func NewSupervisor(cfg *config.Config, bus *events.EventBus) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		bus:     bus,
		tracker: NewSessionTracker(),
		logger:  log.With().Str("component", "supervisor").Logger(),
	}
	s.rcon = rcon.NewManager(bus)
	return s
}

// Rcon exposes the RCON manager for the command surfaces (API and CLI).
func (s *Supervisor) Rcon() *rcon.Manager {
	return s.rcon
}

// StartServer launches the game server under watchdog supervision and
// begins tailing its logs.
func (s *Supervisor) StartServer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchdog != nil {
		switch s.watchdog.State() {
		case events.ProcessOffline, events.ProcessCrashed:
		default:
			return fmt.Errorf("server: already %s", s.watchdog.State())
		}
	}

	sd := s.cfg.GetServerData()
	s.watchdog = NewWatchdog(WatchdogConfig{
		Executable: ExecutablePath(sd),
		Args:       BuildServerArgs(sd),
		WorkDir:    sd.InstallDirectory,
		EnvVars:    BuildServerEnv(sd),
		Restart:    sd.Restart,
		RecordDir:  s.cfg.Dir(),
		World:      sd.World,
		Port:       sd.Port,
		LogFile:    sd.LogFile,
	}, s.bus)

	s.tracker.Reset()
	s.initRconLocked(sd)

	if err := s.watchdog.Start(ctx); err != nil {
		return err
	}
	// Tail from the start to capture the boot sequence. The server
	// truncates its log file on spawn and the tailer treats the shrink
	// as rotation, so leftover content from a previous run is skipped.
	s.startTailersLocked(sd, false)
	return nil
}

// ReattachServer resumes supervision of a server left running by a
// previous manager instance, per the persisted process record.
func (s *Supervisor) ReattachServer() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := LoadRecord(s.cfg.Dir())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if !RecordAlive(rec) {
		s.logger.Info().Int("pid", rec.PID).Msg("stale process record, removing")
		return false, RemoveRecord(s.cfg.Dir())
	}

	sd := s.cfg.GetServerData()
	s.watchdog = NewWatchdog(WatchdogConfig{
		Executable: ExecutablePath(sd),
		Args:       BuildServerArgs(sd),
		WorkDir:    sd.InstallDirectory,
		EnvVars:    BuildServerEnv(sd),
		Restart:    sd.Restart,
		RecordDir:  s.cfg.Dir(),
		World:      sd.World,
		Port:       sd.Port,
		LogFile:    sd.LogFile,
	}, s.bus)

	if err := s.watchdog.Reattach(rec); err != nil {
		return false, err
	}

	s.tracker.Reset()
	s.initRconLocked(sd)
	s.startTailersLocked(sd, true)
	go s.rcon.Connect()

	s.logger.Info().Int("pid", rec.PID).Str("world", rec.World).Msg("reattached to running server")
	return true, nil
}

// StopServer saves the world over RCON when possible, then shuts the
// process down gracefully.
func (s *Supervisor) StopServer(timeout time.Duration) error {
	s.mu.Lock()
	w := s.watchdog
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	if s.rcon.IsConnected() {
		if err := s.rcon.Save(); err != nil {
			s.logger.Warn().Err(err).Msg("pre-stop world save failed")
		}
	}
	s.rcon.Disconnect()

	err := w.Stop(timeout)
	s.stopTailers()
	s.clearPlayers()
	return err
}

// KillServer force-terminates the server process.
func (s *Supervisor) KillServer() error {
	s.mu.Lock()
	w := s.watchdog
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	s.rcon.Disconnect()
	err := w.Kill()
	s.stopTailers()
	s.clearPlayers()
	return err
}

// DetachServer leaves the game server running and releases it from
// supervision, persisting a detached process record.
func (s *Supervisor) DetachServer() error {
	s.mu.Lock()
	w := s.watchdog
	s.mu.Unlock()

	if w == nil {
		return fmt.Errorf("server: nothing to detach")
	}
	if err := w.Detach(); err != nil {
		return err
	}
	s.rcon.Disconnect()
	s.stopTailers()
	s.clearPlayers()
	return nil
}

// Shutdown tears everything down on manager exit. The server itself is
// stopped unless detach is set.
func (s *Supervisor) Shutdown(detach bool) {
	if detach {
		if err := s.DetachServer(); err != nil {
			s.logger.Debug().Err(err).Msg("detach on shutdown")
		}
		return
	}
	if err := s.StopServer(DefaultStopTimeout); err != nil {
		s.logger.Warn().Err(err).Msg("stop on shutdown")
	}
}

// Status returns a snapshot of the server and its players.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	w := s.watchdog
	players := append([]string(nil), s.players...)
	s.mu.Unlock()

	sd := s.cfg.GetServerData()
	st := Status{
		State:        events.ProcessOffline.String(),
		LastExitCode: -1,
		RconState:    s.rcon.State().String(),
		Players:      players,
		World:        sd.World,
	}
	if w == nil {
		return st
	}

	st.State = w.State().String()
	st.PID = w.PID()
	st.UptimeSec = int64(w.Uptime().Seconds())
	st.Attempts = w.Attempts()
	st.LastExitCode = w.LastExitCode()

	if pm := w.Process(); pm != nil && pm.IsRunning() {
		if cpu, err := pm.CPUPercent(); err == nil {
			st.CPUPercent = cpu
		}
		if mem, err := pm.MemoryMB(); err == nil {
			st.MemoryMB = mem
		}
	}
	return st
}

// Players returns the last polled player name list.
func (s *Supervisor) Players() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.players...)
}

// RecentLogLines reads the tail of the server log without disturbing the
// live cursor.
func (s *Supervisor) RecentLogLines(n int) ([]string, error) {
	sd := s.cfg.GetServerData()
	if sd.LogFile == "" {
		return nil, fmt.Errorf("server: no log file configured")
	}
	return tail.ReadLastLines(sd.LogFile, n)
}

// initRconLocked pushes the current RCON settings into the manager.
// Caller holds s.mu.
func (s *Supervisor) initRconLocked(sd config.ServerData) {
	s.rcon.Initialize(rcon.ManagerConfig{
		Host:          sd.Rcon.Host,
		Port:          sd.Rcon.Port,
		Password:      sd.Rcon.Password,
		Timeout:       time.Duration(sd.Rcon.TimeoutMS) * time.Millisecond,
		Enabled:       sd.Rcon.Enabled,
		AutoReconnect: sd.Rcon.AutoReconnect,
		PollInterval:  time.Duration(sd.Rcon.PollIntervalMS) * time.Millisecond,
	}, rcon.Callbacks{
		OnPlayerListUpdate: s.onPlayerList,
	})
}

// startTailersLocked starts the server log tailer and, when configured,
// the plugin framework log tailer. Caller holds s.mu.
func (s *Supervisor) startTailersLocked(sd config.ServerData, fromEnd bool) {
	if sd.LogFile != "" {
		s.serverTail = tail.NewTailer(sd.LogFile)
		s.serverTail.Subscribe(func(line string) {
			s.onServerLogLine(line)
		})
		if err := s.serverTail.Start(fromEnd); err != nil {
			s.logger.Warn().Err(err).Str("path", sd.LogFile).Msg("server log tailer failed to start")
		}
	}
	if sd.BepInExLogFile != "" {
		s.bepinexTail = tail.NewTailer(sd.BepInExLogFile)
		s.bepinexTail.Subscribe(func(line string) {
			s.emitLogLine("bepinex", line)
		})
		if err := s.bepinexTail.Start(fromEnd); err != nil {
			s.logger.Warn().Err(err).Str("path", sd.BepInExLogFile).Msg("plugin log tailer failed to start")
		}
	}
}

func (s *Supervisor) stopTailers() {
	s.mu.Lock()
	serverTail, bepinexTail := s.serverTail, s.bepinexTail
	s.serverTail, s.bepinexTail = nil, nil
	s.mu.Unlock()

	if serverTail != nil {
		serverTail.Stop()
	}
	if bepinexTail != nil {
		bepinexTail.Stop()
	}
}

func (s *Supervisor) clearPlayers() {
	s.mu.Lock()
	s.players = nil
	s.mu.Unlock()
	s.tracker.Reset()
}

// onServerLogLine routes one raw log line: it is always published as a
// log event, and recognized lines additionally drive the lifecycle and
// session tracking.
func (s *Supervisor) onServerLogLine(line string) {
	s.emitLogLine("server", line)

	ev := ParseLogLine(line)
	switch ev.Type {
	case LogEventServerReady:
		s.mu.Lock()
		w := s.watchdog
		s.mu.Unlock()
		if w != nil {
			w.NotifyReady()
		}
		// Dialing can block for the full timeout; keep the tailer moving.
		go s.rcon.Connect()

	case LogEventSteamConnect:
		s.tracker.Connect(ev.SteamID)

	case LogEventCharacterSpawn:
		if sess, ok := s.tracker.Spawn(ev.CharacterName, ev.ZDOID); ok {
			s.logger.Info().
				Str("player", sess.CharacterName).
				Str("steam_id", sess.SteamID).
				Msg("player joined")
			s.bus.Emit(events.Event{
				Type:    events.EventPlayerJoined,
				Source:  "supervisor",
				Payload: events.PlayerPayload{Name: sess.CharacterName, SteamID: sess.SteamID},
			})
		}

	case LogEventSteamDisconnect:
		if sess, ok := s.tracker.Disconnect(ev.SteamID); ok {
			s.logger.Info().
				Str("player", sess.CharacterName).
				Str("steam_id", sess.SteamID).
				Msg("player left")
			s.bus.Emit(events.Event{
				Type:    events.EventPlayerLeft,
				Source:  "supervisor",
				Payload: events.PlayerPayload{Name: sess.CharacterName, SteamID: sess.SteamID},
			})
		}

	case LogEventWorldSaved:
		s.bus.Emit(events.Event{
			Type:    events.EventWorldSaved,
			Source:  "supervisor",
			Payload: events.WorldSavedPayload{DurationMS: ev.DurationMS},
		})

	case LogEventRandomEvent:
		s.bus.Emit(events.Event{
			Type:    events.EventRandomEvent,
			Source:  "supervisor",
			Payload: events.RandomEventPayload{Name: ev.EventName},
		})
	}
}

func (s *Supervisor) emitLogLine(source, line string) {
	s.bus.Emit(events.Event{
		Type:    events.EventLogLine,
		Source:  source,
		Payload: events.LogLinePayload{Source: source, Line: line},
	})
}

func (s *Supervisor) onPlayerList(names []string) {
	s.mu.Lock()
	s.players = names
	s.mu.Unlock()
}
