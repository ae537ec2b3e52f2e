package server

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
)

// maxRestartDelay caps the exponential backoff between restart attempts.
const maxRestartDelay = 5 * time.Minute

// WatchdogConfig holds everything the watchdog needs to launch and
// supervise the game server process.
type WatchdogConfig struct {
	Executable string
	Args       []string
	WorkDir    string
	EnvVars    map[string]string

	Restart config.RestartData

	// RecordDir is where the process record is persisted. Empty disables
	// record keeping.
	RecordDir string
	World     string
	Port      int
	LogFile   string
}

// Watchdog supervises the game server process through its lifecycle:
// offline, starting, online, stopping, crashed. Crashes while online (or
// failures to come up) trigger automatic restarts with exponential
// backoff, up to the configured maximum; a stable period online resets
// the attempt counter.
type Watchdog struct {
	mu     sync.Mutex
	cfg    WatchdogConfig
	bus    *events.EventBus
	logger zerolog.Logger

	pm       *ProcessManager
	state    events.ProcessState
	attempts int
	lastExit int

	// gen invalidates timer and exit callbacks scheduled before a Stop,
	// Detach, or restart superseded them.
	gen uint64

	restartTmr  *time.Timer
	cooldownTmr *time.Timer
	readyTmr    *time.Timer
}

// NewWatchdog creates a watchdog in the offline state. bus may be nil.
func NewWatchdog(cfg WatchdogConfig, bus *events.EventBus) *Watchdog {
	return &Watchdog{
		cfg:      cfg,
		bus:      bus,
		state:    events.ProcessOffline,
		lastExit: -1,
		logger:   log.With().Str("component", "watchdog").Logger(),
	}
}

// Start launches the game server process. It is an error when the server
// is already starting, online, or stopping; starting from the crashed
// state clears the crash and resets the attempt counter.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case events.ProcessOffline:
	case events.ProcessCrashed:
		w.attempts = 0
		w.stopTimersLocked()
	default:
		return fmt.Errorf("server: cannot start while %s", w.state)
	}

	return w.launchLocked(ctx)
}

// launchLocked spawns the process and moves to the starting state. Caller
// holds w.mu.
func (w *Watchdog) launchLocked(ctx context.Context) error {
	gen := w.gen
	pm := NewProcessManager(ProcessConfig{
		Executable: w.cfg.Executable,
		Args:       w.cfg.Args,
		WorkDir:    w.cfg.WorkDir,
		EnvVars:    w.cfg.EnvVars,
		OnExit: func(exitCode int) {
			w.onExit(gen, exitCode)
		},
	})

	w.setStateLocked(events.ProcessStarting)

	if err := pm.Start(ctx); err != nil {
		w.setStateLocked(events.ProcessCrashed)
		return err
	}
	w.pm = pm
	w.lastExit = -1
	w.persistRecordLocked(false)
	w.armReadyTimerLocked()
	return nil
}

// NotifyReady marks the server as online. It is called when the ready
// line appears in the server log and is a no-op outside the starting
// state.
func (w *Watchdog) NotifyReady() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != events.ProcessStarting {
		return
	}
	if w.readyTmr != nil {
		w.readyTmr.Stop()
		w.readyTmr = nil
	}
	w.setStateLocked(events.ProcessOnline)
	w.emit(events.EventServerReady, nil)
	w.armCooldownTimerLocked()
}

// onExit handles process exit from the monitor goroutine.
func (w *Watchdog) onExit(gen uint64, exitCode int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.gen {
		return
	}
	w.handleExitLocked(exitCode)
}

// handleExitLocked runs the crash/stop transition. Caller holds w.mu.
func (w *Watchdog) handleExitLocked(exitCode int) {
	w.lastExit = exitCode
	w.stopTimersLocked()
	w.pm = nil

	if w.state == events.ProcessStopping {
		w.setStateLocked(events.ProcessOffline)
		w.removeRecordLocked()
		return
	}

	w.logger.Warn().
		Int("exit_code", exitCode).
		Int("attempts", w.attempts).
		Msg("game server process exited unexpectedly")
	w.setStateLocked(events.ProcessCrashed)
	w.removeRecordLocked()

	if !w.cfg.Restart.Enabled {
		return
	}
	if w.attempts >= w.cfg.Restart.MaxRestarts {
		w.logger.Error().
			Int("max_restarts", w.cfg.Restart.MaxRestarts).
			Msg("restart limit reached, giving up")
		w.emit(events.EventWatchdogMaxRestarts, events.WatchdogRestartPayload{
			Attempt: w.attempts,
			Max:     w.cfg.Restart.MaxRestarts,
		})
		return
	}

	delay := w.restartDelayLocked()
	w.attempts++
	w.logger.Info().
		Dur("delay", delay).
		Int("attempt", w.attempts).
		Int("max", w.cfg.Restart.MaxRestarts).
		Msg("scheduling restart")
	w.emit(events.EventWatchdogRestart, events.WatchdogRestartPayload{
		Attempt: w.attempts,
		Max:     w.cfg.Restart.MaxRestarts,
	})

	restartGen := w.gen
	w.restartTmr = time.AfterFunc(delay, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if restartGen != w.gen || w.state != events.ProcessCrashed {
			return
		}
		if err := w.launchLocked(context.Background()); err != nil {
			w.logger.Error().Err(err).Msg("restart attempt failed to spawn")
			// Spawn failure counts like a crash, go around again.
			w.handleExitLocked(-1)
		}
	})
}

// restartDelayLocked computes the backoff delay for the current attempt.
func (w *Watchdog) restartDelayLocked() time.Duration {
	base := time.Duration(w.cfg.Restart.RestartDelayMS) * time.Millisecond
	mult := w.cfg.Restart.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(base) * math.Pow(mult, float64(w.attempts)))
	if delay > maxRestartDelay {
		delay = maxRestartDelay
	}
	return delay
}

// armReadyTimerLocked kills the process if it never reports ready.
func (w *Watchdog) armReadyTimerLocked() {
	timeoutMS := w.cfg.Restart.ReadyTimeoutMS
	if timeoutMS <= 0 {
		return
	}
	gen := w.gen
	w.readyTmr = time.AfterFunc(time.Duration(timeoutMS)*time.Millisecond, func() {
		w.mu.Lock()
		if gen != w.gen || w.state != events.ProcessStarting {
			w.mu.Unlock()
			return
		}
		pm := w.pm
		w.mu.Unlock()

		w.logger.Error().
			Int("ready_timeout_ms", timeoutMS).
			Msg("server never reported ready, killing process")
		if pm != nil {
			pm.Kill()
		}
	})
}

// armCooldownTimerLocked resets the attempt counter after a stable period
// online.
func (w *Watchdog) armCooldownTimerLocked() {
	cooldownMS := w.cfg.Restart.CooldownPeriodMS
	if cooldownMS <= 0 {
		w.attempts = 0
		return
	}
	gen := w.gen
	w.cooldownTmr = time.AfterFunc(time.Duration(cooldownMS)*time.Millisecond, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if gen != w.gen || w.state != events.ProcessOnline {
			return
		}
		if w.attempts > 0 {
			w.logger.Info().Msg("server stable, resetting restart attempts")
			w.attempts = 0
		}
	})
}

// Stop gracefully shuts the server down, escalating to a hard kill after
// timeout. Stopping an offline or crashed server only clears state.
func (w *Watchdog) Stop(timeout time.Duration) error {
	w.mu.Lock()
	switch w.state {
	case events.ProcessOffline:
		w.mu.Unlock()
		return nil
	case events.ProcessCrashed:
		w.gen++
		w.stopTimersLocked()
		w.attempts = 0
		w.setStateLocked(events.ProcessOffline)
		w.mu.Unlock()
		return nil
	case events.ProcessStopping:
		w.mu.Unlock()
		return fmt.Errorf("server: stop already in progress")
	}

	w.stopTimersLocked()
	w.setStateLocked(events.ProcessStopping)
	pm := w.pm
	w.mu.Unlock()

	if pm == nil {
		w.mu.Lock()
		w.setStateLocked(events.ProcessOffline)
		w.removeRecordLocked()
		w.mu.Unlock()
		return nil
	}
	// The exit transition to offline happens in onExit.
	return pm.Stop(timeout)
}

// Kill force-terminates the server process without a graceful shutdown.
// The exit is handled as a stop, not a crash.
func (w *Watchdog) Kill() error {
	w.mu.Lock()
	if w.state == events.ProcessOffline || w.state == events.ProcessCrashed {
		w.mu.Unlock()
		return nil
	}
	w.stopTimersLocked()
	w.setStateLocked(events.ProcessStopping)
	pm := w.pm
	w.mu.Unlock()

	if pm == nil {
		w.mu.Lock()
		w.setStateLocked(events.ProcessOffline)
		w.removeRecordLocked()
		w.mu.Unlock()
		return nil
	}
	return pm.Kill()
}

// Detach leaves the game server running but stops supervising it. The
// process record is updated so a later instance can reattach.
func (w *Watchdog) Detach() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != events.ProcessOnline && w.state != events.ProcessStarting {
		return fmt.Errorf("server: nothing to detach while %s", w.state)
	}

	w.gen++
	w.stopTimersLocked()
	w.persistRecordLocked(true)
	if w.pm != nil {
		w.pm.Release()
		w.pm = nil
	}
	w.setStateLocked(events.ProcessOffline)
	w.logger.Info().Msg("detached from game server process")
	return nil
}

// Reattach resumes supervision of a process described by a persisted
// record. The server is assumed online; the cooldown timer is armed so a
// prompt crash still counts restart attempts from zero.
func (w *Watchdog) Reattach(rec ProcessRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != events.ProcessOffline {
		return fmt.Errorf("server: cannot reattach while %s", w.state)
	}

	gen := w.gen
	pm := NewProcessManager(ProcessConfig{
		OnExit: func(exitCode int) {
			w.onExit(gen, exitCode)
		},
	})
	if err := pm.Attach(rec.PID); err != nil {
		return err
	}
	w.pm = pm
	w.lastExit = -1
	w.setStateLocked(events.ProcessOnline)
	w.emit(events.EventServerReady, nil)
	w.persistRecordLocked(false)
	w.armCooldownTimerLocked()
	return nil
}

// State returns the current lifecycle state.
func (w *Watchdog) State() events.ProcessState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Attempts returns the current restart attempt counter.
func (w *Watchdog) Attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts
}

// LastExitCode returns the exit code of the most recent process exit, or
// -1 when the process is running or never ran.
func (w *Watchdog) LastExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastExit
}

// PID returns the supervised process id, or 0 when no process is running.
func (w *Watchdog) PID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pm == nil {
		return 0
	}
	return w.pm.PID()
}

// Uptime returns how long the supervised process has been running.
func (w *Watchdog) Uptime() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pm == nil {
		return 0
	}
	return w.pm.Uptime()
}

// Process returns the underlying process manager, or nil.
func (w *Watchdog) Process() *ProcessManager {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pm
}

func (w *Watchdog) setStateLocked(next events.ProcessState) {
	if w.state == next {
		return
	}
	old := w.state
	w.state = next
	w.logger.Info().
		Stringer("from", old).
		Stringer("to", next).
		Msg("server state changed")
	w.emit(events.EventProcessStateChanged, events.ProcessStateChangedPayload{
		Old: old,
		New: next,
	})
}

func (w *Watchdog) stopTimersLocked() {
	if w.restartTmr != nil {
		w.restartTmr.Stop()
		w.restartTmr = nil
	}
	if w.cooldownTmr != nil {
		w.cooldownTmr.Stop()
		w.cooldownTmr = nil
	}
	if w.readyTmr != nil {
		w.readyTmr.Stop()
		w.readyTmr = nil
	}
}

func (w *Watchdog) persistRecordLocked(detached bool) {
	if w.cfg.RecordDir == "" || w.pm == nil {
		return
	}
	rec := ProcessRecord{
		PID:       w.pm.PID(),
		World:     w.cfg.World,
		Port:      w.cfg.Port,
		StartedAt: w.pm.StartedAt(),
		Detached:  detached,
		LogFile:   w.cfg.LogFile,
	}
	if err := SaveRecord(w.cfg.RecordDir, rec); err != nil {
		w.logger.Warn().Err(err).Msg("failed to persist process record")
	}
}

func (w *Watchdog) removeRecordLocked() {
	if w.cfg.RecordDir == "" {
		return
	}
	if err := RemoveRecord(w.cfg.RecordDir); err != nil {
		w.logger.Warn().Err(err).Msg("failed to remove process record")
	}
}

func (w *Watchdog) emit(eventType events.EventType, payload any) {
	if w.bus == nil {
		return
	}
	w.bus.Emit(events.Event{Type: eventType, Source: "watchdog", Payload: payload})
}
