// Package server implements the game server lifecycle: the process
// supervisor (watchdog), OS process control, launch argument construction,
// log event parsing, and the persisted process record used for detach and
// reattach.
package server

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrProcessSpawnFailed wraps any failure to launch the server process.
var ErrProcessSpawnFailed = fmt.Errorf("server: process spawn failed")

// attachedPollInterval is how often a reattached (exec-handle-less) process
// is checked for liveness.
const attachedPollInterval = 2 * time.Second

// ProcessConfig holds configuration for launching the game server process.
type ProcessConfig struct {
	Executable string
	Args       []string
	WorkDir    string
	EnvVars    map[string]string

	// OnExit is invoked once, from the monitor goroutine, when the process
	// exits. The exit code is -1 when it cannot be determined.
	OnExit func(exitCode int)
}

// ProcessManager handles one OS process of the game server. It wraps
// os/exec for spawned processes and gopsutil for processes reattached from
// a persisted record (where no exec handle exists).
type ProcessManager struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	proc   *process.Process
	pid    int
	logger zerolog.Logger

	running   bool
	attached  bool
	startedAt time.Time
	exitCode  int

	cfg ProcessConfig
}

// NewProcessManager creates a process manager for a launch configuration.
func NewProcessManager(cfg ProcessConfig) *ProcessManager {
	return &ProcessManager{
		cfg:      cfg,
		exitCode: -1,
		logger:   log.With().Str("component", "process").Logger(),
	}
}

// Start launches the game server process and begins monitoring it.
func (pm *ProcessManager) Start(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return fmt.Errorf("server: process already running (pid %d)", pm.pid)
	}

	pm.logger.Info().
		Str("executable", pm.cfg.Executable).
		Strs("args", pm.cfg.Args).
		Str("workdir", pm.cfg.WorkDir).
		Msg("starting game server process")

	cmd := exec.Command(pm.cfg.Executable, pm.cfg.Args...)
	cmd.Dir = pm.cfg.WorkDir
	cmd.Env = os.Environ()
	for k, v := range pm.cfg.EnvVars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrProcessSpawnFailed, err)
	}

	pm.cmd = cmd
	pm.pid = cmd.Process.Pid
	pm.running = true
	pm.attached = false
	pm.startedAt = time.Now()
	pm.exitCode = -1

	if proc, err := process.NewProcess(int32(pm.pid)); err == nil {
		pm.proc = proc
	}

	go pm.monitor(cmd)

	pm.logger.Info().Int("pid", pm.pid).Msg("game server process started")
	return nil
}

// Attach binds the manager to an already-running process by pid, as read
// from a persisted process record. There is no exec handle: liveness is
// polled via gopsutil and Stop falls back to signalling by pid.
func (pm *ProcessManager) Attach(pid int) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return fmt.Errorf("server: already supervising pid %d", pm.pid)
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("server: pid %d not found: %w", pid, err)
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		return fmt.Errorf("server: pid %d is not running", pid)
	}

	pm.proc = proc
	pm.pid = pid
	pm.running = true
	pm.attached = true
	pm.exitCode = -1
	if created, err := proc.CreateTime(); err == nil {
		pm.startedAt = time.UnixMilli(created)
	} else {
		pm.startedAt = time.Now()
	}

	go pm.monitorAttached(proc, pid)

	pm.logger.Info().Int("pid", pid).Msg("reattached to game server process")
	return nil
}

// monitor waits on a spawned process and reports its exit.
func (pm *ProcessManager) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()

	pm.mu.Lock()
	pm.running = false
	if cmd.ProcessState != nil {
		pm.exitCode = cmd.ProcessState.ExitCode()
	}
	pid := pm.pid
	exitCode := pm.exitCode
	onExit := pm.cfg.OnExit
	pm.mu.Unlock()

	pm.logger.Info().
		Int("pid", pid).
		Int("exit_code", exitCode).
		AnErr("wait_err", err).
		Msg("game server process exited")

	if onExit != nil {
		onExit(exitCode)
	}
}

// monitorAttached polls a reattached process for liveness.
func (pm *ProcessManager) monitorAttached(proc *process.Process, pid int) {
	ticker := time.NewTicker(attachedPollInterval)
	defer ticker.Stop()

	for range ticker.C {
		pm.mu.Lock()
		isRunning := pm.running && pm.attached && pm.pid == pid
		onExit := pm.cfg.OnExit
		pm.mu.Unlock()

		if !isRunning {
			return
		}

		running, err := proc.IsRunning()
		if err != nil || !running {
			pm.mu.Lock()
			pm.running = false
			pm.exitCode = -1 // exit code unknown for attached processes
			pm.mu.Unlock()

			pm.logger.Info().Int("pid", pid).Msg("reattached game server process exited")
			if onExit != nil {
				onExit(-1)
			}
			return
		}
	}
}

// Stop requests graceful shutdown and escalates to a hard kill when the
// process has not exited within timeout.
func (pm *ProcessManager) Stop(timeout time.Duration) error {
	pm.mu.Lock()
	if !pm.running {
		pm.mu.Unlock()
		return nil
	}
	pid := pm.pid
	cmd := pm.cmd
	proc := pm.proc
	attached := pm.attached
	pm.mu.Unlock()

	pm.logger.Info().Int("pid", pid).Dur("timeout", timeout).Msg("stopping game server process")

	if attached || cmd == nil || cmd.Process == nil {
		return pm.stopAttached(proc, timeout)
	}

	if runtime.GOOS == "windows" {
		// No SIGINT delivery on Windows; a hard kill is the only option.
		return cmd.Process.Kill()
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		pm.logger.Warn().Err(err).Msg("graceful shutdown signal failed, force killing")
		return cmd.Process.Kill()
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !pm.IsRunning() {
				pm.logger.Info().Msg("process stopped gracefully")
				return nil
			}
		case <-deadline:
			pm.logger.Warn().Dur("timeout", timeout).Msg("graceful stop timed out, force killing")
			return cmd.Process.Kill()
		}
	}
}

// stopAttached terminates a process we only hold a pid for.
func (pm *ProcessManager) stopAttached(proc *process.Process, timeout time.Duration) error {
	if proc == nil {
		return nil
	}
	if err := proc.Terminate(); err != nil {
		return proc.Kill()
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if running, err := proc.IsRunning(); err != nil || !running {
				return nil
			}
		case <-deadline:
			return proc.Kill()
		}
	}
}

// Kill immediately terminates the game server process.
func (pm *ProcessManager) Kill() error {
	pm.mu.Lock()
	cmd := pm.cmd
	proc := pm.proc
	running := pm.running
	pid := pm.pid
	pm.mu.Unlock()

	if !running {
		return nil
	}

	pm.logger.Warn().Int("pid", pid).Msg("force killing game server process")

	if cmd != nil && cmd.Process != nil {
		return cmd.Process.Kill()
	}
	if proc != nil {
		return proc.Kill()
	}
	return nil
}

// Release drops the in-process references to the OS process without
// terminating it, for detached ("fire and forget") mode. The monitor
// goroutine notices the cleared state and stops reporting.
func (pm *ProcessManager) Release() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.running = false
	pm.attached = false
	pm.cfg.OnExit = nil
	if pm.cmd != nil && pm.cmd.Process != nil {
		pm.cmd.Process.Release()
	}
	pm.logger.Info().Int("pid", pm.pid).Msg("released game server process (detached)")
}

// IsRunning returns whether the process is currently running.
func (pm *ProcessManager) IsRunning() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.running
}

// PID returns the process ID.
func (pm *ProcessManager) PID() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.pid
}

// StartedAt returns when the process was started.
func (pm *ProcessManager) StartedAt() time.Time {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.startedAt
}

// Uptime returns how long the process has been running.
func (pm *ProcessManager) Uptime() time.Duration {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if !pm.running {
		return 0
	}
	return time.Since(pm.startedAt)
}

// ExitCode returns the exit code of the process (-1 if still running or
// unknown).
func (pm *ProcessManager) ExitCode() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.exitCode
}

// CPUPercent returns the CPU usage percentage of the process.
func (pm *ProcessManager) CPUPercent() (float64, error) {
	pm.mu.Lock()
	proc := pm.proc
	pm.mu.Unlock()

	if proc == nil {
		return 0, fmt.Errorf("server: process not available")
	}
	return proc.CPUPercent()
}

// MemoryMB returns the resident memory usage in megabytes.
func (pm *ProcessManager) MemoryMB() (float64, error) {
	pm.mu.Lock()
	proc := pm.proc
	pm.mu.Unlock()

	if proc == nil {
		return 0, fmt.Errorf("server: process not available")
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(memInfo.RSS) / (1024 * 1024), nil
}
