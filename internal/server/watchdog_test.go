package server

import (
	"context"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test spawns unix shell commands")
	}
}

func waitForState(t *testing.T, w *Watchdog, want events.ProcessState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.State() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s after %s", w.State(), want, timeout)
}

func TestWatchdogRestartsUntilLimit(t *testing.T) {
	requireUnix(t)

	bus := events.NewEventBus()
	defer bus.Stop()

	restarts := make(chan events.Event, 16)
	maxed := make(chan events.Event, 1)
	bus.Subscribe(events.EventWatchdogRestart, "test", func(e events.Event) {
		restarts <- e
	})
	bus.Subscribe(events.EventWatchdogMaxRestarts, "test", func(e events.Event) {
		maxed <- e
	})

	w := NewWatchdog(WatchdogConfig{
		Executable: "/bin/sh",
		Args:       []string{"-c", "exit 7"},
		Restart: config.RestartData{
			Enabled:           true,
			MaxRestarts:       2,
			RestartDelayMS:    10,
			BackoffMultiplier: 1,
			CooldownPeriodMS:  60000,
		},
		RecordDir: t.TempDir(),
		World:     "Midgard",
		Port:      2456,
	}, bus)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case e := <-maxed:
		payload := e.Payload.(events.WatchdogRestartPayload)
		if payload.Attempt != 2 || payload.Max != 2 {
			t.Errorf("max restarts payload = %+v", payload)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for restart limit")
	}

	if got := len(restarts); got != 2 {
		t.Errorf("restart events = %d, want 2", got)
	}
	if got := w.State(); got != events.ProcessCrashed {
		t.Errorf("state = %s, want %s", got, events.ProcessCrashed)
	}
	if got := w.LastExitCode(); got != 7 {
		t.Errorf("last exit code = %d, want 7", got)
	}
}

func TestWatchdogCrashWithoutRestartPolicy(t *testing.T) {
	requireUnix(t)

	w := NewWatchdog(WatchdogConfig{
		Executable: "/bin/sh",
		Args:       []string{"-c", "exit 1"},
		Restart:    config.RestartData{Enabled: false},
	}, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, w, events.ProcessCrashed, 5*time.Second)
	if got := w.Attempts(); got != 0 {
		t.Errorf("attempts = %d, want 0", got)
	}
}

func TestWatchdogGracefulStop(t *testing.T) {
	requireUnix(t)

	dir := t.TempDir()
	w := NewWatchdog(WatchdogConfig{
		Executable: "/bin/sleep",
		Args:       []string{"300"},
		Restart:    config.RestartData{Enabled: true, MaxRestarts: 3, RestartDelayMS: 10},
		RecordDir:  dir,
		World:      "Midgard",
		Port:       2456,
	}, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := w.State(); got != events.ProcessStarting {
		t.Fatalf("state = %s, want %s", got, events.ProcessStarting)
	}
	if _, ok, _ := LoadRecord(dir); !ok {
		t.Error("expected a process record after start")
	}

	w.NotifyReady()
	if got := w.State(); got != events.ProcessOnline {
		t.Fatalf("state = %s, want %s", got, events.ProcessOnline)
	}

	if err := w.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitForState(t, w, events.ProcessOffline, 5*time.Second)

	if _, ok, _ := LoadRecord(dir); ok {
		t.Error("process record still present after stop")
	}
}

func TestWatchdogCooldownResetsAttempts(t *testing.T) {
	requireUnix(t)

	w := NewWatchdog(WatchdogConfig{
		Executable: "/bin/sleep",
		Args:       []string{"300"},
		Restart: config.RestartData{
			Enabled:           true,
			MaxRestarts:       5,
			RestartDelayMS:    10,
			BackoffMultiplier: 1,
			CooldownPeriodMS:  50,
		},
		RecordDir: t.TempDir(),
		World:     "Midgard",
		Port:      2456,
	}, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.NotifyReady()
	waitForState(t, w, events.ProcessOnline, 2*time.Second)

	// Kill the process from outside so the exit counts as a crash.
	proc, err := os.FindProcess(w.PID())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	waitForState(t, w, events.ProcessStarting, 5*time.Second)
	if got := w.Attempts(); got != 1 {
		t.Fatalf("Attempts after crash = %d, want 1", got)
	}

	w.NotifyReady()
	waitForState(t, w, events.ProcessOnline, 2*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && w.Attempts() != 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if got := w.Attempts(); got != 0 {
		t.Fatalf("Attempts after cooldown = %d, want 0", got)
	}

	if err := w.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitForState(t, w, events.ProcessOffline, 5*time.Second)
}

func TestWatchdogStartWhileRunning(t *testing.T) {
	requireUnix(t)

	w := NewWatchdog(WatchdogConfig{
		Executable: "/bin/sleep",
		Args:       []string{"300"},
	}, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		w.Kill()
		waitForState(t, w, events.ProcessOffline, 5*time.Second)
	}()

	if err := w.Start(context.Background()); err == nil {
		t.Error("second Start should fail while a process is running")
	}
}

func TestWatchdogNotifyReadyOutsideStarting(t *testing.T) {
	w := NewWatchdog(WatchdogConfig{}, nil)
	w.NotifyReady()
	if got := w.State(); got != events.ProcessOffline {
		t.Errorf("state = %s, want %s", got, events.ProcessOffline)
	}
}
