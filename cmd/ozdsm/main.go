// ozdsm - Land of Oz Dedicated Server Manager
//
// ozdsm supervises a single Valheim dedicated server: it launches and
// watches the process, restarts it on crashes with exponential backoff,
// tails its log output for game events, administers it over RCON, exposes
// a REST API for remote management, and publishes real-time telemetry via
// MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/api"
	"github.com/caleb-collar/land-of-oz-dsm/internal/cli"
	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/db"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
	"github.com/caleb-collar/land-of-oz-dsm/internal/notify"
	"github.com/caleb-collar/land-of-oz-dsm/internal/scheduler"
	"github.com/caleb-collar/land-of-oz-dsm/internal/server"
	"github.com/caleb-collar/land-of-oz-dsm/internal/telemetry"
	"github.com/caleb-collar/land-of-oz-dsm/internal/util"
)

const (
	AppName    = "ozdsm"
	AppVersion = "1.0.0"
	Banner     = `
                    _
   ___  ______  ___| |___ _ __ ___
  / _ \|_  / _ \/ __| / __| '_ ` + "`" + ` _ \
 | (_) |/ / (_| \__ \ \__ \ | | | | |
  \___//___\__,_|___/_|___/_| |_| |_|
                                v%s
 Land of Oz Dedicated Server Manager
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first; reconfigured once the config file is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting ozdsm")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logCfg := util.LogConfig{
		Level:      cfg.ApplicationData.Logging.Level,
		Directory:  cfg.ApplicationData.Logging.Directory,
		MaxSizeMB:  cfg.ApplicationData.Logging.MaxSizeMB,
		MaxBackups: cfg.ApplicationData.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		if cfg.IsFirstRun() {
			log.Info().
				Str("path", cfg.Path()).
				Msg("first run: a default configuration was written; fill in the server paths and passwords, then start ozdsm again")
			os.Exit(0)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// Session and event history. Non-fatal: the manager runs without
	// persistence if the database cannot be opened.
	var history *db.HistoryStore
	var recorder *db.Recorder
	history, err = db.NewHistoryStore(filepath.Join(cfg.Dir(), "history.db"))
	if err != nil {
		log.Warn().Err(err).Msg("failed to open history database, persistence disabled")
		history = nil
	} else {
		recorder = db.NewRecorder(history, eventBus)
	}

	sup := server.NewSupervisor(cfg, eventBus)

	// Pick up a server left running by a previous detach or crash of the
	// manager itself before considering a fresh launch.
	reattached, err := sup.ReattachServer()
	if err != nil {
		log.Warn().Err(err).Msg("failed to reattach to running server")
	}
	if reattached {
		log.Info().Int("pid", sup.Status().PID).Msg("reattached to running game server")
	}

	apiServer := api.NewServer(cfg, sup, history)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.ApplicationData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	if cfg.ApplicationData.Discord.Enabled {
		if _, err := notify.NewDiscordNotifier(cfg, eventBus); err != nil {
			log.Warn().Err(err).Msg("failed to initialize Discord notifications")
		}
	}

	sched := scheduler.NewScheduler(cfg, eventBus, sup)

	cliHandler := cli.NewCLI(cfg, eventBus, sup, history)

	var wg sync.WaitGroup

	// Launch the game server unless we already own a running one.
	if !reattached {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("launching game server")
			if err := sup.StartServer(ctx); err != nil {
				log.Warn().Err(err).Msg("game server failed to launch (use 'start' to retry)")
			}
		}()
	}

	if cfg.ApplicationData.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.ApplicationData.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(events.Event) {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	// Stop (or leave running, if already detached) the supervised server.
	sup.Shutdown(false)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(45 * time.Second):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	if recorder != nil {
		recorder.Detach()
	}
	if history != nil {
		if err := history.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close history database")
		}
	}

	eventBus.Stop()

	log.Info().Msg("ozdsm stopped")
}

// startWithRetry attempts to start a listener with a fixed interval between
// retries, for the case where the previous run's socket has not been
// released yet. Returns nil on success or context cancellation, or the last
// error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := startFn(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		lastErr = err

		if !isBindError(err) {
			return err
		}

		log.Warn().
			Err(err).
			Str("component", name).
			Int("attempt", attempt).
			Int("max", maxRetries).
			Msg("failed to bind, retrying")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(3 * time.Second):
		}
	}
	return lastErr
}

func isBindError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "Only one usage of each socket address")
}
