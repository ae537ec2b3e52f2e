// Package scheduler runs the manager's periodic background tasks: forced
// world saves over RCON and cleanup of old game log files.
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
	"github.com/caleb-collar/land-of-oz-dsm/internal/server"
)

// logRetention is how long rotated game log files are kept.
const logRetention = 7 * 24 * time.Hour

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg        *config.Config
	eventBus   *events.EventBus
	supervisor *server.Supervisor
}

// NewScheduler creates a task scheduler.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, supervisor *server.Supervisor) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		eventBus:   eventBus,
		supervisor: supervisor,
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	sched := s.cfg.GetApplicationData().Scheduler
	if sched.WorldSaveIntervalSec > 0 {
		go s.runWorldSaveLoop(ctx, time.Duration(sched.WorldSaveIntervalSec)*time.Second)
	}
	if sched.LogCleanupEnabled {
		go s.runLogCleanupLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runWorldSaveLoop forces a world save over RCON at the configured
// interval, as insurance against crashes between the server's own saves.
func (s *Scheduler) runWorldSaveLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.forceWorldSave()
		}
	}
}

func (s *Scheduler) forceWorldSave() {
	rc := s.supervisor.Rcon()
	if !rc.IsConnected() {
		return
	}
	if err := rc.Save(); err != nil {
		log.Warn().Err(err).Msg("scheduled world save failed")
		return
	}
	log.Debug().Msg("scheduled world save issued")
}

// runLogCleanupLoop removes old game log files once a day.
func (s *Scheduler) runLogCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	// One pass shortly after startup, then daily.
	s.cleanupLogs()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupLogs()
		}
	}
}

// cleanupLogs deletes rotated log files older than the retention window
// from the game log directory. The live log file is never touched.
func (s *Scheduler) cleanupLogs() {
	sd := s.cfg.GetServerData()
	if sd.LogFile == "" {
		return
	}
	logDir := filepath.Dir(sd.LogFile)
	liveName := filepath.Base(sd.LogFile)

	var (
		deletedCount int
		deletedSize  int64
	)
	entries, err := os.ReadDir(logDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", logDir).Msg("log cleanup failed to read directory")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == liveName {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".log" && ext != ".old" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= logRetention {
			continue
		}
		path := filepath.Join(logDir, entry.Name())
		if err := os.Remove(path); err == nil {
			deletedCount++
			deletedSize += info.Size()
			log.Debug().Str("file", entry.Name()).Msg("deleted old log file")
		}
	}

	if deletedCount > 0 {
		log.Info().
			Int("deleted_files", deletedCount).
			Int64("freed_bytes", deletedSize).
			Msg("log cleanup completed")
	}
}
