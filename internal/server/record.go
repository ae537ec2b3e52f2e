package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// recordFileName is the process record file stored in the config directory.
const recordFileName = "server.pid.json"

// ProcessRecord is the persisted description of a running server process,
// written on start and removed on clean stop. It lets a new supervisor
// instance reattach to (or clean up after) a server left running by a
// previous instance.
type ProcessRecord struct {
	PID       int       `json:"pid"`
	World     string    `json:"world"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	Detached  bool      `json:"detached"`
	LogFile   string    `json:"log_file,omitempty"`
}

// recordPath returns the record file path inside dir.
func recordPath(dir string) string {
	return filepath.Join(dir, recordFileName)
}

// SaveRecord writes the process record to dir.
func SaveRecord(dir string, rec ProcessRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("server: failed to marshal process record: %w", err)
	}
	if err := os.WriteFile(recordPath(dir), data, 0644); err != nil {
		return fmt.Errorf("server: failed to write process record: %w", err)
	}
	return nil
}

// LoadRecord reads the process record from dir. A missing file returns
// ok=false without error.
func LoadRecord(dir string) (ProcessRecord, bool, error) {
	data, err := os.ReadFile(recordPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return ProcessRecord{}, false, nil
		}
		return ProcessRecord{}, false, fmt.Errorf("server: failed to read process record: %w", err)
	}
	var rec ProcessRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ProcessRecord{}, false, fmt.Errorf("server: failed to parse process record: %w", err)
	}
	return rec, true, nil
}

// RemoveRecord deletes the process record from dir. A missing file is not
// an error.
func RemoveRecord(dir string) error {
	err := os.Remove(recordPath(dir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("server: failed to remove process record: %w", err)
	}
	return nil
}

// RecordAlive reports whether the recorded process is still running. A
// stale record (pid reused by an unrelated process started after the
// record) is treated as dead.
func RecordAlive(rec ProcessRecord) bool {
	proc, err := process.NewProcess(int32(rec.PID))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		return false
	}
	if created, err := proc.CreateTime(); err == nil {
		// Allow a little clock slack between record write and spawn.
		if time.UnixMilli(created).After(rec.StartedAt.Add(time.Minute)) {
			return false
		}
	}
	return true
}
