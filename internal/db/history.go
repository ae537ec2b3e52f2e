package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// HistoryStore records what happened on the server: who played when, when
// worlds were saved, and every lifecycle transition the watchdog went
// through.
type HistoryStore struct {
	db *Database
}

// PlayerSession is one player's visit, open while left_at is null.
type PlayerSession struct {
	ID            int64      `json:"id"`
	SteamID       string     `json:"steam_id"`
	CharacterName string     `json:"character_name"`
	JoinedAt      time.Time  `json:"joined_at"`
	LeftAt        *time.Time `json:"left_at,omitempty"`
}

// ServerEvent is one recorded lifecycle or game event.
type ServerEvent struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Event kinds stored in the server_events table.
const (
	EventKindStateChange = "state_change"
	EventKindRestart     = "restart"
	EventKindWorldSave   = "world_save"
	EventKindRandomEvent = "random_event"
)

// NewHistoryStore opens the history database and migrates its schema.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &HistoryStore{db: database}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return store, nil
}

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

func (s *HistoryStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS player_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			steam_id TEXT NOT NULL DEFAULT '',
			character_name TEXT NOT NULL,
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			left_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS server_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_steam_id ON player_sessions(steam_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_open ON player_sessions(left_at);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON server_events(kind);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("history schema migrated")
	return nil
}

// OpenSession records a player joining and returns the session id.
func (s *HistoryStore) OpenSession(steamID, characterName string) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO player_sessions (steam_id, character_name) VALUES (?, ?)",
		steamID, characterName)
	if err != nil {
		return 0, fmt.Errorf("failed to open session: %w", err)
	}
	return res.LastInsertId()
}

// CloseSession marks the newest open session for a SteamID as ended.
func (s *HistoryStore) CloseSession(steamID string) error {
	_, err := s.db.Exec(`
		UPDATE player_sessions SET left_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM player_sessions
			WHERE steam_id = ? AND left_at IS NULL
			ORDER BY joined_at DESC LIMIT 1
		)`, steamID)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// CloseAllSessions ends every open session, used when the server stops or
// crashes and no individual disconnects will arrive.
func (s *HistoryStore) CloseAllSessions() error {
	_, err := s.db.Exec(
		"UPDATE player_sessions SET left_at = CURRENT_TIMESTAMP WHERE left_at IS NULL")
	if err != nil {
		return fmt.Errorf("failed to close open sessions: %w", err)
	}
	return nil
}

// RecordEvent appends one server event.
func (s *HistoryStore) RecordEvent(kind, detail string) error {
	_, err := s.db.Exec(
		"INSERT INTO server_events (kind, detail) VALUES (?, ?)", kind, detail)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecentSessions returns the newest sessions, most recent first.
func (s *HistoryStore) RecentSessions(limit int) ([]PlayerSession, error) {
	rows, err := s.db.Query(`
		SELECT id, steam_id, character_name, joined_at, left_at
		FROM player_sessions ORDER BY joined_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]PlayerSession, 0, limit)
	for rows.Next() {
		var (
			sess   PlayerSession
			leftAt sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &sess.SteamID, &sess.CharacterName, &sess.JoinedAt, &leftAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if leftAt.Valid {
			t := leftAt.Time
			sess.LeftAt = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RecentEvents returns the newest server events, most recent first. An
// empty kind returns all kinds.
func (s *HistoryStore) RecentEvents(kind string, limit int) ([]ServerEvent, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.db.Query(`
			SELECT id, kind, detail, created_at
			FROM server_events ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, kind, detail, created_at
			FROM server_events WHERE kind = ? ORDER BY id DESC LIMIT ?`, kind, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := make([]ServerEvent, 0, limit)
	for rows.Next() {
		var ev ServerEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
