// ABOUTME: SQLite-backed local state: active session, guest identity, and guest turn mirror.
// ABOUTME: Values are overwritten wholesale under fixed keys, not diffed.

package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Fixed keys in the local kv table.
const (
	keyActiveSession = "active_session"
	keyGuestID       = "guest_id"
)

// Local is the on-disk client state. It survives reloads so the app can
// resume the same thread, and it mirrors guest turn history since the remote
// directory may not retain unauthenticated sessions.
type Local struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenLocal opens (creating if needed) the local state database at path.
// Parent directories are created if needed.
func OpenLocal(path string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session-local")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating local state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening local state database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Local{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Local) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS guest_turns (
		session_id TEXT NOT NULL,
		position   INTEGER NOT NULL,
		turn_json  TEXT NOT NULL,
		PRIMARY KEY (session_id, position)
	);`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("creating local schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *Local) Close() error {
	return l.db.Close()
}

func (l *Local) get(key string) (string, error) {
	var value string
	err := l.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

func (l *Local) set(key, value string) error {
	_, err := l.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// ActiveSession returns the persisted active session ID, or "" if none.
func (l *Local) ActiveSession() (string, error) {
	return l.get(keyActiveSession)
}

// SetActiveSession persists the active session ID so a reload resumes the
// same thread.
func (l *Local) SetActiveSession(id string) error {
	return l.set(keyActiveSession, id)
}

// GuestID returns the persisted guest identity, or "" if none was generated yet.
func (l *Local) GuestID() (string, error) {
	return l.get(keyGuestID)
}

// SetGuestID persists the generated guest identity.
func (l *Local) SetGuestID(id string) error {
	return l.set(keyGuestID, id)
}

// Pref returns a persisted preference value, or "" if never set.
func (l *Local) Pref(key string) (string, error) {
	return l.get("pref_" + key)
}

// SetPref persists a preference value.
func (l *Local) SetPref(key, value string) error {
	return l.set("pref_"+key, value)
}

// ReplaceTurns rewrites the mirrored turn history for a session wholesale.
func (l *Local) ReplaceTurns(sessionID string, turns []*Turn) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("starting mirror transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM guest_turns WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clearing mirrored turns: %w", err)
	}
	for i, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshaling turn: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO guest_turns (session_id, position, turn_json) VALUES (?, ?, ?)",
			sessionID, i, string(data)); err != nil {
			return fmt.Errorf("mirroring turn: %w", err)
		}
	}
	return tx.Commit()
}

// Turns returns the mirrored turn history for a session in insertion order.
func (l *Local) Turns(sessionID string) ([]*Turn, error) {
	rows, err := l.db.Query(
		"SELECT turn_json FROM guest_turns WHERE session_id = ? ORDER BY position", sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading mirrored turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning mirrored turn: %w", err)
		}
		var turn Turn
		if err := json.Unmarshal([]byte(data), &turn); err != nil {
			l.logger.Warn("dropping unreadable mirrored turn", "session_id", sessionID, "error", err)
			continue
		}
		turns = append(turns, &turn)
	}
	return turns, rows.Err()
}

// DeleteTurns removes the mirrored history for a session.
func (l *Local) DeleteTurns(sessionID string) error {
	if _, err := l.db.Exec("DELETE FROM guest_turns WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("deleting mirrored turns: %w", err)
	}
	return nil
}
