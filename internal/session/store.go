// Package session persists the little cross-turn memory the router accepts
// from its caller: the last selection and remembered preferences, keyed by
// session id. The router itself never touches durable storage.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/defipilot/defipilot/internal/router"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Memory is everything remembered across turns for one session.
type Memory struct {
	LastSelection *router.Selection   `json:"lastSelection,omitempty"`
	Prefs         *router.Preferences `json:"userPrefs,omitempty"`
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS sessions (id TEXT PRIMARY KEY, memory BLOB NOT NULL, updated_at INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init session schema: %w", err)
		}
	}

	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the remembered memory for a session; the second return
// reports whether any was stored.
func (s *Store) Load(sessionID string) (Memory, bool, error) {
	var blob []byte
	err := s.db.QueryRow("SELECT memory FROM sessions WHERE id = ?", sessionID).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Memory{}, false, nil
		}
		return Memory{}, false, fmt.Errorf("session read: %w", err)
	}
	var mem Memory
	if err := json.Unmarshal(blob, &mem); err != nil {
		return Memory{}, false, fmt.Errorf("decode session memory: %w", err)
	}
	return mem, true, nil
}

func (s *Store) Save(sessionID string, mem Memory) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock session store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock session store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	blob, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode session memory: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, memory, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			memory=excluded.memory,
			updated_at=excluded.updated_at
	`, sessionID, blob, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("session write: %w", err)
	}
	return nil
}

func (s *Store) Delete(sessionID string) error {
	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}
