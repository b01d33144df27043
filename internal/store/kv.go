package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// KeyValueStore is the durable byte store behind the local tender cache.
type KeyValueStore interface {
	// Get returns ok=false when key has never been set.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// SQLiteKV is a KeyValueStore in a single SQLite table. Values survive
// process restarts.
type SQLiteKV struct {
	db *sql.DB
}

var _ KeyValueStore = (*SQLiteKV)(nil)

// NewSQLiteKV opens (creating if needed) the SQLite database at dsn in WAL
// mode and ensures the kv_store table exists.
func NewSQLiteKV(ctx context.Context, dsn string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		`CREATE TABLE IF NOT EXISTS kv_store (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", stmt)
		}
	}
	return &SQLiteKV{db: db}, nil
}

// Get implements KeyValueStore.
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get %s", key)
	}
	return value, true, nil
}

// Set implements KeyValueStore.
func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set %s", key)
}

// Close closes the database.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

// MemoryKV is an in-process KeyValueStore.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ KeyValueStore = (*MemoryKV)(nil)

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get implements KeyValueStore.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements KeyValueStore.
func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}
