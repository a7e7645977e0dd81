// Package kv provides the typed key/value store contract assumed by the
// rest of the system (settings, provisioning identity) along with a default
// sqlite-backed implementation and an in-memory one for tests.
package kv

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
)

// Store is the narrow KV contract every higher-level component depends on.
type Store interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace, key string) error
}

// SQLiteStore is the default Store backed by a single sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates/opens a sqlite-backed store at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, doorbellerr.New(doorbellerr.Internal, "kv", "Open", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, doorbellerr.New(doorbellerr.Internal, "kv", "Open", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, doorbellerr.New(doorbellerr.Internal, "kv", "Get", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`, namespace, key, value)
	if err != nil {
		return doorbellerr.New(doorbellerr.Internal, "kv", "Set", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return doorbellerr.New(doorbellerr.Internal, "kv", "Delete", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// MemStore is an in-memory Store for tests and for components that don't
// need durability.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string]string)}
}

func (m *MemStore) Get(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.data[namespace]
	if !ok {
		return "", false, nil
	}
	v, ok := ns[key]
	return v, ok, nil
}

func (m *MemStore) Set(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[namespace] == nil {
		m.data[namespace] = make(map[string]string)
	}
	m.data[namespace][key] = value
	return nil
}

func (m *MemStore) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemStore)(nil)
