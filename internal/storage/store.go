// Package storage provides the per-profile key-value store the client keeps
// its session flags in. It plays the role a browser's localStorage plays for
// the web dashboard: string keys, string values, no expiry.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DriverFile stores values in a single JSON document.
	DriverFile = "file"
	// DriverSQLite stores values in a SQLite table.
	DriverSQLite = "sqlite"
	// DriverMemory keeps values in process memory only.
	DriverMemory = "memory"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("storage: store closed")

// Store is a flat string key-value store.
//
// Get reports ok=false for missing keys. Delete ignores keys that do not exist.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(keys ...string) error
	Close() error
}

// Open constructs the store selected by driver inside dir.
func Open(driver, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFile:
		return NewFileStore(filepath.Join(dir, "storage.json"))
	case DriverSQLite:
		return NewSQLiteStore(filepath.Join(dir, "storage.db"))
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
