package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists every key in one JSON object on disk. Writes go through
// a temp file and rename so a crash never leaves a half-written document.
//
// Several opsflow processes may share the file. Every operation first
// reloads the document if it changed on disk since this store last saw it,
// so a sign-out in one shell is visible to a running dashboard.
type FileStore struct {
	path   string
	mu     sync.Mutex
	values map[string]string
	seen   fileVersion
	closed bool
}

// fileVersion identifies one revision of the backing file.
type fileVersion struct {
	exists  bool
	modTime time.Time
	size    int64
}

// NewFileStore loads (or creates) the JSON document at path. A corrupt
// document is treated as empty so a bad file never blocks startup.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure dir: %w", err)
	}
	fsStore := &FileStore{path: path, values: map[string]string{}}
	if err := fsStore.reloadLocked(); err != nil {
		return nil, err
	}
	return fsStore, nil
}

func (v fileVersion) same(other fileVersion) bool {
	return v.exists == other.exists && v.size == other.size && v.modTime.Equal(other.modTime)
}

func (f *FileStore) stat() (fileVersion, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileVersion{}, nil
		}
		return fileVersion{}, fmt.Errorf("storage: stat %s: %w", f.path, err)
	}
	return fileVersion{exists: true, modTime: info.ModTime(), size: info.Size()}, nil
}

// syncLocked reloads the document when another writer replaced it.
func (f *FileStore) syncLocked() error {
	current, err := f.stat()
	if err != nil {
		return err
	}
	if current.same(f.seen) {
		return nil
	}
	return f.reloadLocked()
}

func (f *FileStore) reloadLocked() error {
	version, err := f.stat()
	if err != nil {
		return err
	}
	values := map[string]string{}
	if version.exists {
		data, err := os.ReadFile(f.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: read %s: %w", f.path, err)
		}
		if len(data) > 0 {
			var parsed map[string]string
			if err := json.Unmarshal(data, &parsed); err == nil && parsed != nil {
				values = parsed
			}
		}
	}
	f.values = values
	f.seen = version
	return nil
}

// Path returns the file backing this store.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, ErrClosed
	}
	if err := f.syncLocked(); err != nil {
		return "", false, err
	}
	value, ok := f.values[key]
	return value, ok, nil
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := f.syncLocked(); err != nil {
		return err
	}
	prev, had := f.values[key]
	f.values[key] = value
	if err := f.flushLocked(); err != nil {
		if had {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *FileStore) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := f.syncLocked(); err != nil {
		return err
	}
	changed := false
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.flushLocked()
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".storage-*.json")
	if err != nil {
		return fmt.Errorf("storage: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: chmod: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: replace %s: %w", f.path, err)
	}
	if version, err := f.stat(); err == nil {
		f.seen = version
	}
	return nil
}
