// Package filestore implements the atomic create-temp+fsync+rename write
// pattern mandated for every persistent mutation in spec §5/§9, and a
// generic JSON-backed store built on top of it.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// WriteAtomic writes data to path via a temp sibling file, fsyncs it, and
// renames it into place, with 0600 permissions. The directory is created
// if missing.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o600
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("filestore: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("filestore: chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("filestore: rename into place: %w", err)
	}
	return nil
}

// ReadFile reads path, returning (nil, os.ErrNotExist) when absent.
func ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// JSONStore is a generic mutex-guarded JSON-file-backed map store: reads
// may proceed concurrently among themselves, writers are exclusive, and
// every write is atomic (spec §5 "Shared state").
type JSONStore[T any] struct {
	mu   sync.RWMutex
	path string
}

// NewJSONStore binds a store to a file path. The file is created lazily on
// first write; Load tolerates a missing file by returning the zero value.
func NewJSONStore[T any](path string) *JSONStore[T] {
	return &JSONStore[T]{path: path}
}

// Load reads and decodes the store's current contents into zero, returning
// a fresh zero value of T when the file does not yet exist.
func (s *JSONStore[T]) Load() (T, error) {
	var zero T
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return zero, nil
		}
		return zero, fmt.Errorf("jsonstore: read %s: %w", s.path, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("jsonstore: decode %s: %w", s.path, err)
	}
	return v, nil
}

// Mutate loads the current value, applies fn, and atomically persists the
// result, all under the store's write lock so concurrent mutations never
// interleave.
func (s *JSONStore[T]) Mutate(fn func(current T) (T, error)) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	var current T
	if err != nil {
		if !os.IsNotExist(err) {
			return zero, fmt.Errorf("jsonstore: read %s: %w", s.path, err)
		}
	} else if err := json.Unmarshal(data, &current); err != nil {
		return zero, fmt.Errorf("jsonstore: decode %s: %w", s.path, err)
	}

	next, err := fn(current)
	if err != nil {
		return zero, err
	}

	out, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return zero, fmt.Errorf("jsonstore: encode %s: %w", s.path, err)
	}
	if err := WriteAtomic(s.path, out, 0o600); err != nil {
		return zero, err
	}
	return next, nil
}
