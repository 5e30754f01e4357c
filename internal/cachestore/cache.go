// Package cachestore implements the two-file-per-key response cache of
// spec §6's "Cache file layout": a JSON envelope (`<hash>.json`) alongside
// an optional binary body file (`<hash>.bin`) for file-typed entries, with
// lazy TTL-based purge on read. Grounded on infrastructure/cache/cache.go's
// in-memory TTL cache (DefaultTTL/MaxSize/CleanupInterval shape), retargeted
// from an in-memory map to a persistent two-file layout since cache entries
// must survive process restarts (spec §3 "cached artifacts"). The envelope
// itself reuses model.CacheEntry rather than inventing a parallel shape.
package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/filestore"
)

// Store is a process-wide cache directory, guarded by an internal mutex so
// concurrent readers don't race a writer's create-temp+rename.
type Store struct {
	mu  sync.Mutex
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// KeyFor derives the cache key from (method, url, headers, body)
// stable-stringified then SHA-256'd, per spec §4.6 "Cache".
func KeyFor(method, url string, headers map[string]string, body []byte) string {
	stable := struct {
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers,omitempty"`
		Body    string            `json:"body,omitempty"`
	}{Method: method, URL: url, Headers: headers, Body: string(body)}

	b, _ := json.Marshal(stable)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s *Store) jsonPath(key string) string { return filepath.Join(s.dir, key+".json") }
func (s *Store) binPath(key string) string  { return filepath.Join(s.dir, key+".bin") }

// Get returns the envelope and, for file-typed entries, the binary body.
// A missing or expired entry reports ok=false; expired entries are purged
// as a side effect ("expired entries are purged on read", spec §4.6).
func (s *Store) Get(key string) (model.CacheEntry, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.jsonPath(key))
	if err != nil {
		return model.CacheEntry{}, nil, false
	}
	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return model.CacheEntry{}, nil, false
	}

	if entry.Expired(time.Now()) {
		s.removeLocked(key)
		return model.CacheEntry{}, nil, false
	}

	if entry.Type != model.CacheFile {
		return entry, nil, true
	}
	body, err := os.ReadFile(s.binPath(key))
	if err != nil {
		s.removeLocked(key)
		return model.CacheEntry{}, nil, false
	}
	return entry, body, true
}

// PutJSON stores a JSON-valued entry (spec's "entries store either JSON ...").
func (s *Store) PutJSON(key string, value interface{}, ttl time.Duration, meta map[string]interface{}) error {
	entry := model.CacheEntry{
		Type: model.CacheJSON, CreatedAt: time.Now(), TTLMS: ttl.Milliseconds(),
		Meta: meta, Value: value,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return filestore.WriteAtomic(s.jsonPath(key), raw, 0o600)
}

// PutFile stores a binary body (spec's "... or a binary file").
func (s *Store) PutFile(key string, body []byte, ttl time.Duration, meta map[string]interface{}) error {
	entry := model.CacheEntry{
		Type: model.CacheFile, CreatedAt: time.Now(), TTLMS: ttl.Milliseconds(),
		Meta: meta, FileRef: key + ".bin",
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := filestore.WriteAtomic(s.binPath(key), body, 0o600); err != nil {
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return filestore.WriteAtomic(s.jsonPath(key), raw, 0o600)
}

// Purge removes every entry whose envelope has expired. Callers may invoke
// this periodically; Get() also purges lazily on expired access.
func (s *Store) Purge() (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	now := time.Now()
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		key := de.Name()[:len(de.Name())-len(".json")]
		raw, readErr := os.ReadFile(s.jsonPath(key))
		if readErr != nil {
			continue
		}
		var entry model.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.Expired(now) {
			s.removeLocked(key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) removeLocked(key string) {
	os.Remove(s.jsonPath(key))
	os.Remove(s.binPath(key))
}
