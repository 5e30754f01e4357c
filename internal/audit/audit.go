// Package audit implements the append-only audit log of spec §4.9/§7: every
// dispatched tool call and every pipeline stage emits one model.AuditEntry,
// redacted and written as JSONL, plus kept in a bounded in-memory ring that
// Writer.List reads back. Grounded on internal/app/httpapi/audit.go's
// ring-buffer-plus-sink shape, generalized from HTTP-request entries to the
// engine's tool/pipeline-span entries and from a pluggable sink interface to
// a single JSONL file (the engine has no postgres-backed audit requirement).
package audit

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/redaction"
)

// Writer is an append-only JSONL audit sink backed by a bounded in-memory
// ring for recent-entry listing.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	entries []model.AuditEntry
	max     int
}

// New opens (creating if needed) the audit log at path, appending. An empty
// path disables file persistence; entries are still kept in the ring.
func New(path string, ringSize int) (*Writer, error) {
	if ringSize <= 0 {
		ringSize = 500
	}
	w := &Writer{max: ringSize}
	if path == "" {
		return w, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	w.file = f
	return w, nil
}

// Write redacts entry.Details, appends it to the ring, and persists it as
// one JSONL line. Persistence errors are swallowed per the teacher's
// "best-effort, don't impact request flow" sink policy.
func (w *Writer) Write(entry model.AuditEntry) {
	if entry.Details != nil {
		entry.Details = redaction.StringMap(entry.Details)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, entry)
	if len(w.entries) > w.max {
		w.entries = w.entries[len(w.entries)-w.max:]
	}

	if w.file == nil {
		return
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = w.file.Write(append(b, '\n'))
}

// List returns up to limit most-recent entries (all of them if limit<=0 or
// limit exceeds the ring size).
func (w *Writer) List(limit int) []model.AuditEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	all := make([]model.AuditEntry, len(w.entries))
	copy(all, w.entries)
	if limit <= 0 || limit >= len(all) {
		return all
	}
	return all[len(all)-limit:]
}

func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
