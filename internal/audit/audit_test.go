package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/sentryfrogg/engine/internal/model"
)

func TestWriteAppendsToRingAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := New(path, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	w.Write(model.AuditEntry{Tool: "postgres", Action: "query", Status: model.AuditOK, TraceID: "t1", SpanID: "s1"})
	w.Write(model.AuditEntry{Tool: "ssh", Action: "exec", Status: model.AuditError, TraceID: "t1", SpanID: "s2"})

	entries := w.List(0)
	if len(entries) != 2 {
		t.Fatalf("ring has %d entries, want 2", len(entries))
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Fatalf("audit file has %d lines, want 2", lines)
	}
}

func TestWriteRedactsSecretFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := New(path, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	w.Write(model.AuditEntry{Tool: "api", Details: map[string]interface{}{"token": "abc123", "url": "https://example.com"}})

	entries := w.List(0)
	if entries[0].Details["token"] != "***REDACTED***" {
		t.Fatalf("token not redacted: %+v", entries[0].Details)
	}
	if entries[0].Details["url"] != "https://example.com" {
		t.Fatalf("unrelated field changed: %+v", entries[0].Details)
	}
}

func TestListLimitReturnsMostRecent(t *testing.T) {
	w, err := New("", 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		w.Write(model.AuditEntry{Tool: "x", SpanID: string(rune('a' + i))})
	}
	entries := w.List(2)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[1].SpanID != "e" {
		t.Fatalf("last entry SpanID = %q, want e", entries[1].SpanID)
	}
}

func TestRingBoundedAtMax(t *testing.T) {
	w, err := New("", 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		w.Write(model.AuditEntry{Tool: "x"})
	}
	if len(w.List(0)) != 3 {
		t.Fatalf("ring size = %d, want 3", len(w.List(0)))
	}
}
