package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sentryfrogg/engine/internal/model"
)

type fakeProjectStore struct {
	targets map[string]model.TargetBinding
	err     error
}

func (f *fakeProjectStore) TargetFor(projectName, targetName string) (model.TargetBinding, error) {
	if f.err != nil {
		return model.TargetBinding{}, f.err
	}
	return f.targets[targetName], nil
}

func TestHydrateFillsOnlyEmptyProfiles(t *testing.T) {
	e := &Engine{projects: &fakeProjectStore{targets: map[string]model.TargetBinding{
		"": {APIProfile: "api1", PostgresProfile: "pg1", SSHProfile: "ssh1"},
	}}}

	api, pg, ssh := "", "explicit-pg", ""
	if err := e.hydrate("proj", "", &api, &pg, &ssh); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if api != "api1" || pg != "explicit-pg" || ssh != "ssh1" {
		t.Fatalf("unexpected hydration: api=%q pg=%q ssh=%q", api, pg, ssh)
	}
}

func TestHydrateNoopWithoutProjectName(t *testing.T) {
	e := &Engine{projects: &fakeProjectStore{}}
	api := ""
	if err := e.hydrate("", "", &api, nil, nil); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if api != "" {
		t.Fatalf("expected no fill, got %q", api)
	}
}

func TestHydratePropagatesProjectStoreError(t *testing.T) {
	e := &Engine{projects: &fakeProjectStore{err: errors.New("no such project")}}
	api := ""
	if err := e.hydrate("missing", "", &api, nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestTraceIDOrNewGeneratesWhenEmpty(t *testing.T) {
	if traceIDOrNew("given") != "given" {
		t.Fatal("expected passthrough of a supplied trace id")
	}
	if traceIDOrNew("") == "" {
		t.Fatal("expected a generated trace id")
	}
}

func TestArtifactTapMirrorsBoundedBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	source := strings.NewReader("0123456789")

	tapped, closeTap, err := artifactTap(source, path, 4)
	if err != nil {
		t.Fatalf("artifactTap: %v", err)
	}
	data, err := io.ReadAll(tapped)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	closeTap()
	if string(data) != "0123456789" {
		t.Fatalf("primary stream corrupted: %q", data)
	}

	mirrored, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(mirrored) != "0123" {
		t.Fatalf("artifact = %q, want first 4 bytes", mirrored)
	}
}

func TestArtifactTapNoopWithoutPath(t *testing.T) {
	source := strings.NewReader("hello")
	tapped, closeTap, err := artifactTap(source, "", 0)
	if err != nil {
		t.Fatalf("artifactTap: %v", err)
	}
	defer closeTap()
	if tapped != source {
		t.Fatal("expected passthrough reader when path is empty")
	}
}

func TestLimitedWriterNeverReportsShortWrite(t *testing.T) {
	lw := &limitedWriter{w: io.Discard, remaining: 2}
	n, err := lw.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = (%d, %v), want (6, nil)", n, err)
	}
	if lw.remaining != 0 {
		t.Fatalf("remaining = %d, want 0", lw.remaining)
	}
}

func TestAuditSpanNilWriterIsNoop(t *testing.T) {
	e := &Engine{}
	e.auditSpan(context.Background(), "trace", "action", nil, nil, time.Now())
}
