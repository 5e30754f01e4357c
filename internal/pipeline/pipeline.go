// Package pipeline implements the Streaming Pipeline Engine of spec §4.7:
// six duplex flows between the HTTP, SFTP, and PostgreSQL managers, every
// one a bounded-memory stream with per-stage audit spans under a shared
// trace_id. Grounded on the io.Pipe producer/consumer idiom used by
// Aureuma-si's agent-to-container exec bridge (agents/codex-monitor/main.go)
// for wiring two independently-driven streams without buffering the whole
// payload, and on internal/app/httpapi/audit.go's ring+sink shape (via
// internal/audit) for the per-stage spans.
package pipeline

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sentryfrogg/engine/internal/audit"
	"github.com/sentryfrogg/engine/internal/cachestore"
	"github.com/sentryfrogg/engine/internal/httpclient"
	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/pgmanager"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/logging"
	"github.com/sentryfrogg/engine/internal/registry"
	"github.com/sentryfrogg/engine/internal/sshmanager"
)

// ProjectStore is the subset of registry.Registry a flow needs for project
// hydration (spec §4.7 "Project hydration").
type ProjectStore interface {
	TargetFor(projectName, targetName string) (model.TargetBinding, error)
}

// Engine wires the three connection managers into the six streaming flows.
type Engine struct {
	http     *httpclient.Client
	ssh      *sshmanager.Manager
	pg       *pgmanager.Manager
	cache    *cachestore.Store
	projects ProjectStore
	audit    *audit.Writer
	log      *logging.Logger
}

func New(httpClient *httpclient.Client, ssh *sshmanager.Manager, pg *pgmanager.Manager, cache *cachestore.Store, projects *registry.Registry, auditWriter *audit.Writer, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{http: httpClient, ssh: ssh, pg: pg, cache: cache, projects: projects, audit: auditWriter, log: log}
}

// hydrate fills any of apiProfile/pgProfile/sshProfile that is non-nil and
// empty from the named project's target, per spec §4.7's "missing
// profile_name ... filled from the active project target" rule. A nil
// projects store or empty projectName is a no-op (the caller supplied
// profile names directly).
func (e *Engine) hydrate(projectName, targetName string, apiProfile, pgProfile, sshProfile *string) error {
	if e.projects == nil || projectName == "" {
		return nil
	}
	t, err := e.projects.TargetFor(projectName, targetName)
	if err != nil {
		return err
	}
	if apiProfile != nil && *apiProfile == "" {
		*apiProfile = t.APIProfile
	}
	if pgProfile != nil && *pgProfile == "" {
		*pgProfile = t.PostgresProfile
	}
	if sshProfile != nil && *sshProfile == "" {
		*sshProfile = t.SSHProfile
	}
	return nil
}

// auditSpan records one stage of a flow under traceID (spec §4.7
// "Auditability"). A nil audit.Writer (e.g. in unit tests) is a silent no-op.
func (e *Engine) auditSpan(ctx context.Context, traceID, action string, details map[string]interface{}, err error, start time.Time) {
	if e.audit == nil {
		return
	}
	status := model.AuditOK
	errMsg := ""
	if err != nil {
		status = model.AuditError
		errMsg = err.Error()
	}
	e.audit.Write(model.AuditEntry{
		Timestamp:    time.Now(),
		Tool:         "pipeline",
		Action:       action,
		Status:       status,
		TraceID:      traceID,
		SpanID:       logging.NewSpanID(),
		ParentSpanID: logging.GetSpanID(ctx),
		DurationMS:   time.Since(start).Milliseconds(),
		Details:      details,
		Error:        errMsg,
	})
}

func traceIDOrNew(id string) string {
	if id != "" {
		return id
	}
	return logging.NewTraceID()
}

// artifactTap wraps r so up to maxBytes (0 = unlimited) of the stream are
// also mirrored to path, without buffering the source in memory (spec §4.7
// "Optional artifact tap mirrors the first N bytes ... into the caller's
// artifact directory"). A write failure on the tap never interrupts the
// primary stream.
func artifactTap(r io.Reader, path string, maxBytes int64) (io.Reader, func(), error) {
	if path == "" {
		return r, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "pipeline_artifact_create_failed", "failed to create artifact file", err)
	}
	var w io.Writer = f
	if maxBytes > 0 {
		w = &limitedWriter{w: f, remaining: maxBytes}
	}
	return io.TeeReader(r, w), func() { f.Close() }, nil
}

// limitedWriter caps how many bytes it forwards to an underlying writer but
// always reports the full length as written, so it can sit behind
// io.TeeReader without ever short-circuiting the stream it's tapping.
type limitedWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.remaining > 0 {
		chunk := p
		if int64(len(chunk)) > l.remaining {
			chunk = chunk[:l.remaining]
		}
		if n, err := l.w.Write(chunk); err == nil {
			l.remaining -= int64(n)
		} else {
			l.remaining = 0
		}
	}
	return len(p), nil
}
