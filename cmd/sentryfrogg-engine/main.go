// Command sentryfrogg-engine is a minimal stdio host wiring every package
// under internal/ into one tool dispatcher: a direct, illustrative
// implementation of spec §6/§7's "JSON-RPC over stdio" transport. Modeled
// on cmd/appserver/main.go's flag-parse, conditional-wire, signal-driven
// shutdown shape.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentryfrogg/engine/internal/audit"
	"github.com/sentryfrogg/engine/internal/cachestore"
	"github.com/sentryfrogg/engine/internal/dispatcher"
	"github.com/sentryfrogg/engine/internal/httpclient"
	"github.com/sentryfrogg/engine/internal/pgmanager"
	"github.com/sentryfrogg/engine/internal/pipeline"
	"github.com/sentryfrogg/engine/internal/platform/config"
	"github.com/sentryfrogg/engine/internal/platform/logging"
	"github.com/sentryfrogg/engine/internal/profiles"
	"github.com/sentryfrogg/engine/internal/registry"
	"github.com/sentryfrogg/engine/internal/runbook"
	"github.com/sentryfrogg/engine/internal/sshmanager"
	"github.com/sentryfrogg/engine/internal/statestore"
	"github.com/sentryfrogg/engine/internal/vault"
)

func main() {
	maxInflight := flag.Int("max-inflight", 0, "tool invocations started per second, with an equal burst (0 = unlimited, overrides SENTRYFROGG_MAX_INFLIGHT)")
	ringSize := flag.Int("audit-ring-size", 500, "number of recent audit entries kept in memory")
	flag.Parse()

	log := logging.NewFromEnv("sentryfrogg-engine")

	baseDir, err := config.BaseDir()
	if err != nil {
		log.Fatalf("resolve base directory: %v", err)
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		log.Fatalf("create base directory %s: %v", baseDir, err)
	}

	profileStore, err := profiles.Open(baseDir)
	if err != nil {
		log.Fatalf("open profile store: %v", err)
	}

	statePath, err := config.FilePath("SENTRYFROGG_STATE_PATH", "state.json")
	if err != nil {
		log.Fatalf("resolve state path: %v", err)
	}
	state := statestore.New(statePath)

	reg := registry.New(baseDir)

	auditPath, err := config.FilePath("SENTRYFROGG_AUDIT_PATH", "audit.jsonl")
	if err != nil {
		log.Fatalf("resolve audit path: %v", err)
	}
	auditWriter, err := audit.New(auditPath, *ringSize)
	if err != nil {
		log.Fatalf("open audit log %s: %v", auditPath, err)
	}

	cacheDir, err := config.FilePath("SENTRYFROGG_CACHE_DIR", "cache")
	if err != nil {
		log.Fatalf("resolve cache dir: %v", err)
	}
	cache := cachestore.New(cacheDir)

	pg := pgmanager.New(profileStore, log)
	ssh := sshmanager.New(profileStore, log)
	profileStore.OnInvalidate(pg.Invalidate)
	hc := httpclient.New(profileStore, log).WithCache(cache)
	vc := vault.New(profileStore, &http.Client{Timeout: 15 * time.Second})

	pl := pipeline.New(hc, ssh, pg, cache, reg, auditWriter, log)

	d := dispatcher.New(reg, state, auditWriter, log, dispatcherOptions(*maxInflight)...)
	rb := runbook.New(d, state, log)

	registerPostgresTools(d, pg)
	registerSSHTools(d, ssh)
	registerHTTPTools(d, hc)
	registerVaultTools(d, vc)
	registerPipelineTools(d, pl)
	registerRunbookTools(d, rb, reg)
	registerProjectTools(d, reg)
	registerStateTools(d, state)

	log.Infof("sentryfrogg-engine listening on stdio, base_dir=%s", baseDir)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received, draining in-flight requests")
		cancel()
	}()

	if err := serveStdio(ctx, os.Stdin, os.Stdout, d, log); err != nil && ctx.Err() == nil {
		log.Fatalf("stdio transport: %v", err)
	}

	if err := auditWriter.Close(); err != nil {
		log.WithFields(map[string]interface{}{"error": err.Error()}).Error("failed to close audit log")
	}
}

func dispatcherOptions(maxInflight int) []dispatcher.Option {
	if maxInflight <= 0 {
		return nil
	}
	return []dispatcher.Option{dispatcher.WithMaxInflight(maxInflight)}
}
