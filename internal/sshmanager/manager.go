// Package sshmanager implements the SSH/SFTP Manager of spec §4.5: a
// single-flight-dialed, per-session-serialized SSH client pool with host-key
// policy enforcement, command execution, and SFTP transfer.
package sshmanager

import (
	"context"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/logging"
)

// ProfileStore is the subset of profiles.Store the manager needs.
type ProfileStore interface {
	Get(name string, expectedType model.ProfileType) (model.Profile, map[string]string, error)
	Upsert(name string, ptype model.ProfileType, data map[string]interface{}, secrets map[string]string) (model.Profile, error)
	List(ptype model.ProfileType) ([]model.ProfileSummary, error)
	Delete(name string) error
}

// session is one pooled SSH connection, guarded by busy for the duration of
// whatever operation currently holds it (spec §9 "single-flight dial + per-
// session busy lock").
type session struct {
	ready  chan struct{}
	client *ssh.Client
	err    error
	busy   sync.Mutex
}

// Manager owns the process-wide session map.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	profiles ProfileStore
	log      *logging.Logger
}

func New(profiles ProfileStore, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{sessions: map[string]*session{}, profiles: profiles, log: log}
}

// Invalidate closes and evicts the pooled session for a profile (spec §9
// "Pool-per-key lifecycle"). ProfileDelete and connection-closed errors call
// it; it is not registered with ProfileStore.OnInvalidate, so an upsert of
// an ssh profile leaves an already-open session in place.
func (m *Manager) Invalidate(profileName string) {
	m.mu.Lock()
	s, ok := m.sessions[profileName]
	if ok {
		delete(m.sessions, profileName)
	}
	m.mu.Unlock()
	if ok {
		go func() {
			<-s.ready
			if s.client != nil {
				s.client.Close()
			}
		}()
	}
}

// getOrDial returns the session for profileName, starting exactly one dial
// if none is in flight; concurrent callers for the same key await the same
// dial future rather than racing to start their own.
func (m *Manager) getOrDial(ctx context.Context, profileName string) *session {
	m.mu.Lock()
	if s, ok := m.sessions[profileName]; ok {
		m.mu.Unlock()
		return s
	}
	s := &session{ready: make(chan struct{})}
	m.sessions[profileName] = s
	m.mu.Unlock()

	go func() {
		client, err := m.dial(ctx, profileName)
		s.client, s.err = client, err
		close(s.ready)
	}()
	return s
}

// withClient awaits (or starts) the dial for profileName, then runs fn
// while holding the session's busy lock so concurrent exec/SFTP calls on
// one profile queue instead of multiplexing a single ssh.Client unsafely.
func (m *Manager) withClient(ctx context.Context, profileName string, fn func(*ssh.Client) error) error {
	s := m.getOrDial(ctx, profileName)

	select {
	case <-s.ready:
	case <-ctx.Done():
		return apperr.TimeoutErr("ssh dial")
	}

	if s.err != nil {
		m.mu.Lock()
		if cur, ok := m.sessions[profileName]; ok && cur == s {
			delete(m.sessions, profileName)
		}
		m.mu.Unlock()
		return s.err
	}

	s.busy.Lock()
	defer s.busy.Unlock()
	if err := fn(s.client); err != nil {
		if isConnClosedErr(err) {
			m.Invalidate(profileName)
		}
		return err
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, profileName string) (*ssh.Client, error) {
	prof, secrets, err := m.profiles.Get(profileName, model.ProfileSSH)
	if err != nil {
		return nil, err
	}

	dc, err := dialConfigFromProfile(prof.Data, secrets)
	if err != nil {
		return nil, err
	}

	onTofu := func(fingerprint string) error {
		if prof.Data == nil {
			prof.Data = map[string]interface{}{}
		}
		next := cloneMap(prof.Data)
		next["host_key_fingerprint_sha256"] = fingerprint
		_, upsertErr := m.profiles.Upsert(profileName, model.ProfileSSH, next, secrets)
		return upsertErr
	}

	clientConfig, err := buildClientConfig(dc, onTofu)
	if err != nil {
		return nil, err
	}

	addr := dialAddr(dc)
	client, err := dialWithContext(ctx, addr, clientConfig)
	if err != nil {
		return nil, apperr.Wrap(apperr.Retryable, "ssh_dial_failed", "failed to establish ssh connection", err)
	}
	return client, nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func isConnClosedErr(err error) bool {
	return err != nil && (err.Error() == "EOF" || err.Error() == "ssh: session closed")
}
