// Package statestore implements the two addressable state scopes of spec
// §4.9/§4.8 ("state.session.*", "state.persistent.*"): session state lives
// only in process memory, persistent state survives restarts via
// internal/platform/filestore's atomic JSON store.
package statestore

import (
	"sync"
	"time"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/filestore"
)

// Store holds both state scopes behind one key/value API.
type Store struct {
	sessionMu sync.RWMutex
	session   map[string]model.StateEntry

	persistent *filestore.JSONStore[map[string]model.StateEntry]
}

// New binds persistent state to persistentPath ("" keeps it in-memory only,
// useful for tests).
func New(persistentPath string) *Store {
	return &Store{
		session:    map[string]model.StateEntry{},
		persistent: filestore.NewJSONStore[map[string]model.StateEntry](persistentPath),
	}
}

// Get reads one key from the given scope.
func (s *Store) Get(scope model.StateScope, key string) (model.StateEntry, bool, error) {
	switch scope {
	case model.ScopeSession:
		s.sessionMu.RLock()
		defer s.sessionMu.RUnlock()
		entry, ok := s.session[key]
		return entry, ok, nil
	case model.ScopePersistent:
		all, err := s.persistent.Load()
		if err != nil {
			return model.StateEntry{}, false, apperr.Wrap(apperr.Internal, "state_load_failed", "failed to load persistent state", err)
		}
		entry, ok := all[key]
		return entry, ok, nil
	default:
		return model.StateEntry{}, false, apperr.InvalidParam("scope", "must be session or persistent")
	}
}

// Set writes one key in the given scope, overwriting any existing value.
func (s *Store) Set(scope model.StateScope, key string, value interface{}) (model.StateEntry, error) {
	entry := model.StateEntry{Scope: scope, Key: key, Value: value, UpdatedAt: time.Now()}
	switch scope {
	case model.ScopeSession:
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()
		s.session[key] = entry
		return entry, nil
	case model.ScopePersistent:
		_, err := s.persistent.Mutate(func(current map[string]model.StateEntry) (map[string]model.StateEntry, error) {
			if current == nil {
				current = map[string]model.StateEntry{}
			}
			current[key] = entry
			return current, nil
		})
		if err != nil {
			return model.StateEntry{}, apperr.Wrap(apperr.Internal, "state_save_failed", "failed to persist state", err)
		}
		return entry, nil
	default:
		return model.StateEntry{}, apperr.InvalidParam("scope", "must be session or persistent")
	}
}

// Delete removes one key from the given scope. Deleting an absent key is a
// no-op, not an error.
func (s *Store) Delete(scope model.StateScope, key string) error {
	switch scope {
	case model.ScopeSession:
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()
		delete(s.session, key)
		return nil
	case model.ScopePersistent:
		_, err := s.persistent.Mutate(func(current map[string]model.StateEntry) (map[string]model.StateEntry, error) {
			delete(current, key)
			return current, nil
		})
		if err != nil {
			return apperr.Wrap(apperr.Internal, "state_delete_failed", "failed to persist state deletion", err)
		}
		return nil
	default:
		return apperr.InvalidParam("scope", "must be session or persistent")
	}
}

// List returns every entry in the given scope, for runbook scope
// compilation (state.session.* / state.persistent.*).
func (s *Store) List(scope model.StateScope) (map[string]model.StateEntry, error) {
	switch scope {
	case model.ScopeSession:
		s.sessionMu.RLock()
		defer s.sessionMu.RUnlock()
		out := make(map[string]model.StateEntry, len(s.session))
		for k, v := range s.session {
			out[k] = v
		}
		return out, nil
	case model.ScopePersistent:
		all, err := s.persistent.Load()
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "state_load_failed", "failed to load persistent state", err)
		}
		return all, nil
	default:
		return nil, apperr.InvalidParam("scope", "must be session or persistent")
	}
}
