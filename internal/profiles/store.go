// Package profiles implements the Profile Store & Crypto component of
// spec §4.1: an encrypted-at-rest credential store keyed by profile name,
// grounded on infrastructure/secrets/manager.go's AES-256-GCM envelope and
// infrastructure/database/oauth_tokens_encryption.go's key-loading idiom.
package profiles

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/filestore"
)

var (
	ErrCorrupt = errors.New("profiles: ciphertext failed authentication")
)

// onDiskFile is the shape persisted to profiles.json.
type onDiskFile struct {
	Profiles map[string]model.Profile `json:"profiles"`
}

// InvalidateFunc is called whenever a profile is upserted or deleted so
// connection pools keyed on that profile can be evicted (spec §3
// "Ownership").
type InvalidateFunc func(profileName string)

// Store is the process-wide profile store singleton.
type Store struct {
	mu       sync.RWMutex
	file     *filestore.JSONStore[onDiskFile]
	seal     *sealer
	invalidate InvalidateFunc
}

// Open creates a Store rooted at baseDir (profiles.json + key file live
// there), loading or generating the master key as needed.
func Open(baseDir string) (*Store, error) {
	key, err := loadMasterKey(baseDir)
	if err != nil {
		return nil, err
	}
	seal, err := newSealer(key)
	if err != nil {
		return nil, fmt.Errorf("profiles: init cipher: %w", err)
	}
	return &Store{
		file: filestore.NewJSONStore[onDiskFile](baseDir + "/profiles.json"),
		seal: seal,
	}, nil
}

// OnInvalidate registers the callback invoked after set/delete.
func (s *Store) OnInvalidate(fn InvalidateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate = fn
}

// Upsert creates or replaces a profile, sealing each secret value
// independently. data is stored in plaintext; secrets never are.
func (s *Store) Upsert(name string, ptype model.ProfileType, data map[string]interface{}, secrets map[string]string) (model.Profile, error) {
	if name == "" {
		return model.Profile{}, apperr.MissingParam("name")
	}

	sealedSecrets := make(map[string][]byte, len(secrets))
	for k, v := range secrets {
		sealed, err := s.seal.seal(v)
		if err != nil {
			return model.Profile{}, apperr.InternalErr("seal secret", err)
		}
		sealedSecrets[k] = sealed
	}

	now := time.Now().UTC()
	var result model.Profile

	_, err := s.file.Mutate(func(cur onDiskFile) (onDiskFile, error) {
		if cur.Profiles == nil {
			cur.Profiles = map[string]model.Profile{}
		}
		createdAt := now
		if existing, ok := cur.Profiles[name]; ok {
			createdAt = existing.CreatedAt
		}
		p := model.Profile{
			Name:      name,
			Type:      ptype,
			Data:      data,
			Secrets:   sealedSecrets,
			CreatedAt: createdAt,
			UpdatedAt: now,
		}
		cur.Profiles[name] = p
		result = p
		return cur, nil
	})
	if err != nil {
		return model.Profile{}, apperr.InternalErr("persist profile", err)
	}

	s.fireInvalidate(name)
	return result, nil
}

// Get fetches a profile, decrypting its secrets. When expectedType is
// non-empty and does not match, returns ProfileTypeMismatch (InvalidParams
// category since it is a caller usage error, not a missing resource).
func (s *Store) Get(name string, expectedType model.ProfileType) (model.Profile, map[string]string, error) {
	cur, err := s.file.Load()
	if err != nil {
		return model.Profile{}, nil, apperr.InternalErr("load profiles", err)
	}
	p, ok := cur.Profiles[name]
	if !ok {
		return model.Profile{}, nil, apperr.NotFoundErr("profile", name)
	}
	if expectedType != "" && p.Type != expectedType {
		return model.Profile{}, nil, apperr.New(apperr.InvalidParams, "profile_type_mismatch",
			fmt.Sprintf("profile %q is type %q, expected %q", name, p.Type, expectedType))
	}

	plain := make(map[string]string, len(p.Secrets))
	for k, raw := range p.Secrets {
		v, err := s.seal.open(raw)
		if err != nil {
			return model.Profile{}, nil, apperr.Wrap(apperr.Internal, "profile_corrupt", "profile secrets failed to decrypt", err).
				WithDetails("profile", name)
		}
		plain[k] = v
	}
	return p, plain, nil
}

// List returns listing-safe summaries: no plaintext secret values, only key
// names, optionally filtered by type.
func (s *Store) List(ptype model.ProfileType) ([]model.ProfileSummary, error) {
	cur, err := s.file.Load()
	if err != nil {
		return nil, apperr.InternalErr("load profiles", err)
	}
	out := make([]model.ProfileSummary, 0, len(cur.Profiles))
	for _, p := range cur.Profiles {
		if ptype != "" && p.Type != ptype {
			continue
		}
		keys := make([]string, 0, len(p.Secrets))
		for k := range p.Secrets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out = append(out, model.ProfileSummary{
			Name: p.Name, Type: p.Type, SecretKeys: keys,
			CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes a profile by name.
func (s *Store) Delete(name string) error {
	found := false
	_, err := s.file.Mutate(func(cur onDiskFile) (onDiskFile, error) {
		if cur.Profiles == nil {
			return cur, nil
		}
		if _, ok := cur.Profiles[name]; ok {
			delete(cur.Profiles, name)
			found = true
		}
		return cur, nil
	})
	if err != nil {
		return apperr.InternalErr("persist profiles", err)
	}
	if !found {
		return apperr.NotFoundErr("profile", name)
	}
	s.fireInvalidate(name)
	return nil
}

// ExportSecrets returns plaintext secrets for name, only when break-glass
// export is enabled by the caller (spec §4.1 invariant).
func (s *Store) ExportSecrets(name string, allowed bool) (map[string]string, error) {
	if !allowed {
		return nil, apperr.DeniedErr("secret export is disabled; set SENTRYFROGG_ALLOW_SECRET_EXPORT=1")
	}
	_, secrets, err := s.Get(name, "")
	return secrets, err
}

func (s *Store) fireInvalidate(name string) {
	s.mu.RLock()
	fn := s.invalidate
	s.mu.RUnlock()
	if fn != nil {
		fn(name)
	}
}
