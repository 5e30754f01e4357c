package pgmanager

import (
	"context"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// ProfileUpsert creates or replaces a named postgresql profile. data carries
// host/port/database/user/sslmode; secrets carries password (if any).
func (m *Manager) ProfileUpsert(name string, data map[string]interface{}, secrets map[string]string) (model.Profile, error) {
	return m.profiles.Upsert(name, model.ProfilePostgres, data, secrets)
}

func (m *Manager) ProfileGet(name string) (model.Profile, error) {
	prof, _, err := m.profiles.Get(name, model.ProfilePostgres)
	return prof, err
}

func (m *Manager) ProfileList() ([]model.ProfileSummary, error) {
	return m.profiles.List(model.ProfilePostgres)
}

func (m *Manager) ProfileDelete(name string) error {
	if err := m.profiles.Delete(name); err != nil {
		return err
	}
	m.Invalidate(name)
	return nil
}

// ProfileTest dials (or reuses) the pool for the named profile and runs a
// trivial round trip, reporting reachability without mutating any state.
func (m *Manager) ProfileTest(ctx context.Context, name string) error {
	db, key, err := m.pool(ctx, ConnSpec{ProfileName: name})
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		m.evict(key)
		return apperr.Wrap(apperr.Retryable, "pg_test_failed", "connection test failed", err)
	}
	return nil
}
