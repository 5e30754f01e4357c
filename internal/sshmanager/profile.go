package sshmanager

import (
	"context"

	"github.com/sentryfrogg/engine/internal/model"
)

// ProfileUpsert creates or replaces a named ssh profile. data carries
// host/port/username/host_key_policy/...; secrets carries password,
// private_key, passphrase.
func (m *Manager) ProfileUpsert(name string, data map[string]interface{}, secrets map[string]string) (model.Profile, error) {
	return m.profiles.Upsert(name, model.ProfileSSH, data, secrets)
}

func (m *Manager) ProfileGet(name string) (model.Profile, error) {
	prof, _, err := m.profiles.Get(name, model.ProfileSSH)
	return prof, err
}

func (m *Manager) ProfileList() ([]model.ProfileSummary, error) {
	return m.profiles.List(model.ProfileSSH)
}

func (m *Manager) ProfileDelete(name string) error {
	if err := m.profiles.Delete(name); err != nil {
		return err
	}
	m.Invalidate(name)
	return nil
}

// ProfileTest dials (or reuses) the session for the named profile and opens
// a trivial channel to confirm reachability, without running any command.
func (m *Manager) ProfileTest(ctx context.Context, name string) error {
	_, err := m.CheckHost(ctx, name)
	return err
}
