package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentryfrogg/engine/internal/model"
)

type fakeProfileStore struct {
	profiles map[string]model.Profile
	secrets  map[string]map[string]string
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: map[string]model.Profile{}, secrets: map[string]map[string]string{}}
}

func (f *fakeProfileStore) Get(name string, _ model.ProfileType) (model.Profile, map[string]string, error) {
	p, ok := f.profiles[name]
	if !ok {
		return model.Profile{}, nil, context.DeadlineExceeded
	}
	return p, f.secrets[name], nil
}

func (f *fakeProfileStore) Upsert(name string, ptype model.ProfileType, data map[string]interface{}, secrets map[string]string) (model.Profile, error) {
	p := model.Profile{Name: name, Type: ptype, Data: data}
	f.profiles[name] = p
	cp := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cp[k] = v
	}
	f.secrets[name] = cp
	return p, nil
}

// TestKV2GetAppRoleAutoLogin is spec §8 scenario 1: no token yet, so the
// client logs in via AppRole before the first read, then makes exactly one
// read call, in that order, and persists the new token into the profile.
func TestKV2GetAppRoleAutoLogin(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/approle/login":
			calls = append(calls, "login")
			var body struct {
				RoleID   string `json:"role_id"`
				SecretID string `json:"secret_id"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.RoleID != "role-1" || body.SecretID != "secret-1" {
				t.Fatalf("unexpected approle payload: %+v", body)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"auth": map[string]interface{}{"client_token": "token123"},
			})
		case "/v1/secret/data/myapp/prod":
			calls = append(calls, "read")
			if r.Header.Get("X-Vault-Token") != "token123" {
				t.Fatalf("read call missing freshly-minted token, got %q", r.Header.Get("X-Vault-Token"))
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"data": map[string]interface{}{"DATABASE_URL": "postgres://db"},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	store := newFakeProfileStore()
	store.Upsert("vault1", model.ProfileVault, map[string]interface{}{"addr": srv.URL},
		map[string]string{"role_id": "role-1", "secret_id": "secret-1"})

	c := New(store, srv.Client())
	val, err := c.ResolveKV2(context.Background(), "vault1", "secret/myapp/prod#DATABASE_URL")
	if err != nil {
		t.Fatalf("ResolveKV2: %v", err)
	}
	if val != "postgres://db" {
		t.Fatalf("value = %q, want %q", val, "postgres://db")
	}
	if len(calls) != 2 || calls[0] != "login" || calls[1] != "read" {
		t.Fatalf("calls = %v, want [login read]", calls)
	}
	if _, secrets, _ := store.Get("vault1", model.ProfileVault); secrets["token"] != "token123" {
		t.Fatalf("profile token not persisted, got %q", secrets["token"])
	}
}

// TestKV2GetRetriesOnAuthFailure is spec §8 scenario 2: a stale token gets a
// 403, triggering AppRole login and a single retried read. Exactly 3 HTTP
// calls in order: read(bad), login, read(good).
func TestKV2GetRetriesOnAuthFailure(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/secret/data/myapp/prod":
			calls = append(calls, "read")
			if r.Header.Get("X-Vault-Token") == "badtoken" {
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{"permission denied"}})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"data": map[string]interface{}{"DATABASE_URL": "postgres://db"},
				},
			})
		case "/v1/auth/approle/login":
			calls = append(calls, "login")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"auth": map[string]interface{}{"client_token": "token123"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	store := newFakeProfileStore()
	store.Upsert("vault1", model.ProfileVault, map[string]interface{}{"addr": srv.URL},
		map[string]string{"token": "badtoken", "role_id": "role-1", "secret_id": "secret-1"})

	c := New(store, srv.Client())
	data, err := c.KV2Get(context.Background(), "vault1", "secret/myapp/prod", nil, Options{})
	if err != nil {
		t.Fatalf("KV2Get: %v", err)
	}
	if data["DATABASE_URL"] != "postgres://db" {
		t.Fatalf("data = %v", data)
	}
	want := []string{"read", "login", "read"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestResolveKV2RejectsMissingKeySeparator(t *testing.T) {
	c := New(newFakeProfileStore(), nil)
	if _, err := c.ResolveKV2(context.Background(), "vault1", "secret/myapp/prod"); err == nil {
		t.Fatal("expected error for reference missing #key")
	}
}

func TestSplitMount(t *testing.T) {
	cases := []struct {
		in, wantMount, wantPath string
	}{
		{"secret/myapp/prod", "secret", "myapp/prod"},
		{"secret", "secret", ""},
	}
	for _, tc := range cases {
		mount, path := splitMount(tc.in)
		if mount != tc.wantMount || path != tc.wantPath {
			t.Fatalf("splitMount(%q) = (%q, %q), want (%q, %q)", tc.in, mount, path, tc.wantMount, tc.wantPath)
		}
	}
}
