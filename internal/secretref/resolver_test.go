package secretref

import (
	"context"
	"testing"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

type fakeVault struct {
	calls int
	value string
	err   error
}

func (f *fakeVault) ResolveKV2(_ context.Context, profileName, mountPathKey string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.value, nil
}

func TestResolveDeepExpandsEnvRef(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db")
	in := map[string]interface{}{"url": "ref:env:DATABASE_URL", "literal": "unchanged"}

	out, err := ResolveDeep(context.Background(), in, RequestContext{})
	if err != nil {
		t.Fatalf("ResolveDeep: %v", err)
	}
	m := out.(map[string]interface{})
	if m["url"] != "postgres://db" {
		t.Fatalf("url = %v, want postgres://db", m["url"])
	}
	if m["literal"] != "unchanged" {
		t.Fatalf("literal = %v, want unchanged", m["literal"])
	}
}

func TestResolveDeepMissingEnvVarErrors(t *testing.T) {
	in := map[string]interface{}{"url": "ref:env:DOES_NOT_EXIST_XYZ"}
	if _, err := ResolveDeep(context.Background(), in, RequestContext{}); err == nil {
		t.Fatal("expected error for unset environment variable")
	}
}

func TestResolveDeepExpandsVaultRef(t *testing.T) {
	vault := &fakeVault{value: "postgres://db"}
	in := map[string]interface{}{"url": "ref:vault:kv2:secret/myapp/prod#DATABASE_URL"}

	out, err := ResolveDeep(context.Background(), in, RequestContext{Vault: vault, VaultProfileName: "vault1"})
	if err != nil {
		t.Fatalf("ResolveDeep: %v", err)
	}
	m := out.(map[string]interface{})
	if m["url"] != "postgres://db" {
		t.Fatalf("url = %v, want postgres://db", m["url"])
	}
	if vault.calls != 1 {
		t.Fatalf("vault calls = %d, want 1", vault.calls)
	}
}

func TestResolveDeepVaultRefWithoutClientConfiguredErrors(t *testing.T) {
	in := map[string]interface{}{"url": "ref:vault:kv2:secret/myapp/prod#DATABASE_URL"}
	if _, err := ResolveDeep(context.Background(), in, RequestContext{}); err == nil {
		t.Fatal("expected error when no vault client is configured")
	}
}

func TestResolveDeepVaultRefMissingKeySeparatorErrors(t *testing.T) {
	vault := &fakeVault{value: "unused"}
	in := map[string]interface{}{"url": "ref:vault:kv2:secret/myapp/prod"}
	if _, err := ResolveDeep(context.Background(), in, RequestContext{Vault: vault}); err == nil {
		t.Fatal("expected error for vault reference missing #key")
	}
	if vault.calls != 0 {
		t.Fatalf("vault should not be called for a malformed reference, got %d calls", vault.calls)
	}
}

// TestResolveDeepIsIdempotent is the "resolveDeep(resolveDeep(v)) ≡
// resolveDeep(v)" property invariant: resolved values are plain strings
// that no longer match ref:… and pass through unchanged on a second pass.
func TestResolveDeepIsIdempotent(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db")
	in := map[string]interface{}{
		"url":   "ref:env:DATABASE_URL",
		"nested": map[string]interface{}{"list": []interface{}{"ref:env:DATABASE_URL", "plain"}},
	}

	once, err := ResolveDeep(context.Background(), in, RequestContext{})
	if err != nil {
		t.Fatalf("first ResolveDeep: %v", err)
	}
	twice, err := ResolveDeep(context.Background(), once, RequestContext{})
	if err != nil {
		t.Fatalf("second ResolveDeep: %v", err)
	}

	onceMap := once.(map[string]interface{})
	twiceMap := twice.(map[string]interface{})
	if onceMap["url"] != twiceMap["url"] {
		t.Fatalf("url changed across passes: %v -> %v", onceMap["url"], twiceMap["url"])
	}
	onceList := onceMap["nested"].(map[string]interface{})["list"].([]interface{})
	twiceList := twiceMap["nested"].(map[string]interface{})["list"].([]interface{})
	for i := range onceList {
		if onceList[i] != twiceList[i] {
			t.Fatalf("list[%d] changed across passes: %v -> %v", i, onceList[i], twiceList[i])
		}
	}
}

func TestResolveDeepPropagatesToolErrorFromVault(t *testing.T) {
	vault := &fakeVault{err: apperr.New(apperr.Denied, "vault_denied", "permission denied")}
	in := map[string]interface{}{"url": "ref:vault:kv2:secret/myapp/prod#DATABASE_URL"}

	_, err := ResolveDeep(context.Background(), in, RequestContext{Vault: vault})
	if err == nil {
		t.Fatal("expected error")
	}
	te, ok := apperr.As(err)
	if !ok || te.Category != apperr.Denied {
		t.Fatalf("err = %v, want Denied ToolError", err)
	}
}
