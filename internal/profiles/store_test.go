package profiles

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/sentryfrogg/engine/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", "")
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

// TestUpsertThenGetRoundTrips is the "set(p); get(p.name) ≡ p" property
// invariant: data and secrets survive a seal/unseal round trip unchanged.
func TestUpsertThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)

	data := map[string]interface{}{"addr": "https://vault.example"}
	secrets := map[string]string{"token": "s.abc123", "role_id": "role-1"}

	if _, err := s.Upsert("vault1", model.ProfileVault, data, secrets); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, gotSecrets, err := s.Get("vault1", model.ProfileVault)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "vault1" || got.Type != model.ProfileVault {
		t.Fatalf("profile = %+v, want name=vault1 type=vault", got)
	}
	if got.Data["addr"] != "https://vault.example" {
		t.Fatalf("data = %v", got.Data)
	}
	if gotSecrets["token"] != "s.abc123" || gotSecrets["role_id"] != "role-1" {
		t.Fatalf("secrets = %v, want round-tripped plaintext", gotSecrets)
	}
}

func TestGetRejectsTypeMismatch(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Upsert("vault1", model.ProfileVault, nil, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, _, err := s.Get("vault1", model.ProfileSSH); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestGetUnknownProfileNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.Get("missing", ""); err == nil {
		t.Fatal("expected not-found error for unknown profile")
	}
}

// TestListNeverReturnsPlaintext is the "list() never returns plaintext
// secrets" property invariant: only secret key names are exposed.
func TestListNeverReturnsPlaintext(t *testing.T) {
	s := openTestStore(t)
	secrets := map[string]string{"token": "super-secret-value", "role_id": "role-1"}
	if _, err := s.Upsert("vault1", model.ProfileVault, nil, secrets); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	summaries, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %v, want 1 entry", summaries)
	}
	sum := summaries[0]
	if sum.Name != "vault1" {
		t.Fatalf("summary name = %q", sum.Name)
	}
	wantKeys := map[string]bool{"token": true, "role_id": true}
	if len(sum.SecretKeys) != len(wantKeys) {
		t.Fatalf("secret keys = %v, want %v", sum.SecretKeys, wantKeys)
	}
	for _, k := range sum.SecretKeys {
		if !wantKeys[k] {
			t.Fatalf("unexpected secret key %q in summary", k)
		}
		if k == "super-secret-value" {
			t.Fatal("list leaked a plaintext secret value as a key")
		}
	}
}

func TestExportSecretsRequiresOptIn(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Upsert("vault1", model.ProfileVault, nil, map[string]string{"token": "x"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.ExportSecrets("vault1", false); err == nil {
		t.Fatal("expected export to be denied without opt-in")
	}
	secrets, err := s.ExportSecrets("vault1", true)
	if err != nil {
		t.Fatalf("ExportSecrets: %v", err)
	}
	if secrets["token"] != "x" {
		t.Fatalf("secrets = %v", secrets)
	}
}

func TestDeleteRemovesProfile(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Upsert("vault1", model.ProfileVault, nil, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete("vault1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Get("vault1", ""); err == nil {
		t.Fatal("expected profile to be gone after delete")
	}
	if err := s.Delete("vault1"); err == nil {
		t.Fatal("expected not-found error deleting an already-deleted profile")
	}
}

func TestOnInvalidateFiresOnUpsertAndDelete(t *testing.T) {
	s := openTestStore(t)
	var fired []string
	s.OnInvalidate(func(name string) { fired = append(fired, name) })

	if _, err := s.Upsert("vault1", model.ProfileVault, nil, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete("vault1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(fired) != 2 || fired[0] != "vault1" || fired[1] != "vault1" {
		t.Fatalf("fired = %v, want [vault1 vault1]", fired)
	}
}

func TestDecodeKeyAcceptsHexRawAndBase64Forms(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	cases := map[string]string{
		"hex":            hex.EncodeToString(raw),
		"hex_0x_prefix":  "0x" + hex.EncodeToString(raw),
		"raw_32_bytes":   string(raw32Chars()),
		"base64_std":     base64.StdEncoding.EncodeToString(raw),
		"base64_rawstd":  base64.RawStdEncoding.EncodeToString(raw),
		"base64_urlsafe": base64.URLEncoding.EncodeToString(raw),
	}

	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			decoded, err := decodeKey(encoded)
			if err != nil {
				t.Fatalf("decodeKey(%q): %v", encoded, err)
			}
			if name != "raw_32_bytes" && len(decoded) != 32 {
				t.Fatalf("decoded length = %d, want 32", len(decoded))
			}
		})
	}
}

func raw32Chars() []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestDecodeKeyRejectsEmptyAndMalformed(t *testing.T) {
	if _, err := decodeKey(""); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := decodeKey("too-short"); err == nil {
		t.Fatal("expected error for a key that is neither hex, base64, nor 32 raw bytes")
	}
}
