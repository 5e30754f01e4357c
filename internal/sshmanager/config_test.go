package sshmanager

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/ssh"
)

func genTestKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("new public key: %v", err)
	}
	return sshPub
}

func TestFingerprintSHA256HasExpectedPrefixAndNoPadding(t *testing.T) {
	key := genTestKey(t)
	fp := fingerprintSHA256(key)
	if fp[:7] != "SHA256:" {
		t.Fatalf("fingerprint %q missing SHA256: prefix", fp)
	}
	if fp[len(fp)-1] == '=' {
		t.Fatalf("fingerprint %q should have no base64 padding", fp)
	}
}

func TestFingerprintsEqualAcceptsBareBase64(t *testing.T) {
	key := genTestKey(t)
	full := fingerprintSHA256(key)
	bare := full[len("SHA256:"):]
	if !fingerprintsEqual(full, bare) {
		t.Fatalf("expected bare base64 form %q to equal %q", bare, full)
	}
	if !fingerprintsEqual(full, full) {
		t.Fatal("expected identical fingerprints to be equal")
	}
}

func TestBuildHostKeyCallbackPinRejectsMismatch(t *testing.T) {
	key := genTestKey(t)
	policy := hostKeyPolicy{Mode: "pin", Fingerprint: "SHA256:not-the-right-value"}
	cb, err := buildHostKeyCallback(policy, nil)
	if err != nil {
		t.Fatalf("buildHostKeyCallback: %v", err)
	}
	if err := cb("host:22", nil, key); err == nil {
		t.Fatal("expected mismatch to be rejected")
	}
}

func TestBuildHostKeyCallbackPinAcceptsMatch(t *testing.T) {
	key := genTestKey(t)
	policy := hostKeyPolicy{Mode: "pin", Fingerprint: fingerprintSHA256(key)}
	cb, err := buildHostKeyCallback(policy, nil)
	if err != nil {
		t.Fatalf("buildHostKeyCallback: %v", err)
	}
	if err := cb("host:22", nil, key); err != nil {
		t.Fatalf("expected matching fingerprint to be accepted: %v", err)
	}
}

func TestBuildHostKeyCallbackPinRequiresFingerprint(t *testing.T) {
	if _, err := buildHostKeyCallback(hostKeyPolicy{Mode: "pin"}, nil); err == nil {
		t.Fatal("expected pin mode without a fingerprint to error")
	}
}

func TestBuildHostKeyCallbackTofuPersistsFirstSeenKey(t *testing.T) {
	key := genTestKey(t)
	var persisted string
	policy := hostKeyPolicy{Mode: "tofu", Persist: true}
	cb, err := buildHostKeyCallback(policy, func(fp string) error {
		persisted = fp
		return nil
	})
	if err != nil {
		t.Fatalf("buildHostKeyCallback: %v", err)
	}
	if err := cb("host:22", nil, key); err != nil {
		t.Fatalf("tofu accept: %v", err)
	}
	if persisted != fingerprintSHA256(key) {
		t.Fatalf("persisted fingerprint = %q, want %q", persisted, fingerprintSHA256(key))
	}
}

func TestBuildHostKeyCallbackTofuRejectsMismatchOncePinned(t *testing.T) {
	key := genTestKey(t)
	policy := hostKeyPolicy{Mode: "tofu", Fingerprint: "SHA256:wrong"}
	cb, err := buildHostKeyCallback(policy, nil)
	if err != nil {
		t.Fatalf("buildHostKeyCallback: %v", err)
	}
	if err := cb("host:22", nil, key); err == nil {
		t.Fatal("expected mismatch against an already-pinned fingerprint to be rejected")
	}
}

func TestDialConfigFromProfileRequiresHostAndUsername(t *testing.T) {
	if _, err := dialConfigFromProfile(map[string]interface{}{}, nil); err == nil {
		t.Fatal("expected missing host/username to error")
	}
	dc, err := dialConfigFromProfile(map[string]interface{}{"host": "example.com", "username": "deploy"}, nil)
	if err != nil {
		t.Fatalf("dialConfigFromProfile: %v", err)
	}
	if dc.Port != 22 {
		t.Fatalf("default port = %d, want 22", dc.Port)
	}
	if dialAddr(dc) != "example.com:22" {
		t.Fatalf("dialAddr = %q", dialAddr(dc))
	}
}

func TestBuildClientConfigRequiresAuth(t *testing.T) {
	dc := dialConfig{Host: "h", Username: "u", HostKeyPolicy: hostKeyPolicy{Mode: "accept"}}
	if _, err := buildClientConfig(dc, nil); err == nil {
		t.Fatal("expected missing auth to error")
	}
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	got := shellQuote(`it's a test`)
	want := `'it'\''s a test'`
	if got != want {
		t.Fatalf("shellQuote = %q, want %q", got, want)
	}
}
