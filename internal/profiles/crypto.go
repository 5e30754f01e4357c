package profiles

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/sentryfrogg/engine/internal/platform/filestore"
)

const keyFileName = ".mcp_profiles.key"

// loadMasterKey resolves the 32-byte AES-256 key from ENCRYPTION_KEY
// (hex, base64, or raw 32-byte string) or else a persisted key file created
// with 0600 permissions on first run, per spec §4.1.
func loadMasterKey(baseDir string) ([]byte, error) {
	if raw := strings.TrimSpace(os.Getenv("ENCRYPTION_KEY")); raw != "" {
		return decodeKey(raw)
	}

	keyPath := baseDir + string(os.PathSeparator) + keyFileName
	if data, err := os.ReadFile(keyPath); err == nil {
		return decodeKey(strings.TrimSpace(string(data)))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("profiles: read key file: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("profiles: generate key: %w", err)
	}
	if err := filestore.WriteAtomic(keyPath, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("profiles: persist key file: %w", err)
	}
	return key, nil
}

func decodeKey(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("profiles: encryption key is empty")
	}
	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := base64.URLEncoding.DecodeString(trimmed); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(trimmed) == 32 {
		return []byte(trimmed), nil
	}
	return nil, fmt.Errorf("profiles: encryption key must be 32 bytes, 64 hex chars, or base64")
}

// sealer wraps an AEAD for per-value AES-256-GCM sealing with independent
// nonces, grounded on infrastructure/secrets/manager.go.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return append(nonce, ciphertext...), nil
}

func (s *sealer) open(raw []byte) (string, error) {
	nonceLen := s.aead.NonceSize()
	if len(raw) < nonceLen {
		return "", ErrCorrupt
	}
	nonce, ciphertext := raw[:nonceLen], raw[nonceLen:]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return string(plain), nil
}
