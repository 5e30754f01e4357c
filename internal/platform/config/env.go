// Package config provides environment-variable configuration helpers shared
// by every engine component, and resolves the filesystem layout of spec §6.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the trimmed value of key, or defaultValue when unset/blank.
func GetEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool parses a boolean env var. Accepts true/1/yes/y case-insensitively.
func GetEnvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	}
	return defaultValue
}

// GetEnvInt parses an integer env var, falling back to defaultValue on
// absence or parse failure.
func GetEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvInt64 parses an int64 env var.
func GetEnvInt64(key string, defaultValue int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvDurationMS parses a duration env var expressed in milliseconds
// (matching spec's "*_TIMEOUT_MS" knobs), falling back to defaultValue.
func GetEnvDurationMS(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return time.Duration(n) * time.Millisecond
}

// ParseEnvDuration parses a Go duration string (e.g. "5s") env var.
func ParseEnvDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// GetEnvCSV splits a comma-separated env var into trimmed, non-empty parts.
func GetEnvCSV(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BaseDir resolves the engine's base state directory per spec §6:
// MCP_PROFILES_DIR, else $XDG_STATE_HOME/sentryfrogg, else ~/.local/state/sentryfrogg.
func BaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("MCP_PROFILES_DIR")); dir != "" {
		return dir, nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "sentryfrogg"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "sentryfrogg"), nil
}

// FilePath resolves an individual store file under BaseDir, honoring the
// env-var override named by overrideKey when set.
func FilePath(overrideKey, filename string) (string, error) {
	if override := strings.TrimSpace(os.Getenv(overrideKey)); override != "" {
		return override, nil
	}
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filename), nil
}

// AllowSecretExport reports whether break-glass plaintext secret export is
// enabled via SENTRYFROGG_ALLOW_SECRET_EXPORT or its SF_ alias.
func AllowSecretExport() bool {
	return GetEnvBool("SENTRYFROGG_ALLOW_SECRET_EXPORT", GetEnvBool("SF_ALLOW_SECRET_EXPORT", false))
}

// StreamToArtifactMode returns "capped", "full", or "off" for pipeline
// artifact tapping, per SENTRYFROGG_PIPELINE_STREAM_TO_ARTIFACT / SF_….
func StreamToArtifactMode() string {
	v := GetEnv("SENTRYFROGG_PIPELINE_STREAM_TO_ARTIFACT", GetEnv("SF_PIPELINE_STREAM_TO_ARTIFACT", "off"))
	switch strings.ToLower(v) {
	case "capped", "full", "off":
		return strings.ToLower(v)
	default:
		return "off"
	}
}

// MaxCaptureBytes resolves a per-subsystem capture cap, e.g. subsystem="HTTP"
// reads SENTRYFROGG_HTTP_MAX_CAPTURE_BYTES.
func MaxCaptureBytes(subsystem string, defaultValue int64) int64 {
	key := "SENTRYFROGG_" + strings.ToUpper(subsystem) + "_MAX_CAPTURE_BYTES"
	return GetEnvInt64(key, defaultValue)
}
