package config

import (
	"testing"
	"time"
)

func TestGetEnvFallsBackWhenUnsetOrBlank(t *testing.T) {
	if got := GetEnv("SENTRYFROGG_TEST_UNSET", "default"); got != "default" {
		t.Fatalf("got %q, want default", got)
	}
	t.Setenv("SENTRYFROGG_TEST_VAL", "  actual  ")
	if got := GetEnv("SENTRYFROGG_TEST_VAL", "default"); got != "actual" {
		t.Fatalf("got %q, want trimmed actual", got)
	}
}

func TestGetEnvBoolParsesTruthyAndFalsyForms(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "Y": true, "false": false, "0": false, "no": false, "N": false}
	for raw, want := range cases {
		t.Setenv("SENTRYFROGG_TEST_BOOL", raw)
		if got := GetEnvBool("SENTRYFROGG_TEST_BOOL", !want); got != want {
			t.Fatalf("GetEnvBool(%q) = %v, want %v", raw, got, want)
		}
	}
	if got := GetEnvBool("SENTRYFROGG_TEST_BOOL_UNSET", true); !got {
		t.Fatal("expected default true when unset")
	}
}

func TestGetEnvIntFallsBackOnParseFailure(t *testing.T) {
	t.Setenv("SENTRYFROGG_TEST_INT", "not-a-number")
	if got := GetEnvInt("SENTRYFROGG_TEST_INT", 42); got != 42 {
		t.Fatalf("got %d, want default 42", got)
	}
	t.Setenv("SENTRYFROGG_TEST_INT", "7")
	if got := GetEnvInt("SENTRYFROGG_TEST_INT", 42); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestGetEnvDurationMSParsesMilliseconds(t *testing.T) {
	t.Setenv("SENTRYFROGG_TEST_MS", "1500")
	got := GetEnvDurationMS("SENTRYFROGG_TEST_MS", time.Second)
	if got != 1500*time.Millisecond {
		t.Fatalf("got %v, want 1500ms", got)
	}
}

func TestParseEnvDurationParsesGoDurationStrings(t *testing.T) {
	t.Setenv("SENTRYFROGG_TEST_DUR", "5s")
	d, ok := ParseEnvDuration("SENTRYFROGG_TEST_DUR")
	if !ok || d != 5*time.Second {
		t.Fatalf("got %v, %v, want 5s, true", d, ok)
	}
	if _, ok := ParseEnvDuration("SENTRYFROGG_TEST_DUR_UNSET"); ok {
		t.Fatal("expected false for unset var")
	}
}

func TestGetEnvCSVSplitsAndTrims(t *testing.T) {
	t.Setenv("SENTRYFROGG_TEST_CSV", " a, b ,,c ")
	got := GetEnvCSV("SENTRYFROGG_TEST_CSV")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if got := GetEnvCSV("SENTRYFROGG_TEST_CSV_UNSET"); got != nil {
		t.Fatalf("got %v, want nil for unset var", got)
	}
}

func TestBaseDirPrefersExplicitOverrideThenXDG(t *testing.T) {
	t.Setenv("MCP_PROFILES_DIR", "/custom/profiles")
	got, err := BaseDir()
	if err != nil || got != "/custom/profiles" {
		t.Fatalf("got %q, %v, want /custom/profiles", got, err)
	}

	t.Setenv("MCP_PROFILES_DIR", "")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")
	got, err = BaseDir()
	if err != nil || got != "/xdg/state/sentryfrogg" {
		t.Fatalf("got %q, %v, want /xdg/state/sentryfrogg", got, err)
	}
}

func TestFilePathHonorsOverrideKey(t *testing.T) {
	t.Setenv("SENTRYFROGG_PROFILES_FILE", "/override/profiles.json")
	got, err := FilePath("SENTRYFROGG_PROFILES_FILE", "profiles.json")
	if err != nil || got != "/override/profiles.json" {
		t.Fatalf("got %q, %v, want override path", got, err)
	}
}

func TestAllowSecretExportChecksBothEnvAliases(t *testing.T) {
	t.Setenv("SENTRYFROGG_ALLOW_SECRET_EXPORT", "")
	t.Setenv("SF_ALLOW_SECRET_EXPORT", "")
	if AllowSecretExport() {
		t.Fatal("expected false when neither alias is set")
	}
	t.Setenv("SF_ALLOW_SECRET_EXPORT", "true")
	if !AllowSecretExport() {
		t.Fatal("expected true via SF_ alias")
	}
}

func TestStreamToArtifactModeValidatesValue(t *testing.T) {
	t.Setenv("SENTRYFROGG_PIPELINE_STREAM_TO_ARTIFACT", "")
	t.Setenv("SF_PIPELINE_STREAM_TO_ARTIFACT", "")
	if got := StreamToArtifactMode(); got != "off" {
		t.Fatalf("got %q, want off", got)
	}
	t.Setenv("SENTRYFROGG_PIPELINE_STREAM_TO_ARTIFACT", "garbage")
	if got := StreamToArtifactMode(); got != "off" {
		t.Fatalf("got %q, want off for invalid value", got)
	}
	t.Setenv("SENTRYFROGG_PIPELINE_STREAM_TO_ARTIFACT", "FULL")
	if got := StreamToArtifactMode(); got != "full" {
		t.Fatalf("got %q, want full lower-cased", got)
	}
}

func TestMaxCaptureBytesBuildsSubsystemKey(t *testing.T) {
	t.Setenv("SENTRYFROGG_HTTP_MAX_CAPTURE_BYTES", "2048")
	if got := MaxCaptureBytes("http", 1024); got != 2048 {
		t.Fatalf("got %d, want 2048", got)
	}
}
