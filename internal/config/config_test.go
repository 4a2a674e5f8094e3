package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kuitang/thoughtflow/internal/ratelimit"
	"pgregory.net/rapid"
)

func validTestConfig() Config {
	return Config{
		NoS3:            true,
		MasterKey:       strings.Repeat("a", 64),
		DatabasePath:    "./data",
		SessionDuration: time.Hour,
		RateLimitConfig: ratelimit.DefaultConfig,
	}
}

func TestValidate_TestModeMinimalConfigPasses(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_RequiresS3SecretsWhenNotMocked(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.NoS3 = false

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when S3 is enabled without secrets")
	}
	msg := err.Error()
	for _, expected := range []string{
		"AWS_ENDPOINT_URL_S3",
		"BUCKET_NAME",
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
	} {
		if !strings.Contains(msg, expected) {
			t.Fatalf("expected validation error to mention %q, got: %v", expected, err)
		}
	}
}

func testValidate_RejectsInvalidMasterKeyLength(t *rapid.T) {
	cfg := validTestConfig()
	n := rapid.IntRange(1, 128).Filter(func(n int) bool { return n != 64 }).Draw(t, "master_key_len")
	cfg.MasterKey = strings.Repeat("a", n)

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for wrong key length")
	}
	if !strings.Contains(err.Error(), "MASTER_KEY") {
		t.Fatalf("expected MASTER_KEY error, got: %v", err)
	}
}

func TestValidate_RejectsInvalidMasterKeyLength(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsInvalidMasterKeyLength)
}

func TestValidate_AggregatesAllProblems(t *testing.T) {
	t.Parallel()
	cfg := validTestConfig()
	cfg.MasterKey = ""
	cfg.RateLimitConfig.RPS = 0
	cfg.RateLimitConfig.Burst = 0

	err := cfg.Validate()
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Errors) != 3 {
		t.Fatalf("expected 3 problems, got %d: %v", len(verr.Errors), verr.Errors)
	}
}

func TestLoadConfig_FlagOverridesListenAddr(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("MASTER_KEY", strings.Repeat("b", 64))

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	f, err := ParseFlags(fs, []string{"--no-s3", "--addr", ":7070"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	cfg, err := LoadConfig(f)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("ListenAddr = %q, want :7070", cfg.ListenAddr)
	}
	if !cfg.NoS3 {
		t.Fatal("NoS3 not propagated")
	}
}

func TestLoadDotEnv_MissingFileIgnoredAndValuesLoaded(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("THOUGHTS_DOTENV_PROBE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("THOUGHTS_DOTENV_PROBE") })
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("THOUGHTS_DOTENV_PROBE"); got != "loaded" {
		t.Fatalf("THOUGHTS_DOTENV_PROBE = %q", got)
	}
}

func TestLoadClientConfig_Defaults(t *testing.T) {
	t.Setenv("THOUGHTS_SERVER", "")
	t.Setenv("THOUGHTS_AUTOSAVE_DELAY", "")
	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.ServerURL != "http://localhost:8080" {
		t.Fatalf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.AutosaveDelay != 5*time.Second {
		t.Fatalf("AutosaveDelay = %v", cfg.AutosaveDelay)
	}
}

func TestLoadClientConfig_RejectsRelativeServer(t *testing.T) {
	t.Setenv("THOUGHTS_SERVER", "localhost:8080/api")
	if _, err := LoadClientConfig(); err == nil {
		t.Fatal("expected error for server URL without scheme")
	}
}

func TestHelperParsers_DefaultOnBadInput(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-an-int")
	t.Setenv("CFG_TEST_FLOAT", "not-a-float")
	t.Setenv("CFG_TEST_DUR", "not-a-duration")
	t.Setenv("CFG_TEST_BOOL", "maybe")
	if got := parseIntOrDefault("CFG_TEST_INT", 7); got != 7 {
		t.Fatalf("parseIntOrDefault fallback mismatch: got=%d want=7", got)
	}
	if got := parseFloat64OrDefault("CFG_TEST_FLOAT", 3.5); got != 3.5 {
		t.Fatalf("parseFloat64OrDefault fallback mismatch: got=%v want=3.5", got)
	}
	if got := parseDurationOrDefault("CFG_TEST_DUR", 2*time.Minute); got != 2*time.Minute {
		t.Fatalf("parseDurationOrDefault fallback mismatch: got=%v", got)
	}
	if got := parseBoolOrDefault("CFG_TEST_BOOL", true); !got {
		t.Fatal("parseBoolOrDefault fallback mismatch")
	}
}
