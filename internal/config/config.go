// Package config loads server and CLI configuration from flags, environment
// variables and an optional .env file, validating everything up front.
//
// The --no-s3 flag swaps object storage for an in-memory fake. Secrets always
// come from the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kuitang/thoughtflow/internal/ratelimit"
)

const (
	defaultS3Region     = "auto"
	defaultServerURL    = "http://localhost:8080"
	defaultAutosaveWait = 5 * time.Second
)

// Config holds server configuration.
type Config struct {
	// Server settings
	ListenAddr string
	LogLevel   string
	LogFile    string

	// Database and encryption
	MasterKey       string        // 64 hex characters (32 bytes)
	DatabasePath    string        // Directory holding accounts.db and {owner}.db files
	SessionDuration time.Duration // Lifetime of issued bearer tokens

	RateLimitConfig ratelimit.Config

	// NoS3 selects in-memory object storage (--no-s3).
	NoS3 bool

	// S3-compatible storage for avatars
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	AWSPublicURL       string // S3_PUBLIC_URL
}

// ClientConfig holds settings for the thoughts CLI.
type ClientConfig struct {
	ServerURL     string
	Token         string
	AutosaveDelay time.Duration
	Debug         bool
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Flags are the server's command-line switches.
type Flags struct {
	NoS3       bool
	Addr       string
	IssueToken string
	RotateKey  string
	EnvFile    string
}

// ParseFlags registers and parses the server flags on fs.
func ParseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	var f Flags
	fs.BoolVar(&f.NoS3, "no-s3", false, "Use in-memory S3 storage")
	fs.StringVar(&f.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	fs.StringVar(&f.IssueToken, "issue-token", "", "Issue a bearer token for OWNER, print it and exit")
	fs.StringVar(&f.RotateKey, "rotate-key", "", "Re-wrap OWNER's data key under a new key version and exit")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// LoadDotEnv loads variables from path without overriding ones already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads server configuration from the environment and flags.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{NoS3: f.NoS3}

	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if f.Addr != "" {
		cfg.ListenAddr = f.Addr
	}
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFile = getEnvOrDefault("LOG_FILE", "")

	cfg.MasterKey = getEnvOrDefault("MASTER_KEY", "")
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "./data")
	cfg.SessionDuration = parseDurationOrDefault("SESSION_DURATION", 30*24*time.Hour)

	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_RPS", ratelimit.DefaultConfig.RPS),
		Burst:           parseIntOrDefault("RATE_LIMIT_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}

	cfg.AWSEndpointS3 = getEnvOrDefault("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")
	cfg.AWSBucketName = getEnvOrDefault("BUCKET_NAME", "")
	cfg.AWSPublicURL = getEnvOrDefault("S3_PUBLIC_URL", "")
	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.AWSBucketName != "" {
		cfg.AWSPublicURL = strings.TrimRight(cfg.AWSEndpointS3, "/") + "/" + cfg.AWSBucketName
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required (set env var or use --no-s3)")
		}
		if c.AWSBucketName == "" {
			errs = append(errs, "BUCKET_NAME is required (set env var or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required (set env var or use --no-s3)")
		}
	}

	// Losing the master key makes every owner database unreadable.
	if c.MasterKey == "" {
		errs = append(errs, "MASTER_KEY is required (generate with: openssl rand -hex 32)")
	} else if len(c.MasterKey) != 64 {
		errs = append(errs, "MASTER_KEY must be 64 hex characters (32 bytes)")
	}

	if c.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH must not be empty")
	}
	if c.SessionDuration <= 0 {
		errs = append(errs, "SESSION_DURATION must be positive")
	}
	if c.RateLimitConfig.RPS <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitConfig.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "thoughtflow server starting...")
	if c.NoS3 {
		fmt.Fprintln(w, "  Storage: in-memory S3 (--no-s3)")
	} else {
		fmt.Fprintf(w, "  Storage: S3 (endpoint: %s, bucket: %s)\n", c.AWSEndpointS3, c.AWSBucketName)
	}
	fmt.Fprintf(w, "  Data:    %s\n", c.DatabasePath)
	fmt.Fprintf(w, "  Limits:  %.1f rps, burst %d\n", c.RateLimitConfig.RPS, c.RateLimitConfig.Burst)
	fmt.Fprintf(w, "  Listen:  %s\n", c.ListenAddr)
	fmt.Fprintln(w, "")
}

// LoadClientConfig reads CLI settings from the environment.
func LoadClientConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{
		ServerURL:     strings.TrimRight(getEnvOrDefault("THOUGHTS_SERVER", defaultServerURL), "/"),
		Token:         getEnvOrDefault("THOUGHTS_TOKEN", ""),
		AutosaveDelay: parseDurationOrDefault("THOUGHTS_AUTOSAVE_DELAY", defaultAutosaveWait),
		Debug:         parseBoolOrDefault("THOUGHTS_DEBUG", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the client settings.
func (c *ClientConfig) Validate() error {
	var errs []string
	if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "THOUGHTS_SERVER must be an absolute http(s) URL")
	}
	if c.AutosaveDelay <= 0 {
		errs = append(errs, "THOUGHTS_AUTOSAVE_DELAY must be positive")
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	parsed, err := strconv.Atoi(getEnvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	parsed, err := strconv.ParseFloat(getEnvOrDefault(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	parsed, err := time.ParseDuration(getEnvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	parsed, err := strconv.ParseBool(getEnvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return parsed
}
