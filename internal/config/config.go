// Package config loads the mailbuild configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zostay/go-mailbuild/builder"
	"github.com/zostay/go-mailbuild/outbox"
	"github.com/zostay/go-mailbuild/pgp"
)

// EnvPrefix starts the name of every environment variable read by Load.
const EnvPrefix = "MAILBUILD_"

// Outbox kinds.
const (
	OutboxStdout = "stdout"
	OutboxDir    = "dir"
	OutboxS3     = "s3"
	OutboxSES    = "ses"
)

// Errors returned by Validate.
var (
	ErrLogLevel   = errors.New("unknown log level")
	ErrLogFormat  = errors.New("unknown log format")
	ErrOutbox     = errors.New("unknown outbox kind")
	ErrIncomplete = errors.New("incomplete outbox configuration")
)

// Config holds the complete configuration.
type Config struct {
	Log      LogConfig        `yaml:"log"`
	Identity builder.Identity `yaml:"identity"`
	Build    BuildConfig      `yaml:"build"`
	Crypto   CryptoConfig     `yaml:"crypto"`
	Outbox   OutboxConfig     `yaml:"outbox"`
}

// LogConfig selects the log level and the handler format.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// BuildConfig holds defaults applied to every build request.
type BuildConfig struct {
	TempDir      string `yaml:"temp_dir"`
	UserAgent    string `yaml:"user_agent"`
	HideTimeZone bool   `yaml:"hide_time_zone"`

	// Downgrade converts every message to 7bit before it is handed to the
	// outbox.
	Downgrade bool `yaml:"downgrade"`
}

// CryptoConfig configures the in-process OpenPGP service.
type CryptoConfig struct {
	// Keyring is an armored keyring file. Without one, no request may ask
	// for cryptography.
	Keyring string `yaml:"keyring"`

	// Passphrase answers passphrase requests without prompting.
	Passphrase string `yaml:"passphrase"`

	// Defaults is used by requests that do not configure crypto.
	Defaults pgp.Config `yaml:"defaults"`
}

// OutboxConfig selects where finished messages go.
type OutboxConfig struct {
	Kind string           `yaml:"kind"`
	Dir  string           `yaml:"dir"`
	S3   outbox.S3Config  `yaml:"s3"`
	SES  outbox.SESConfig `yaml:"ses"`
}

// Load returns the defaults with environment overrides applied.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads the YAML file at path over the defaults and then applies
// environment overrides.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Outbox.Kind = OutboxStdout
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// applyEnvVars overrides fields with the non-empty MAILBUILD_* variables.
func (c *Config) applyEnvVars() error {
	for name, dst := range map[string]*string{
		"LOG_LEVEL":             &c.Log.Level,
		"LOG_FORMAT":            &c.Log.Format,
		"IDENTITY_NAME":         &c.Identity.Name,
		"IDENTITY_EMAIL":        &c.Identity.Email,
		"TEMP_DIR":              &c.Build.TempDir,
		"USER_AGENT":            &c.Build.UserAgent,
		"KEYRING":               &c.Crypto.Keyring,
		"PASSPHRASE":            &c.Crypto.Passphrase,
		"OUTBOX":                &c.Outbox.Kind,
		"OUTBOX_DIR":            &c.Outbox.Dir,
		"S3_REGION":             &c.Outbox.S3.Region,
		"S3_BUCKET":             &c.Outbox.S3.Bucket,
		"S3_PREFIX":             &c.Outbox.S3.Prefix,
		"S3_ENDPOINT":           &c.Outbox.S3.Endpoint,
		"S3_ACCESS_KEY_ID":      &c.Outbox.S3.AccessKeyID,
		"S3_SECRET_ACCESS_KEY":  &c.Outbox.S3.SecretAccessKey,
		"SES_REGION":            &c.Outbox.SES.Region,
		"SES_ACCESS_KEY_ID":     &c.Outbox.SES.AccessKeyID,
		"SES_SECRET_ACCESS_KEY": &c.Outbox.SES.SecretAccessKey,
	} {
		if v := env(name); v != "" {
			*dst = v
		}
	}

	for name, dst := range map[string]*bool{
		"HIDE_TIME_ZONE": &c.Build.HideTimeZone,
		"DOWNGRADE":      &c.Build.Downgrade,
	} {
		if v := env(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("bad %s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	if v := env("CRYPTO_MODE"); v != "" {
		m, err := pgp.ParseMode(v)
		if err != nil {
			return fmt.Errorf("bad %sCRYPTO_MODE: %w", EnvPrefix, err)
		}
		c.Crypto.Defaults.Mode = m
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.Outbox.Kind = strings.ToLower(c.Outbox.Kind)

	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrLogFormat, c.Log.Format)
	}

	switch c.Outbox.Kind {
	case OutboxStdout:
	case OutboxDir:
		if c.Outbox.Dir == "" {
			return fmt.Errorf("%w: dir outbox needs a directory", ErrIncomplete)
		}
	case OutboxS3:
		if c.Outbox.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 outbox needs a bucket", ErrIncomplete)
		}
	case OutboxSES:
		if c.Outbox.SES.Region == "" {
			return fmt.Errorf("%w: ses outbox needs a region", ErrIncomplete)
		}
	default:
		return fmt.Errorf("%w: %q", ErrOutbox, c.Outbox.Kind)
	}

	return nil
}

// SlogLevel converts Level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	switch c.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrLogLevel, c.Level)
	}
}

// Logger returns a logger writing to w in the configured format and level.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	level, _ := c.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
