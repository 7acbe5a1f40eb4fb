// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads gatehouse configuration from defaults, an optional
// YAML file, an optional .env file, the environment and command-line flags,
// in that order of increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/logging"
	"github.com/holomush/gatehouse/internal/xdg"
)

// DatabaseURLEnv is the environment variable holding the database URL.
const DatabaseURLEnv = "DATABASE_URL"

// Config is the full gatehouse configuration.
type Config struct {
	Database     DatabaseConfig    `koanf:"database"`
	Session      SessionConfig     `koanf:"session"`
	Security     SecurityConfig    `koanf:"security"`
	Password     PasswordConfig    `koanf:"password"`
	Maintenance  MaintenanceConfig `koanf:"maintenance"`
	Workers      int               `koanf:"workers"`
	StoreTimeout time.Duration     `koanf:"store_timeout"`
	Log          LogConfig         `koanf:"log"`
	Metrics      MetricsConfig     `koanf:"metrics"`
}

// DatabaseConfig locates the store.
type DatabaseConfig struct {
	URL             string `koanf:"url"`
	ConnectAttempts int    `koanf:"connect_attempts"`
}

// SessionConfig bounds session lifetime.
type SessionConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	DisconnectGrace time.Duration `koanf:"disconnect_grace"`
}

// SecurityConfig tunes throttling and hashing.
type SecurityConfig struct {
	MaxLoginAttempts   int           `koanf:"max_login_attempts"`
	LoginBlockDuration time.Duration `koanf:"login_block_duration"`
	IPCheck            bool          `koanf:"ip_check"`
	IPChangeGrace      time.Duration `koanf:"ip_change_grace"`
	WorkFactor         int           `koanf:"work_factor"`
}

// PasswordConfig is the registration password policy.
type PasswordConfig struct {
	MinLength         int  `koanf:"min_length"`
	MaxLength         int  `koanf:"max_length"`
	EnforceComplexity bool `koanf:"enforce_complexity"`
}

// MaintenanceConfig drives the periodic maintenance pass.
type MaintenanceConfig struct {
	Interval         time.Duration `koanf:"interval"`
	Autosave         bool          `koanf:"autosave"`
	SessionRetention time.Duration `koanf:"session_retention"`
	AuditRetention   time.Duration `koanf:"audit_retention"`
}

// LogConfig selects log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig locates the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

var defaults = map[string]any{
	"database.url":                  "",
	"database.connect_attempts":     5,
	"session.ttl":                   auth.DefaultSessionTTL,
	"session.disconnect_grace":      30 * time.Second,
	"security.max_login_attempts":   auth.DefaultMaxAttempts,
	"security.login_block_duration": auth.DefaultBlockDuration,
	"security.ip_check":             true,
	"security.ip_change_grace":      30 * time.Minute,
	"security.work_factor":          auth.DefaultWorkFactor,
	"password.min_length":           auth.DefaultMinPasswordLength,
	"password.max_length":           auth.DefaultMaxPasswordLength,
	"password.enforce_complexity":   true,
	"maintenance.interval":          5 * time.Minute,
	"maintenance.autosave":          true,
	"maintenance.session_retention": 30 * 24 * time.Hour,
	"maintenance.audit_retention":   90 * 24 * time.Hour,
	"workers":                       8,
	"store_timeout":                 auth.DefaultStoreTimeout,
	"log.format":                    logging.FormatJSON,
	"log.level":                     "info",
	"metrics.addr":                  "127.0.0.1:9100",
}

// flagKeys maps command-line flag names to configuration keys. Flags not
// listed here are ignored by Load.
var flagKeys = map[string]string{
	"database-url":      "database.url",
	"workers":           "workers",
	"log-format":        "log.format",
	"log-level":         "log.level",
	"metrics-addr":      "metrics.addr",
	"session-ttl":       "session.ttl",
	"work-factor":       "security.work_factor",
	"maintenance-every": "maintenance.interval",
}

// RegisterFlags adds the flags Load understands to flags. Their defaults are
// informational; unchanged flags never override file or environment values.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML configuration file")
	flags.String("env-file", ".env", "path to an optional .env file providing "+DatabaseURLEnv)
	flags.String("database-url", "", "PostgreSQL connection URL (env "+DatabaseURLEnv+")")
	flags.Int("workers", 8, "background worker pool width")
	flags.String("log-format", logging.FormatJSON, "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	flags.Duration("session-ttl", auth.DefaultSessionTTL, "session lifetime")
	flags.Int("work-factor", auth.DefaultWorkFactor, "bcrypt cost, clamped to the supported range")
	flags.Duration("maintenance-every", 5*time.Minute, "maintenance interval")
}

// Options locates configuration sources. Zero values skip the source.
type Options struct {
	File    string
	EnvFile string
	Flags   *pflag.FlagSet

	// Discover loads $XDG_CONFIG_HOME/gatehouse/gatehouse.yaml when File is
	// empty and that file exists.
	Discover bool

	// Getenv reads the environment. Nil uses os.Getenv.
	Getenv func(string) string
}

// OptionsFromFlags reads --config and --env-file from flags.
func OptionsFromFlags(flags *pflag.FlagSet) Options {
	opts := Options{Flags: flags, Discover: true}
	if f := flags.Lookup("config"); f != nil {
		opts.File = f.Value.String()
	}
	if f := flags.Lookup("env-file"); f != nil {
		opts.EnvFile = f.Value.String()
	}
	return opts
}

// Load builds and validates a Config.
func Load(opts Options) (*Config, error) {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}

	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if opts.File == "" && opts.Discover {
		if path, ok := xdg.ConfigFile(opts.Getenv); ok {
			opts.File = path
		}
	}
	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_INVALID").With("path", opts.File).Wrap(err)
		}
	}

	if opts.EnvFile != "" {
		env, err := godotenv.Read(opts.EnvFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, oops.Code("CONFIG_ENV_FILE_INVALID").With("path", opts.EnvFile).Wrap(err)
		case env[DatabaseURLEnv] != "":
			if err := k.Set("database.url", env[DatabaseURLEnv]); err != nil {
				return nil, oops.Code("CONFIG_ENV_FILE_INVALID").Wrap(err)
			}
		}
	}

	if url := opts.Getenv(DatabaseURLEnv); url != "" {
		if err := k.Set("database.url", url); err != nil {
			return nil, oops.Code("CONFIG_ENV_INVALID").Wrap(err)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	cfg.Security.WorkFactor = auth.ClampWorkFactor(cfg.Security.WorkFactor)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with. The database URL
// is checked by the commands that need it.
func (c *Config) Validate() error {
	positive := map[string]time.Duration{
		"session.ttl":                   c.Session.TTL,
		"session.disconnect_grace":      c.Session.DisconnectGrace,
		"security.login_block_duration": c.Security.LoginBlockDuration,
		"security.ip_change_grace":      c.Security.IPChangeGrace,
		"maintenance.interval":          c.Maintenance.Interval,
		"store_timeout":                 c.StoreTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s must be positive, got %s", key, d)
		}
	}

	counts := map[string]int{
		"database.connect_attempts":   c.Database.ConnectAttempts,
		"security.max_login_attempts": c.Security.MaxLoginAttempts,
		"password.min_length":         c.Password.MinLength,
		"password.max_length":         c.Password.MaxLength,
		"workers":                     c.Workers,
	}
	for key, n := range counts {
		if n <= 0 {
			return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s must be positive, got %d", key, n)
		}
	}

	if c.Maintenance.SessionRetention < 0 || c.Maintenance.AuditRetention < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("retention periods cannot be negative")
	}
	if c.Password.MinLength > c.Password.MaxLength {
		return oops.Code("CONFIG_INVALID").
			With("min", c.Password.MinLength).
			With("max", c.Password.MaxLength).
			Errorf("password.min_length exceeds password.max_length")
	}
	if c.Password.MaxLength > auth.MaxPasswordBytes {
		return oops.Code("CONFIG_INVALID").With("key", "password.max_length").
			Errorf("password.max_length cannot exceed %d, the bcrypt input limit", auth.MaxPasswordBytes)
	}
	if !logging.ValidFormat(c.Log.Format) {
		return oops.Code("CONFIG_INVALID").With("key", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log.level").
			Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// RequireDatabase fails if no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").
			Errorf("a database URL is required (--database-url or %s)", DatabaseURLEnv)
	}
	return nil
}

// PasswordPolicy returns the configured registration policy.
func (c *Config) PasswordPolicy() auth.PasswordPolicy {
	return auth.PasswordPolicy{
		MinLength:         c.Password.MinLength,
		MaxLength:         c.Password.MaxLength,
		EnforceComplexity: c.Password.EnforceComplexity,
	}
}

// Orchestrator returns the orchestrator settings.
func (c *Config) Orchestrator() auth.Config {
	return auth.Config{
		DisconnectGrace:  c.Session.DisconnectGrace,
		IPCheck:          c.Security.IPCheck,
		IPChangeGrace:    c.Security.IPChangeGrace,
		Autosave:         c.Maintenance.Autosave,
		SessionRetention: c.Maintenance.SessionRetention,
		AuditRetention:   c.Maintenance.AuditRetention,
		Policy:           c.PasswordPolicy(),
	}
}
