// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authcore configuration.
//
// Sources are layered, later ones winning:
//
//  1. built-in defaults (Default)
//  2. the YAML config file, validated against the JSON Schema
//  3. DATABASE_URL from the environment (a .env file is loaded first when present)
//  4. command-line flags that were explicitly set
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/postgres"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// DatabaseURLEnv is the environment variable holding the PostgreSQL DSN.
const DatabaseURLEnv = "DATABASE_URL"

// Duration is a time.Duration written as a Go duration string ("90m", "2160h").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^(0|([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+)$`,
		Description: "Go duration string, e.g. 90m or 2160h",
	}
}

// Config is the complete authcore configuration.
type Config struct {
	Store       string         `koanf:"store" json:"store,omitempty" yaml:"store" jsonschema:"enum=postgres,enum=memory,description=User store backend"`
	DatabaseURL string         `koanf:"database_url" json:"database_url,omitempty" yaml:"database_url,omitempty" jsonschema:"description=PostgreSQL connection string; DATABASE_URL overrides it"`
	Log         LogConfig      `koanf:"log" json:"log,omitempty" yaml:"log"`
	HTTP        HTTPConfig     `koanf:"http" json:"http,omitempty" yaml:"http"`
	Metrics     MetricsConfig  `koanf:"metrics" json:"metrics,omitempty" yaml:"metrics"`
	Control     ControlConfig  `koanf:"control" json:"control,omitempty" yaml:"control"`
	Auth        AuthConfig     `koanf:"auth" json:"auth,omitempty" yaml:"auth"`
	Database    DatabaseConfig `koanf:"database" json:"database,omitempty" yaml:"database"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `koanf:"level" json:"level,omitempty" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" json:"format,omitempty" yaml:"format" jsonschema:"enum=json,enum=text"`
}

// HTTPConfig configures the JSON API listener.
type HTTPConfig struct {
	Addr            string          `koanf:"addr" json:"addr,omitempty" yaml:"addr" jsonschema:"description=Listen address host:port"`
	ShutdownTimeout Duration        `koanf:"shutdown_timeout" json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `koanf:"rate_limit" json:"rate_limit,omitempty" yaml:"rate_limit"`
}

// RateLimitConfig limits credential endpoints per client address. Zero
// RequestsPerMinute disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `koanf:"requests_per_minute" json:"requests_per_minute,omitempty" yaml:"requests_per_minute" jsonschema:"minimum=0"`
	Burst             int `koanf:"burst" json:"burst,omitempty" yaml:"burst" jsonschema:"minimum=0"`
}

// MetricsConfig configures the Prometheus and health probe listener. An
// empty address disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" yaml:"addr"`
}

// ControlConfig configures the gRPC health listener. An empty address
// disables it. When TLSDir is set the server presents control.crt and
// requires client certificates signed by root-ca.crt in that directory.
type ControlConfig struct {
	Addr          string   `koanf:"addr" json:"addr,omitempty" yaml:"addr"`
	TLSDir        string   `koanf:"tls_dir" json:"tls_dir,omitempty" yaml:"tls_dir,omitempty"`
	ProbeInterval Duration `koanf:"probe_interval" json:"probe_interval,omitempty" yaml:"probe_interval"`
}

// AuthConfig holds credential policy.
type AuthConfig struct {
	SessionLifetime    Duration     `koanf:"session_lifetime" json:"session_lifetime,omitempty" yaml:"session_lifetime"`
	ResetTokenLifetime Duration     `koanf:"reset_token_lifetime" json:"reset_token_lifetime,omitempty" yaml:"reset_token_lifetime"`
	SweepInterval      Duration     `koanf:"sweep_interval" json:"sweep_interval,omitempty" yaml:"sweep_interval" jsonschema:"description=Expired token purge interval; 0s disables"`
	HideUnknownUsers   bool         `koanf:"hide_unknown_users" json:"hide_unknown_users,omitempty" yaml:"hide_unknown_users"`
	HashAlgorithm      string       `koanf:"hash_algorithm" json:"hash_algorithm,omitempty" yaml:"hash_algorithm" jsonschema:"enum=argon2id,enum=bcrypt"`
	BcryptCost         int          `koanf:"bcrypt_cost" json:"bcrypt_cost,omitempty" yaml:"bcrypt_cost" jsonschema:"minimum=4,maximum=31"`
	Argon2             Argon2Config `koanf:"argon2" json:"argon2,omitempty" yaml:"argon2"`
}

// Argon2Config holds argon2id cost parameters.
type Argon2Config struct {
	Time      uint32 `koanf:"time" json:"time,omitempty" yaml:"time" jsonschema:"minimum=1"`
	MemoryKiB uint32 `koanf:"memory_kib" json:"memory_kib,omitempty" yaml:"memory_kib" jsonschema:"minimum=8"`
	Threads   uint8  `koanf:"threads" json:"threads,omitempty" yaml:"threads" jsonschema:"minimum=1"`
}

// DatabaseConfig sizes the pool and bounds the startup connection attempts.
type DatabaseConfig struct {
	MaxConns       int32    `koanf:"max_conns" json:"max_conns,omitempty" yaml:"max_conns" jsonschema:"minimum=1"`
	MinConns       int32    `koanf:"min_conns" json:"min_conns,omitempty" yaml:"min_conns" jsonschema:"minimum=0"`
	ConnectRetries uint64   `koanf:"connect_retries" json:"connect_retries,omitempty" yaml:"connect_retries"`
	RetryBase      Duration `koanf:"retry_base" json:"retry_base,omitempty" yaml:"retry_base"`
	RetryCap       Duration `koanf:"retry_cap" json:"retry_cap,omitempty" yaml:"retry_cap"`
}

// Default returns the built-in configuration.
func Default() Config {
	db := postgres.DefaultConnectConfig()
	return Config{
		Store: StorePostgres,
		Log:   LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: Duration(10 * time.Second),
			RateLimit:       RateLimitConfig{RequestsPerMinute: 30, Burst: 10},
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Control: ControlConfig{Addr: "127.0.0.1:9101", ProbeInterval: Duration(10 * time.Second)},
		Auth: AuthConfig{
			SessionLifetime:    Duration(auth.DefaultSessionLifetime),
			ResetTokenLifetime: Duration(auth.DefaultResetTokenLifetime),
			SweepInterval:      Duration(auth.DefaultSweepInterval),
			HashAlgorithm:      auth.AlgorithmArgon2id,
			BcryptCost:         auth.DefaultBcryptCost,
			Argon2: Argon2Config{
				Time:      auth.DefaultArgon2Params.Time,
				MemoryKiB: auth.DefaultArgon2Params.MemoryKiB,
				Threads:   auth.DefaultArgon2Params.Threads,
			},
		},
		Database: DatabaseConfig{
			MaxConns:       db.MaxConns,
			MinConns:       db.MinConns,
			ConnectRetries: db.ConnectRetries,
			RetryBase:      Duration(db.RetryBase),
			RetryCap:       Duration(db.RetryCap),
		},
	}
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("database_url (or %s) is required for the postgres store", DatabaseURLEnv))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Auth.SessionLifetime <= 0 {
		errs = append(errs, errors.New("auth.session_lifetime must be positive"))
	}
	if c.Auth.ResetTokenLifetime <= 0 {
		errs = append(errs, errors.New("auth.reset_token_lifetime must be positive"))
	}
	if c.Auth.SweepInterval < 0 {
		errs = append(errs, errors.New("auth.sweep_interval must not be negative"))
	}
	if c.HTTP.RateLimit.RequestsPerMinute < 0 || c.HTTP.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("http.rate_limit values must not be negative"))
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, errors.New("database.min_conns must not exceed database.max_conns"))
	}
	if len(errs) > 0 {
		return oops.Code("CONFIG_INVALID").Wrap(errors.Join(errs...))
	}
	return nil
}

// Policy returns the auth token lifetimes.
func (c *Config) Policy() auth.Policy {
	return auth.Policy{
		SessionLifetime:    c.Auth.SessionLifetime.Std(),
		ResetTokenLifetime: c.Auth.ResetTokenLifetime.Std(),
	}
}

// Hasher builds the configured password hasher.
func (c *Config) Hasher() (*auth.UpgradingHasher, error) {
	return auth.NewHasher(c.Auth.HashAlgorithm, auth.Argon2Params{
		Time:      c.Auth.Argon2.Time,
		MemoryKiB: c.Auth.Argon2.MemoryKiB,
		Threads:   c.Auth.Argon2.Threads,
	}, c.Auth.BcryptCost)
}

// ConnectConfig returns the postgres pool settings.
func (c *Config) ConnectConfig() postgres.ConnectConfig {
	return postgres.ConnectConfig{
		MaxConns:       c.Database.MaxConns,
		MinConns:       c.Database.MinConns,
		ConnectRetries: c.Database.ConnectRetries,
		RetryBase:      c.Database.RetryBase.Std(),
		RetryCap:       c.Database.RetryCap.Std(),
	}
}

// LoadOptions says where Load reads from.
type LoadOptions struct {
	// File is the YAML config path. Empty skips the file.
	File string
	// Required makes a missing File an error; otherwise it is skipped.
	Required bool
	// EnvFile is a dotenv file loaded into the environment when it exists.
	EnvFile string
	// Flags are applied last. Only flags named in FlagKeys and explicitly
	// set on the command line override other sources.
	Flags *pflag.FlagSet
}

// FlagKeys maps command-line flag names onto config keys.
var FlagKeys = map[string]string{
	"store":          "store",
	"database-url":   "database_url",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"http-addr":      "http.addr",
	"metrics-addr":   "metrics.addr",
	"control-addr":   "control.addr",
	"sweep-interval": "auth.sweep_interval",
}

// Load builds a Config from the layered sources and validates it.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, oops.Code("CONFIG_ENV_FILE_INVALID").With("path", opts.EnvFile).Wrap(err)
		}
	}

	k := koanf.New(".")

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		switch {
		case errors.Is(err, os.ErrNotExist) && !opts.Required:
		case err != nil:
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", opts.File).Wrap(err)
		default:
			if err := ValidateYAML(data); err != nil {
				return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", opts.File).Wrap(err)
			}
			if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", opts.File).Wrap(err)
			}
		}
	}

	if dsn, ok := os.LookupEnv(DatabaseURLEnv); ok && dsn != "" {
		if err := k.Set("database_url", dsn); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration as YAML to path. An existing
// file is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}

	cfg := Default()
	enc := yamlv3.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		_ = f.Close()
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
