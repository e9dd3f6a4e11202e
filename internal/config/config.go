// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads emailpassword configuration from defaults, an
// optional YAML file, command-line flags and the environment, in that order
// of increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	ep "github.com/holomush/emailpassword/internal/emailpassword"
)

// Backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the process configuration.
type Config struct {
	DatabaseURL           string        `koanf:"database_url" env:"DATABASE_URL"`
	Backend               string        `koanf:"backend" env:"EMAILPASSWORD_BACKEND"`
	LogFormat             string        `koanf:"log_format" env:"EMAILPASSWORD_LOG_FORMAT"`
	MetricsAddr           string        `koanf:"metrics_addr" env:"EMAILPASSWORD_METRICS_ADDR"`
	KeyTTL                time.Duration `koanf:"key_ttl" env:"EMAILPASSWORD_KEY_TTL"`
	CommitRetries         uint64        `koanf:"commit_retries" env:"EMAILPASSWORD_COMMIT_RETRIES"`
	CommitBackoff         time.Duration `koanf:"commit_backoff" env:"EMAILPASSWORD_COMMIT_BACKOFF"`
	ThirdPartyResetPolicy string        `koanf:"third_party_reset_policy" env:"EMAILPASSWORD_THIRD_PARTY_RESET_POLICY"`
}

// Default returns the built-in configuration.
func Default() Config {
	svc := ep.DefaultConfig()
	return Config{
		Backend:               BackendPostgres,
		LogFormat:             "json",
		MetricsAddr:           "127.0.0.1:9101",
		KeyTTL:                svc.KeyTTL,
		CommitRetries:         svc.CommitRetries,
		CommitBackoff:         svc.CommitBackoff,
		ThirdPartyResetPolicy: string(svc.ThirdPartyResetPolicy),
	}
}

func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"database_url":             d.DatabaseURL,
		"backend":                  d.Backend,
		"log_format":               d.LogFormat,
		"metrics_addr":             d.MetricsAddr,
		"key_ttl":                  d.KeyTTL,
		"commit_retries":           d.CommitRetries,
		"commit_backoff":           d.CommitBackoff,
		"third_party_reset_policy": d.ThirdPartyResetPolicy,
	}
}

// RegisterFlags adds a flag per configuration key. Dashes in flag names map
// to underscores in keys.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("database-url", d.DatabaseURL, "PostgreSQL connection URL")
	flags.String("backend", d.Backend, "storage backend (postgres or memory)")
	flags.String("log-format", d.LogFormat, "log format (json or text)")
	flags.String("metrics-addr", d.MetricsAddr, "metrics and health listen address (empty disables)")
	flags.Duration("key-ttl", d.KeyTTL, "lifetime of verification keys")
	flags.Uint64("commit-retries", d.CommitRetries, "retries after a concurrent modification")
	flags.Duration("commit-backoff", d.CommitBackoff, "initial backoff between commit retries")
	flags.String("third-party-reset-policy", d.ThirdPartyResetPolicy, "password reset for third-party emails (hint or ignore)")
}

// Load reads the configuration. A missing file at path is ignored unless
// required is set; flags may be nil.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
			}
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return oops.Code("CONFIG_INVALID").With("key", "database_url").
				Errorf("database_url is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return oops.Code("CONFIG_INVALID").With("key", "backend").
			Errorf("backend must be %q or %q, got %q", BackendPostgres, BackendMemory, c.Backend)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").With("key", "log_format").
			Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	if c.KeyTTL <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "key_ttl").Errorf("key_ttl must be positive")
	}
	if c.CommitRetries == 0 {
		return oops.Code("CONFIG_INVALID").With("key", "commit_retries").Errorf("commit_retries must be at least 1")
	}
	if c.CommitBackoff <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "commit_backoff").Errorf("commit_backoff must be positive")
	}
	switch ep.ResetPolicy(c.ThirdPartyResetPolicy) {
	case ep.ResetPolicyHint, ep.ResetPolicyIgnore:
	default:
		return oops.Code("CONFIG_INVALID").With("key", "third_party_reset_policy").
			Errorf("third_party_reset_policy must be hint or ignore, got %q", c.ThirdPartyResetPolicy)
	}
	return nil
}

// Service returns the workflow tunables.
func (c *Config) Service() ep.Config {
	return ep.Config{
		KeyTTL:                c.KeyTTL,
		CommitRetries:         c.CommitRetries,
		CommitBackoff:         c.CommitBackoff,
		ThirdPartyResetPolicy: ep.ResetPolicy(c.ThirdPartyResetPolicy),
	}
}
