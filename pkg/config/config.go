// Package config loads josh's configuration through four precedence
// layers — built-in defaults, an optional .env file, the process
// environment, then CLI flags — in the env-file-plus-explicit-override
// style common across the rest of this module.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/josh/pkg/josherr"
)

// Config is immutable once Load returns. It is threaded explicitly
// into every strategy/batch constructor; there is no package-level
// global.
type Config struct {
	Endpoint          string
	APIKey            string
	ConcurrentWorkers int
	RemoteLeader      bool
	UseFloat64        bool
	ConfigDir         string
}

// Overrides holds CLI-flag-sourced values. A nil field means "the flag
// was not explicitly set"; only non-nil fields beat the environment
// layer.
type Overrides struct {
	Endpoint          *string
	APIKey            *string
	ConcurrentWorkers *int
	RemoteLeader      *bool
	UseFloat64        *bool
}

// Load resolves a Config from defaults, an optional .env file under
// configDir, the process environment, and finally overrides. A missing
// or unreadable .env file is not an error — it is silently optional.
func Load(configDir string, overrides Overrides) *Config {
	cfg := defaultConfig()
	if configDir != "" {
		cfg.ConfigDir = configDir
	}

	_ = godotenv.Load(filepath.Join(cfg.ConfigDir, ".env"))

	applyEnv(cfg)
	applyOverrides(cfg, overrides)
	return cfg
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("JOSH_ENDPOINT"); ok {
		cfg.Endpoint = v
	}
	if v, ok := os.LookupEnv("JOSH_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("JOSH_CONCURRENT_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ConcurrentWorkers = n
		}
	}
	if v, ok := os.LookupEnv("JOSH_REMOTE_LEADER"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RemoteLeader = b
		}
	}
	if v, ok := os.LookupEnv("JOSH_USE_FLOAT_64"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseFloat64 = b
		}
	}
}

// CheckAuth fails before any network I/O when the endpoint requires an
// API key this Config doesn't have. The only endpoint this module
// knows to require one is PublicCloudEndpoint; a self-hosted leader's
// auth requirements are opaque to it, so those are left for the
// endpoint itself to reject.
func (cfg *Config) CheckAuth() error {
	if cfg.APIKey != "" {
		return nil
	}
	if cfg.Endpoint != PublicCloudEndpoint {
		return nil
	}
	return josherr.Auth("%s requires an API key; set --api-key or JOSH_API_KEY", PublicCloudEndpoint).WithEndpoint(cfg.Endpoint)
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Endpoint != nil {
		cfg.Endpoint = *o.Endpoint
	}
	if o.APIKey != nil {
		cfg.APIKey = *o.APIKey
	}
	if o.ConcurrentWorkers != nil {
		cfg.ConcurrentWorkers = *o.ConcurrentWorkers
	}
	if o.RemoteLeader != nil {
		cfg.RemoteLeader = *o.RemoteLeader
	}
	if o.UseFloat64 != nil {
		cfg.UseFloat64 = *o.UseFloat64
	}
}
