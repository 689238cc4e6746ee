package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/josh/pkg/config"
)

func TestLoad_DefaultsWhenNothingSet(t *testing.T) {
	cfg := config.Load("", config.Overrides{})
	assert.Equal(t, config.DefaultConcurrentWorkers, cfg.ConcurrentWorkers)
	assert.Equal(t, config.DefaultConfigDir, cfg.ConfigDir)
	assert.False(t, cfg.RemoteLeader)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("JOSH_ENDPOINT", "https://from-env.test")
	t.Setenv("JOSH_CONCURRENT_WORKERS", "9")
	t.Setenv("JOSH_REMOTE_LEADER", "true")

	cfg := config.Load("", config.Overrides{})
	assert.Equal(t, "https://from-env.test", cfg.Endpoint)
	assert.Equal(t, 9, cfg.ConcurrentWorkers)
	assert.True(t, cfg.RemoteLeader)
}

func TestLoad_FlagOverridesBeatEnv(t *testing.T) {
	t.Setenv("JOSH_ENDPOINT", "https://from-env.test")
	flagEndpoint := "https://from-flag.test"

	cfg := config.Load("", config.Overrides{Endpoint: &flagEndpoint})
	assert.Equal(t, "https://from-flag.test", cfg.Endpoint)
}

func TestLoad_MissingEnvFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Load(dir, config.Overrides{})
	assert.Equal(t, dir, cfg.ConfigDir)
	_, err := os.Stat(dir + "/.env")
	assert.Error(t, err, "sanity check: no .env file actually exists in the temp dir")
}

func TestCheckAuth_RejectsPublicCloudDefaultWithoutAPIKey(t *testing.T) {
	cfg := config.Load("", config.Overrides{})
	assert.Equal(t, config.PublicCloudEndpoint, cfg.Endpoint, "sanity check: default endpoint is the public cloud one")
	assert.Error(t, cfg.CheckAuth())
}

func TestCheckAuth_PassesOncePublicCloudAPIKeySupplied(t *testing.T) {
	apiKey := "secret"
	cfg := config.Load("", config.Overrides{APIKey: &apiKey})
	assert.NoError(t, cfg.CheckAuth())
}

func TestCheckAuth_PassesForSelfHostedEndpointWithoutAPIKey(t *testing.T) {
	endpoint := "https://self-hosted.example.test"
	cfg := config.Load("", config.Overrides{Endpoint: &endpoint})
	assert.NoError(t, cfg.CheckAuth())
}
