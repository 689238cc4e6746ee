package config

// Built-in defaults, the lowest-precedence layer. Everything else
// (.env file, process environment, CLI flags) only ever overrides
// these.
const (
	DefaultConcurrentWorkers = 4
	DefaultConfigDir         = "./deploy/config"

	// PublicCloudEndpoint is the hosted leader a caller gets by doing
	// nothing: no --endpoint, no JOSH_ENDPOINT, no .env entry. It
	// requires an API key; anything else (a self-hosted leader) is
	// opaque to this module and may or may not.
	PublicCloudEndpoint = "https://simulate.josh.cloud"
)

func defaultConfig() *Config {
	return &Config{
		Endpoint:          PublicCloudEndpoint,
		ConcurrentWorkers: DefaultConcurrentWorkers,
		RemoteLeader:      false,
		UseFloat64:        false,
		ConfigDir:         DefaultConfigDir,
	}
}
