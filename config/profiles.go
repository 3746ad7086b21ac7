package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the preset for a deployment environment with .env and
// environment overrides applied. It does not validate: production presets
// expect a project id and API keys from the environment.
func LoadProfile(name string) (*Config, error) {
	cfg, err := profileConfig(name)
	if err != nil {
		return nil, err
	}
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}

func profileConfig(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name
	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Server.Address = "127.0.0.1:0"
		cfg.Logging.Level = "error"
		cfg.Features.Realtime = false
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = AdapterRedis
		cfg.Security.EnableRateLimit = true
	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = AdapterFirestore
		cfg.Triggers.FirestoreListener = true
		cfg.Triggers.Workers = 8
		cfg.Server.CORSOrigin = ""
		cfg.Server.ShutdownTimeout = 60 * time.Second
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 120
		cfg.Security.RateLimit.BurstSize = 20
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	return cfg, nil
}
