package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// loadFromEnv overrides cfg with any LOCALLOOP_* variables that are set.
// Slices are comma separated; maps use "key:value,key2:value2".
// The badge ladder is file-only and survives the parse untouched.
func loadFromEnv(cfg *Config) error {
	ladder := cfg.Impact.Ladder
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	cfg.Impact.Ladder = ladder
	return nil
}

// loadDotEnv reads LOCALLOOP_ENV_FILE (default ".env") into the process
// environment without overriding variables that are already set.
func loadDotEnv() error {
	path := os.Getenv("LOCALLOOP_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
