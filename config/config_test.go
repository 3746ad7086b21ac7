package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localloop/core"
)

func TestLoad(t *testing.T) {
	t.Setenv("LOCALLOOP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, AdapterMemory, cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, int64(20), cfg.Impact.RuleTable().Points(core.ActionSellEventTicket))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LOCALLOOP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("LOCALLOOP_SERVER_ADDR", ":9999")
	t.Setenv("LOCALLOOP_STORAGE_ADAPTER", "redis")
	t.Setenv("LOCALLOOP_REDIS_ADDR", "cache:6379")
	t.Setenv("LOCALLOOP_IMPACT_RULES", "sell_product:25,repair_cafe:12")
	t.Setenv("LOCALLOOP_WEBHOOK_ENDPOINTS", "https://a.example/hook,https://b.example/hook")
	t.Setenv("LOCALLOOP_TRIGGERS_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, AdapterRedis, cfg.Storage.Adapter)
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
	rules := cfg.Impact.RuleTable()
	assert.Equal(t, int64(25), rules.Points(core.ActionSellProduct))
	assert.Equal(t, int64(12), rules.Points("repair_cafe"))
	assert.Equal(t, int64(5), rules.Points(core.ActionBuyProduct))
	assert.Len(t, cfg.Webhooks.Endpoints, 2)
	assert.Equal(t, 3*time.Second, cfg.Triggers.Timeout)
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LOCALLOOP_SERVER_PATH_PREFIX=/impact\n"), 0o600))
	t.Setenv("LOCALLOOP_ENV_FILE", path)
	// godotenv sets the variable on the process; clear it when the test ends.
	t.Setenv("LOCALLOOP_SERVER_PATH_PREFIX", "")
	require.NoError(t, os.Unsetenv("LOCALLOOP_SERVER_PATH_PREFIX"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/impact", cfg.Server.PathPrefix)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("LOCALLOOP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	configContent := `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "file",
			"file": {"path": "/tmp/impact.json"}
		},
		"impact": {
			"ladder": [
				{"name": "Seedling", "threshold": 0},
				{"name": "Gardener", "threshold": 100}
			]
		}
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, AdapterFile, cfg.Storage.Adapter)
	assert.Equal(t, "/tmp/impact.json", cfg.Storage.File.Path)
	ladder := cfg.Impact.BadgeLadder()
	require.Len(t, ladder, 2)
	assert.Equal(t, "Gardener", ladder[1].Name)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "empty environment", mutate: func(c *Config) { c.Environment = "" }, errMsg: "environment cannot be empty"},
		{name: "bad adapter", mutate: func(c *Config) { c.Storage.Adapter = "mongo" }, errMsg: "adapter must be one of"},
		{name: "file without path", mutate: func(c *Config) { c.Storage.Adapter = AdapterFile; c.Storage.File.Path = "" }, errMsg: "path cannot be empty"},
		{name: "firestore without project", mutate: func(c *Config) { c.Storage.Adapter = AdapterFirestore }, errMsg: "project_id"},
		{name: "sql bad driver", mutate: func(c *Config) { c.Storage.Adapter = AdapterSQL; c.Storage.SQL.Driver = "oracle" }, errMsg: "driver must be one of"},
		{name: "negative rule", mutate: func(c *Config) { c.Impact.Rules = map[string]int64{"sell_product": -1} }, errMsg: "must not be negative"},
		{name: "unordered ladder", mutate: func(c *Config) {
			c.Impact.Ladder = core.Ladder{{Name: "A", Threshold: 10}, {Name: "B", Threshold: 5}}
		}, errMsg: "must exceed"},
		{name: "listener without firestore", mutate: func(c *Config) { c.Triggers.FirestoreListener = true }, errMsg: "firestore_listener"},
		{name: "zero workers", mutate: func(c *Config) { c.Triggers.Workers = 0 }, errMsg: "workers must be positive"},
		{name: "relative webhook", mutate: func(c *Config) { c.Webhooks.Endpoints = []string{"/hook"} }, errMsg: "endpoints[0]"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, errMsg: "level must be one of"},
		{name: "rate limit without rpm", mutate: func(c *Config) {
			c.Security.EnableRateLimit = true
			c.Security.RateLimit.RequestsPerMinute = 0
		}, errMsg: "requests_per_minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestProfiles(t *testing.T) {
	t.Setenv("LOCALLOOP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	tests := []struct {
		name         string
		profileName  string
		expectConfig bool
		environment  Environment
		adapter      string
	}{
		{"development", "development", true, EnvDevelopment, AdapterMemory},
		{"testing", "testing", true, EnvTesting, AdapterMemory},
		{"staging", "staging", true, EnvStaging, AdapterRedis},
		{"production", "production", true, EnvProduction, AdapterFirestore},
		{"unknown", "unknown", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadProfile(tt.profileName)
			if tt.expectConfig {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				assert.Equal(t, tt.environment, cfg.Environment)
				assert.Equal(t, tt.adapter, cfg.Storage.Adapter)
			} else {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			}
		})
	}
}

func TestProductionProfileNeedsProject(t *testing.T) {
	t.Setenv("LOCALLOOP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg, err := LoadProfile("production")
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	cfg.Storage.Firestore.ProjectID = "localloop-prod"
	assert.NoError(t, cfg.Validate())
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "postgres://user:hunter2@db/localloop"
	cfg.Storage.Redis.Password = "s3cret"
	cfg.Security.APIKeys = []string{"key-1"}

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "key-1")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "s3cret", cfg.Storage.Redis.Password)
}

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "config.json")
	txtPath := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(txtPath, []byte("{}"), 0o600))

	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"valid json file", jsonPath, false},
		{"empty path", "", true},
		{"path traversal", "../../../etc/passwd", true},
		{"non-json file", txtPath, true},
		{"nonexistent file", filepath.Join(dir, "nonexistent.json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
