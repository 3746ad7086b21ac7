package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"localloop/core"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Storage adapters selectable with storage.adapter.
const (
	AdapterMemory    = "memory"
	AdapterRedis     = "redis"
	AdapterSQL       = "sql"
	AdapterFile      = "file"
	AdapterFirestore = "firestore"
)

// Config holds the complete application configuration
type Config struct {
	Environment Environment `json:"environment" env:"LOCALLOOP_ENV"`
	Profile     string      `json:"profile" env:"LOCALLOOP_PROFILE"`

	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Security SecurityConfig `json:"security"`
	Impact   ImpactConfig   `json:"impact"`
	Triggers TriggerConfig  `json:"triggers"`
	Webhooks WebhookConfig  `json:"webhooks"`
	Features FeatureConfig  `json:"features"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"LOCALLOOP_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"LOCALLOOP_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"LOCALLOOP_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"LOCALLOOP_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"LOCALLOOP_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"LOCALLOOP_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"LOCALLOOP_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"LOCALLOOP_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects and configures the impact store.
type StorageConfig struct {
	Adapter   string          `json:"adapter" env:"LOCALLOOP_STORAGE_ADAPTER"`
	Redis     RedisConfig     `json:"redis"`
	SQL       SQLConfig       `json:"sql"`
	File      FileConfig      `json:"file"`
	Firestore FirestoreConfig `json:"firestore"`
}

type RedisConfig struct {
	Addr         string `json:"addr" env:"LOCALLOOP_REDIS_ADDR"`
	Password     string `json:"password,omitempty" env:"LOCALLOOP_REDIS_PASSWORD"`
	DB           int    `json:"db" env:"LOCALLOOP_REDIS_DB"`
	PoolSize     int    `json:"pool_size" env:"LOCALLOOP_REDIS_POOL_SIZE"`
	KeyPrefix    string `json:"key_prefix" env:"LOCALLOOP_REDIS_KEY_PREFIX"`
	MaxTxRetries uint64 `json:"max_tx_retries" env:"LOCALLOOP_REDIS_MAX_TX_RETRIES"`
}

type SQLConfig struct {
	Driver          string        `json:"driver" env:"LOCALLOOP_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"LOCALLOOP_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"LOCALLOOP_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"LOCALLOOP_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"LOCALLOOP_SQL_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `json:"auto_migrate" env:"LOCALLOOP_SQL_AUTO_MIGRATE"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"LOCALLOOP_STORAGE_FILE_PATH"`
}

type FirestoreConfig struct {
	ProjectID  string `json:"project_id" env:"LOCALLOOP_FIRESTORE_PROJECT_ID"`
	DatabaseID string `json:"database_id" env:"LOCALLOOP_FIRESTORE_DATABASE_ID"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"LOCALLOOP_LOG_LEVEL"`
	Format     string            `json:"format" env:"LOCALLOOP_LOG_FORMAT"`
	Output     string            `json:"output" env:"LOCALLOOP_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"LOCALLOOP_LOG_ATTRIBUTES"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"LOCALLOOP_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"LOCALLOOP_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" env:"LOCALLOOP_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int `json:"burst_size" env:"LOCALLOOP_SECURITY_RATE_LIMIT_BURST"`
}

// ImpactConfig overrides the point rules and badge ladder.
type ImpactConfig struct {
	// Rules is merged over the default rule table, e.g. "sell_product:20,buy_product:5".
	Rules map[string]int64 `json:"rules,omitempty" env:"LOCALLOOP_IMPACT_RULES"`
	// Ladder replaces the default badge tiers when set (file only).
	Ladder core.Ladder `json:"ladder,omitempty"`
}

// RuleTable returns the effective rule table.
func (c ImpactConfig) RuleTable() core.RuleTable {
	return core.DefaultRules().Merge(c.Rules)
}

// BadgeLadder returns the effective ladder.
func (c ImpactConfig) BadgeLadder() core.Ladder {
	if len(c.Ladder) == 0 {
		return core.DefaultLadder()
	}
	return c.Ladder
}

// TriggerConfig controls how marketplace documents reach the impact service.
type TriggerConfig struct {
	// FirestoreListener watches the marketplace collections directly.
	FirestoreListener bool          `json:"firestore_listener" env:"LOCALLOOP_TRIGGERS_FIRESTORE_LISTENER"`
	Workers           int           `json:"workers" env:"LOCALLOOP_TRIGGERS_WORKERS"`
	QueueSize         int           `json:"queue_size" env:"LOCALLOOP_TRIGGERS_QUEUE_SIZE"`
	Timeout           time.Duration `json:"timeout" env:"LOCALLOOP_TRIGGERS_TIMEOUT"`
	// Organizers seeds the event directory (event id -> organizer uid).
	Organizers map[string]string `json:"organizers,omitempty" env:"LOCALLOOP_TRIGGERS_ORGANIZERS"`
}

type WebhookConfig struct {
	Endpoints []string      `json:"endpoints,omitempty" env:"LOCALLOOP_WEBHOOK_ENDPOINTS"`
	Timeout   time.Duration `json:"timeout" env:"LOCALLOOP_WEBHOOK_TIMEOUT"`
}

// FeatureConfig toggles the optional event consumers.
type FeatureConfig struct {
	Realtime    bool `json:"realtime" env:"LOCALLOOP_FEATURE_REALTIME"`
	Leaderboard bool `json:"leaderboard" env:"LOCALLOOP_FEATURE_LEADERBOARD"`
	Stats       bool `json:"stats" env:"LOCALLOOP_FEATURE_STATS"`
}

// Load builds the configuration from defaults (or LOCALLOOP_PROFILE), .env
// and environment variables, then validates it.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if name := os.Getenv("LOCALLOOP_PROFILE"); name != "" {
		p, err := profileConfig(name)
		if err != nil {
			return nil, err
		}
		cfg = p
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file; environment variables
// override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: AdapterMemory,
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				PoolSize:     10,
				KeyPrefix:    "impact",
				MaxTxRetries: 10,
			},
			SQL: SQLConfig{
				Driver:          "postgres",
				DSN:             "postgres://localhost:5432/localloop?sslmode=disable",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
				AutoMigrate:     true,
			},
			File: FileConfig{
				Path: "./data/localloop.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
			APIKeys: []string{},
		},
		Triggers: TriggerConfig{
			Workers:   4,
			QueueSize: 1024,
			Timeout:   10 * time.Second,
		},
		Webhooks: WebhookConfig{
			Timeout: 2 * time.Second,
		},
		Features: FeatureConfig{
			Realtime:    true,
			Leaderboard: true,
			Stats:       true,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}
	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}
	if err := c.Impact.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("impact config: %v", err))
	}
	if err := c.Triggers.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("triggers config: %v", err))
	}
	if c.Triggers.FirestoreListener && c.Storage.Adapter != AdapterFirestore {
		errs = append(errs, "triggers config: firestore_listener requires the firestore storage adapter")
	}
	if err := c.Webhooks.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("webhooks config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		keys := make([]string, len(cfg.Security.APIKeys))
		for i := range keys {
			keys[i] = "[REDACTED]"
		}
		cfg.Security.APIKeys = keys
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
