package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}

	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}

	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}

	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}

	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	validAdapters := []string{AdapterMemory, AdapterRedis, AdapterSQL, AdapterFile, AdapterFirestore}
	if !slices.Contains(validAdapters, s.Adapter) {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	switch s.Adapter {
	case AdapterFile:
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case AdapterRedis:
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case AdapterSQL:
		if err := s.SQL.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sql config: %v", err))
		}
	case AdapterFirestore:
		if s.Firestore.ProjectID == "" {
			errs = append(errs, "firestore config: project_id cannot be empty")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates SQL storage configuration
func (s *SQLConfig) Validate() error {
	var errs []string
	drivers := []string{"postgres", "mysql", "sqlite"}
	if !slices.Contains(drivers, s.Driver) {
		errs = append(errs, fmt.Sprintf("driver must be one of: %s", strings.Join(drivers, ", ")))
	}
	if s.DSN == "" {
		errs = append(errs, "dsn cannot be empty")
	}
	if s.MaxOpenConns < 0 || s.MaxIdleConns < 0 {
		errs = append(errs, "connection pool sizes must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	if levels := []string{"debug", "info", "warn", "error"}; !slices.Contains(levels, l.Level) {
		errs = append(errs, fmt.Sprintf("level must be one of: %s", strings.Join(levels, ", ")))
	}
	if formats := []string{"json", "text"}; !slices.Contains(formats, l.Format) {
		errs = append(errs, fmt.Sprintf("format must be one of: %s", strings.Join(formats, ", ")))
	}
	if outputs := []string{"stdout", "stderr"}; !slices.Contains(outputs, l.Output) {
		errs = append(errs, fmt.Sprintf("output must be one of: %s", strings.Join(outputs, ", ")))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate checks rule overrides and the ladder.
func (c *ImpactConfig) Validate() error {
	var errs []string
	if err := c.RuleTable().Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("rules: %v", err))
	}
	if len(c.Ladder) > 0 {
		if err := c.Ladder.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("ladder: %v", err))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates trigger dispatch configuration
func (t *TriggerConfig) Validate() error {
	var errs []string
	if t.Workers <= 0 {
		errs = append(errs, "workers must be positive")
	}
	if t.QueueSize <= 0 {
		errs = append(errs, "queue_size must be positive")
	}
	if t.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates webhook configuration
func (w *WebhookConfig) Validate() error {
	var errs []string
	for i, ep := range w.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an absolute http(s) URL", i))
		}
	}
	if len(w.Endpoints) > 0 && w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive when endpoints are set")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates security settings.
func (s SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
