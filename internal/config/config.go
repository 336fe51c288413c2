package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Remote  RemoteConfig  `yaml:"remote"`
	Session SessionConfig `yaml:"session"`
	Batch   BatchConfig   `yaml:"batch"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RemoteConfig contains remote transcription endpoint configuration
type RemoteConfig struct {
	URL            string `yaml:"url"`
	TokenURL       string `yaml:"token_url"`
	APIKey         string `yaml:"api_key"`
	SampleRate     int    `yaml:"sample_rate"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
	CloseGrace     int    `yaml:"close_grace"`     // seconds
	UseTempToken   bool   `yaml:"use_temp_token"`
}

// SessionConfig contains streaming session management configuration
type SessionConfig struct {
	PendingEvents   int  `yaml:"pending_events"`
	IdleTimeout     int  `yaml:"idle_timeout"`     // seconds
	CleanupInterval int  `yaml:"cleanup_interval"` // seconds
	LazyStart       bool `yaml:"lazy_start"`
}

// BatchConfig contains batch transcription API configuration
type BatchConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	Timeout       int     `yaml:"timeout"`       // seconds
	PollInterval  float64 `yaml:"poll_interval"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Batch.Validate(); err != nil {
		return fmt.Errorf("batch config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates remote endpoint configuration
func (r *RemoteConfig) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if r.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if r.UseTempToken && r.TokenURL == "" {
		return fmt.Errorf("token_url cannot be empty when use_temp_token is enabled")
	}

	if r.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", r.SampleRate)
	}

	if r.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", r.ConnectTimeout)
	}

	if r.CloseGrace < 1 {
		return fmt.Errorf("close_grace must be at least 1 second, got %d", r.CloseGrace)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.PendingEvents < 1 {
		return fmt.Errorf("pending_events must be at least 1, got %d", s.PendingEvents)
	}

	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
	}

	if s.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", s.CleanupInterval)
	}

	return nil
}

// Validate validates batch transcription configuration
func (b *BatchConfig) Validate() error {
	if b.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if b.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", b.Timeout)
	}

	if b.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %f", b.PollInterval)
	}

	if b.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", b.MaxRetries)
	}

	if b.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", b.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetConnectTimeout returns the connection timeout as a time.Duration
func (r *RemoteConfig) GetConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeout) * time.Second
}

// GetCloseGrace returns the close grace period as a time.Duration
func (r *RemoteConfig) GetCloseGrace() time.Duration {
	return time.Duration(r.CloseGrace) * time.Second
}

// GetIdleTimeout returns the session idle timeout as a time.Duration
func (s *SessionConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetCleanupInterval returns the cleanup interval as a time.Duration
func (s *SessionConfig) GetCleanupInterval() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}

// GetTimeout returns the batch request timeout as a time.Duration
func (b *BatchConfig) GetTimeout() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// GetPollInterval returns the batch poll interval as a time.Duration
func (b *BatchConfig) GetPollInterval() time.Duration {
	return time.Duration(b.PollInterval * float64(time.Second))
}
