package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Audio     AudioConfig     `yaml:"audio"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains WebSocket server configuration.
type ServerConfig struct {
	BindAddress  string `yaml:"bind_address"`
	Port         int    `yaml:"port"`
	Path         string `yaml:"path"`           // WebSocket endpoint path
	ReadLimit    int64  `yaml:"read_limit"`     // Max inbound message size in bytes
	WriteTimeout int    `yaml:"write_timeout"`  // Seconds
}

// HTTPConfig contains the HTTP API server configuration.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// AudioConfig contains capture and container parameters.
type AudioConfig struct {
	Dir        string `yaml:"dir"`         // Directory for .raw and .wav artifacts
	SampleRate int    `yaml:"sample_rate"`
	PromptFile string `yaml:"prompt_file"` // Pre-recorded prompt payload pushed to peers
	DecodeMode string `yaml:"decode_mode"` // "passthrough" (u-law tagged) or "pcm" (expanded)
}

// PlaybackConfig contains the duration-gated policy thresholds, in seconds
// of peer-reported stream position.
type PlaybackConfig struct {
	PromptAt     float64 `yaml:"prompt_at"`
	PauseAt      float64 `yaml:"pause_at"`
	DisconnectAt float64 `yaml:"disconnect_at"`
}

// TranscodeConfig contains conversion configuration.
type TranscodeConfig struct {
	Mode          string   `yaml:"mode"`           // "inprocess" or "external"
	Command       []string `yaml:"command"`        // External converter argv prefix
	MaxConcurrent int      `yaml:"max_concurrent"`
	Timeout       int      `yaml:"timeout"`        // Seconds, external mode only
}

// SessionConfig contains session lifecycle configuration.
type SessionConfig struct {
	IdleTimeout int `yaml:"idle_timeout"` // Seconds; 0 disables eviction
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that runs without a config file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  "0.0.0.0",
			Port:         8080,
			Path:         "/audiohook",
			ReadLimit:    1 << 20,
			WriteTimeout: 10,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8081,
		},
		Audio: AudioConfig{
			Dir:        "audio",
			SampleRate: 8000,
			DecodeMode: "passthrough",
		},
		Playback: PlaybackConfig{
			PromptAt:     10,
			PauseAt:      15,
			DisconnectAt: 20,
		},
		Transcode: TranscodeConfig{
			Mode:          "inprocess",
			MaxConcurrent: 4,
			Timeout:       30,
		},
		Session: SessionConfig{
			IdleTimeout: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Values not present in the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the complete configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Transcode.Validate(); err != nil {
		return fmt.Errorf("transcode config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates WebSocket server configuration.
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.Path == "" || s.Path[0] != '/' {
		return fmt.Errorf("path must start with '/', got %q", s.Path)
	}

	if s.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", s.ReadLimit)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	return nil
}

// Validate validates HTTP API configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when the HTTP API is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	if a.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if a.SampleRate != 8000 {
		return fmt.Errorf("sample_rate must be 8000 Hz for u-law telephony audio, got %d", a.SampleRate)
	}

	if a.DecodeMode != "passthrough" && a.DecodeMode != "pcm" {
		return fmt.Errorf("decode_mode must be 'passthrough' or 'pcm', got %q", a.DecodeMode)
	}

	return nil
}

// Validate validates the playback policy thresholds.
func (p *PlaybackConfig) Validate() error {
	if p.PromptAt <= 0 {
		return fmt.Errorf("prompt_at must be positive, got %f", p.PromptAt)
	}

	if p.PauseAt <= p.PromptAt {
		return fmt.Errorf("pause_at (%f) must be greater than prompt_at (%f)", p.PauseAt, p.PromptAt)
	}

	if p.DisconnectAt <= p.PauseAt {
		return fmt.Errorf("disconnect_at (%f) must be greater than pause_at (%f)", p.DisconnectAt, p.PauseAt)
	}

	return nil
}

// Validate validates transcode configuration.
func (t *TranscodeConfig) Validate() error {
	switch t.Mode {
	case "inprocess":
	case "external":
		if len(t.Command) == 0 {
			return fmt.Errorf("command cannot be empty in external mode")
		}
	default:
		return fmt.Errorf("mode must be 'inprocess' or 'external', got %q", t.Mode)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", t.Timeout)
	}

	return nil
}

// Validate validates session configuration.
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", s.IdleTimeout)
	}

	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got %q", l.Format)
	}

	return nil
}

// GetIdleTimeout returns the session idle timeout as a time.Duration.
func (s *SessionConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetWriteTimeout returns the connection write timeout as a time.Duration.
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetTimeout returns the external converter timeout as a time.Duration.
func (t *TranscodeConfig) GetTimeout() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
