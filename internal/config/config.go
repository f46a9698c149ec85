// Package config provides the configuration structure for the narrator service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	ChapterJobSubject      string `toml:"chapter_job_subject"`
	ChapterStreamSubject   string `toml:"chapter_stream_subject"`
	BookRegisterSubject    string `toml:"book_register_subject"`
	RangeJobSubject        string `toml:"range_job_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// EngineConfig holds the connection settings for the synthesis engine server.
type EngineConfig struct {
	ServiceURL     string `toml:"service_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AudioConfig holds the fixed encoding parameters for chapter audio.
type AudioConfig struct {
	BitrateKbps int `toml:"bitrate_kbps"`
}

// TelegramConfig holds the credentials for the remote blob collaborator.
// An empty token disables remote caching; synthesis still succeeds.
type TelegramConfig struct {
	Token  string `toml:"token"`
	ChatID string `toml:"chat_id"`
}

// CacheConfig holds the settings for the relational chapter cache index.
type CacheConfig struct {
	DatabasePath string `toml:"database_path"`
}

// SessionConfig bounds the in-memory EPUB upload-session cache.
type SessionConfig struct {
	MaxEntries int `toml:"max_entries"`
	TTLMinutes int `toml:"ttl_minutes"`
}

// SynthesisConfig tunes the batch orchestrator.
type SynthesisConfig struct {
	MaxTemperatureC float64 `toml:"max_temperature_c"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Engine    EngineConfig    `toml:"engine"`
	Audio     AudioConfig     `toml:"audio"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Cache     CacheConfig     `toml:"cache"`
	Session   SessionConfig   `toml:"session"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the narrator service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
