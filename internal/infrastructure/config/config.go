package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Terminal  TerminalConfig
	Voice     VoiceConfig
	Session   SessionConfig
	Lessons   LessonConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"3001"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// TerminalConfig holds process pool configuration.
type TerminalConfig struct {
	Shell         string        `envconfig:"TERMINAL_SHELL" default:""`
	IdleTimeout   time.Duration `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"30m"`
	SweepInterval time.Duration `envconfig:"TERMINAL_SWEEP_INTERVAL" default:"5m"`
	DemoDelay     time.Duration `envconfig:"TERMINAL_DEMO_DELAY" default:"75ms"`
}

// VoiceConfig holds speech synthesis configuration.
type VoiceConfig struct {
	OutputDir       string        `envconfig:"VOICE_OUTPUT_DIR" default:"./public/audio"`
	PublicPath      string        `envconfig:"VOICE_PUBLIC_PATH" default:"/audio"`
	SynthTimeout    time.Duration `envconfig:"VOICE_SYNTH_TIMEOUT" default:"30s"`
	CleanupMaxAge   time.Duration `envconfig:"VOICE_CLEANUP_MAX_AGE" default:"1h"`
	CleanupInterval time.Duration `envconfig:"VOICE_CLEANUP_INTERVAL" default:"1h"`
}

// SessionConfig holds session registry configuration.
type SessionConfig struct {
	IdleTimeout   time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"5m"`
}

// LessonConfig holds lesson catalog configuration.
type LessonConfig struct {
	Dir string `envconfig:"LESSONS_DIR" default:"./lessons"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "3001",
			Host: "0.0.0.0",
		},
		Terminal: TerminalConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 5 * time.Minute,
			DemoDelay:     75 * time.Millisecond,
		},
		Voice: VoiceConfig{
			OutputDir:       "./public/audio",
			PublicPath:      "/audio",
			SynthTimeout:    30 * time.Second,
			CleanupMaxAge:   time.Hour,
			CleanupInterval: time.Hour,
		},
		Session: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Lessons: LessonConfig{
			Dir: "./lessons",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
