// Package config provides Viper-based configuration loading for the arena
// session server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP/WebSocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP/WebSocket listener.
	Port int `mapstructure:"port"`
	// ShutdownTimeout bounds graceful HTTP shutdown on exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GameConfig holds the per-room simulation constants. These are fixed for
// the lifetime of the process; rooms never reconfigure at runtime.
type GameConfig struct {
	// TickRate is the number of tick firings per second per room.
	TickRate int `mapstructure:"tick_rate"`
	// MaxPlayers is the membership capacity of a single room.
	MaxPlayers int `mapstructure:"max_players"`
	// JoinPeriodTicks is how many ticks a room stays open to new joins
	// after the most recent join-window-extending action.
	JoinPeriodTicks uint64 `mapstructure:"join_period_ticks"`
	// MaxHistoryLength is how many tick broadcasts are retained for
	// replay to late joiners before the room closes to joins.
	MaxHistoryLength int `mapstructure:"max_history_length"`
	// OutboxBuffer is the per-connection outbound frame buffer size.
	OutboxBuffer int `mapstructure:"outbox_buffer"`
}

// TickInterval returns the duration between two tick firings.
//
// Precondition: TickRate must be > 0.
func (g GameConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(g.TickRate)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Game    GameConfig    `mapstructure:"game"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGame(c.Game); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	if g.TickRate < 1 || g.TickRate > 1000 {
		errs = append(errs, fmt.Sprintf("game.tick_rate must be 1-1000, got %d", g.TickRate))
	}
	if g.MaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("game.max_players must be >= 1, got %d", g.MaxPlayers))
	}
	if g.JoinPeriodTicks < 1 {
		errs = append(errs, fmt.Sprintf("game.join_period_ticks must be >= 1, got %d", g.JoinPeriodTicks))
	}
	if g.MaxHistoryLength < 1 {
		errs = append(errs, fmt.Sprintf("game.max_history_length must be >= 1, got %d", g.MaxHistoryLength))
	}
	if g.OutboxBuffer < 1 {
		errs = append(errs, fmt.Sprintf("game.outbox_buffer must be >= 1, got %d", g.OutboxBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("game.tick_rate", 60)
	v.SetDefault("game.max_players", 8)
	v.SetDefault("game.join_period_ticks", 600)
	v.SetDefault("game.max_history_length", 1800)
	v.SetDefault("game.outbox_buffer", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
