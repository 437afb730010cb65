// Copyright 2025 Joseph Cumines
//
// Configuration package for the apple-mcp server

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DotEnvFile is loaded from the working directory, if present, before the
// environment is parsed. Variables already set take precedence.
const DotEnvFile = ".env"

// Config holds the process configuration.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"APPLE_MCP_LOG_LEVEL" envDefault:"info"`
	// Client selects the ClientProfile when no --client flag is given.
	Client string `env:"APPLE_MCP_CLIENT" envDefault:"default"`
	// ProfilesFile optionally points at a YAML file of profile overrides.
	ProfilesFile string `env:"APPLE_MCP_PROFILES_FILE"`
	// AuditLogFile enables the JSON audit log of tool invocations.
	AuditLogFile string `env:"APPLE_MCP_AUDIT_LOG"`
	// MetricsFile, when set, receives tool call metrics in Prometheus text
	// format at shutdown.
	MetricsFile string `env:"APPLE_MCP_METRICS_FILE"`
	// MessagesDB is the Messages database path. Defaults to
	// ~/Library/Messages/chat.db.
	MessagesDB string `env:"APPLE_MCP_MESSAGES_DB"`
	// Osascript is the osascript binary.
	Osascript string `env:"APPLE_MCP_OSASCRIPT" envDefault:"osascript"`
	// EagerTimeout bounds startup module loading.
	EagerTimeout time.Duration `env:"APPLE_MCP_EAGER_TIMEOUT" envDefault:"5s"`
	// SettleDelay is the wait after launching an application.
	SettleDelay time.Duration `env:"APPLE_MCP_SETTLE_DELAY" envDefault:"2s"`
	// ScriptTimeout bounds each osascript run. Zero disables the bound.
	ScriptTimeout time.Duration `env:"APPLE_MCP_SCRIPT_TIMEOUT" envDefault:"0s"`
	// PreviewLength bounds record content fields, in runes.
	PreviewLength int `env:"APPLE_MCP_PREVIEW_LENGTH" envDefault:"500"`
}

// Load loads the configuration from the environment, after merging in
// DotEnvFile when it exists.
func Load() (*Config, error) {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.MessagesDB == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.MessagesDB = filepath.Join(home, "Library", "Messages", "chat.db")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.EagerTimeout <= 0 {
		return fmt.Errorf("invalid value for APPLE_MCP_EAGER_TIMEOUT: %s (must be positive)", c.EagerTimeout)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("invalid value for APPLE_MCP_SETTLE_DELAY: %s (must not be negative)", c.SettleDelay)
	}
	if c.ScriptTimeout < 0 {
		return fmt.Errorf("invalid value for APPLE_MCP_SCRIPT_TIMEOUT: %s (must not be negative)", c.ScriptTimeout)
	}
	if c.PreviewLength < 4 {
		return fmt.Errorf("invalid value for APPLE_MCP_PREVIEW_LENGTH: %d (must be at least 4)", c.PreviewLength)
	}
	if c.Osascript == "" {
		return errors.New("osascript path cannot be empty")
	}
	return nil
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %q (must be debug, info, warn or error)", s)
	}
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
