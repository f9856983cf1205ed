package app

import (
	"io"

	"tokenward/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Custom configuration directory (optional)
	ConfigPath string

	// LogLevel and LogFormat override the logging section when set.
	LogLevel  string
	LogFormat string

	// LogOutput receives log records (default: stderr). Silent discards them.
	LogOutput io.Writer
	Silent    bool

	// StoreFallback is the store backend used when none is configured.
	StoreFallback string

	// RedirectURI overrides the configured default redirect URI, e.g. with
	// the address of a loopback listener or the web front-end.
	RedirectURI string

	// Loaded configuration. When nil it is loaded from ConfigPath.
	Tokenward *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(configPath, logLevel, logFormat string) *Config {
	return &Config{
		ConfigPath:    configPath,
		LogLevel:      logLevel,
		LogFormat:     logFormat,
		StoreFallback: config.StoreFile,
	}
}
