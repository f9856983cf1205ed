package app

import (
	"fmt"
	"io"
	"os"

	"tokenward/internal/config"
	"tokenward/pkg/logging"
)

// Application bootstraps tokenward: logging, configuration and services.
//
// Example usage:
//
//	application, err := app.NewApplication(app.NewConfig("", "debug", "text"))
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	defer application.Close()
//	token, err := application.Services().Manager.ValidToken(ctx, principal)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads and validates configuration, initializes logging
// and wires all services. Flag overrides in cfg win over the file.
func NewApplication(cfg *Config) (*Application, error) {
	if cfg.Tokenward == nil {
		loaded, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenward configuration: %w", err)
		}
		cfg.Tokenward = &loaded
	}

	if cfg.LogLevel != "" {
		cfg.Tokenward.Logging.Level = cfg.LogLevel
	}
	if cfg.LogFormat != "" {
		cfg.Tokenward.Logging.Format = cfg.LogFormat
	}

	if err := cfg.Tokenward.Validate(); err != nil {
		return nil, err
	}

	initLogging(cfg)

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, err
	}

	logging.Debug("Bootstrap", "Initialized for client %s against %s",
		cfg.Tokenward.Provider.ClientID, cfg.Tokenward.Provider.ResolvedDiscoveryURL())

	return &Application{config: cfg, services: services}, nil
}

func initLogging(cfg *Config) {
	level, _ := logging.ParseLevel(cfg.Tokenward.Logging.Level)

	var output io.Writer = os.Stderr
	if cfg.LogOutput != nil {
		output = cfg.LogOutput
	}
	if cfg.Silent {
		output = io.Discard
	}

	logging.Init(level, logging.Format(cfg.Tokenward.Logging.Format), output)
}

// Services returns the wired components.
func (a *Application) Services() *Services {
	return a.services
}

// Config returns the effective configuration.
func (a *Application) Config() config.Config {
	return *a.config.Tokenward
}

// Close releases resources held by the services.
func (a *Application) Close() {
	a.services.Close()
}
