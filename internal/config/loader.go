package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tokenward/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/tokenward"
	configFileName = "config.yaml"
)

// Environment variables that override the file. Secrets are usually
// supplied this way rather than written to config.yaml.
const (
	EnvIssuer        = "TOKENWARD_ISSUER"
	EnvDiscoveryURL  = "TOKENWARD_DISCOVERY_URL"
	EnvClientID      = "TOKENWARD_CLIENT_ID"
	EnvClientSecret  = "TOKENWARD_CLIENT_SECRET"
	EnvRedirectURI   = "TOKENWARD_REDIRECT_URI"
	EnvEncryptionKey = "TOKENWARD_STORE_ENCRYPTION_KEY"
)

// osUserHomeDir is swapped in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/tokenward.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath, or from the default
// directory when configPath is empty. Defaults are applied first, then the
// file, then environment overrides. A missing file is not an error.
func LoadConfig(configPath string) (Config, error) {
	if configPath == "" {
		p, err := GetDefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		configPath = p
	}

	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, &ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: "io",
			Message:   "cannot read configuration file",
			Err:       err,
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, &ConfigurationError{
				FilePath:    configFilePath,
				ErrorType:   "parse",
				Message:     "malformed YAML",
				Details:     err.Error(),
				Suggestions: []string{"Durations are written like 30s or 10m", "Check indentation of nested sections"},
				Err:         err,
			}
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	applyEnvOverrides(&config)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{EnvIssuer, &config.Provider.Issuer},
		{EnvDiscoveryURL, &config.Provider.DiscoveryURL},
		{EnvClientID, &config.Provider.ClientID},
		{EnvClientSecret, &config.Provider.ClientSecret},
		{EnvRedirectURI, &config.Provider.RedirectURI},
		{EnvEncryptionKey, &config.Store.EncryptionKey},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			*o.target = v
		}
	}
}
