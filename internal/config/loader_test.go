package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{EnvIssuer, EnvDiscoveryURL, EnvClientID, EnvClientSecret, EnvRedirectURI, EnvEncryptionKey} {
		t.Setenv(env, "")
	}
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.Equal(t, []string{"openid", "profile", "configuration", "email"}, cfg.Provider.Scopes)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()

	original := osUserHomeDir
	defer func() { osUserHomeDir = original }()
	osUserHomeDir = func() (string, error) { return home, nil }

	dir := filepath.Join(home, userConfigDir)
	require.NoError(t, os.MkdirAll(dir, 0700))
	writeConfig(t, dir, "provider:\n  clientID: from-home\n")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-home", cfg.Provider.ClientID)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `
provider:
  issuer: https://sso.example.com
  clientID: abc
  scopes: [openid, tracker]
http:
  timeout: 5s
session:
  expiryMargin: 1m
store:
  type: valkey
  valkey:
    address: localhost:6379
server:
  port: 9000
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://sso.example.com", cfg.Provider.Issuer)
	assert.Equal(t, "https://sso.example.com/.well-known/openid-configuration", cfg.Provider.ResolvedDiscoveryURL())
	assert.Equal(t, []string{"openid", "tracker"}, cfg.Provider.Scopes)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, time.Minute, cfg.Session.ExpiryMargin)
	assert.Equal(t, 10*time.Minute, cfg.Session.StateTTL, "untouched fields keep defaults")
	assert.Equal(t, "localhost:6379", cfg.Store.Valkey.Address)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "provider:\n  issuer: https://file.example.com\n  clientID: from-file\n")

	t.Setenv(EnvClientID, "from-env")
	t.Setenv(EnvClientSecret, "s3cret")
	t.Setenv(EnvDiscoveryURL, "https://env.example.com/openid")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.ClientID)
	assert.Equal(t, "s3cret", cfg.Provider.ClientSecret)
	assert.Equal(t, "https://env.example.com/openid", cfg.Provider.ResolvedDiscoveryURL())
}

func TestLoadConfig_Malformed(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "provider: [not, a, map\n")

	_, err := LoadConfig(dir)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "parse", cfgErr.ErrorType)
	assert.Contains(t, cfgErr.DetailedError(), "Suggestions:")
}
