package config

import "time"

// Config is the top-level configuration structure for tokenward.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	HTTP     HTTPConfig     `yaml:"http"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig identifies the OpenID provider and this client.
type ProviderConfig struct {
	Issuer       string `yaml:"issuer,omitempty"`       // Base URL; discovery is at <issuer>/.well-known/openid-configuration
	DiscoveryURL string `yaml:"discoveryURL,omitempty"` // Explicit discovery document URL, takes precedence over issuer
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret,omitempty"`

	// RedirectURI is the default callback for interactive logins. The CLI
	// replaces its port with the loopback listener's when it is a loopback URL.
	RedirectURI         string   `yaml:"redirectURI,omitempty"`
	AllowedRedirectURIs []string `yaml:"allowedRedirectURIs,omitempty"`

	Scopes       []string `yaml:"scopes,omitempty"`       // Scopes for the authorization-code flow
	ServiceScope string   `yaml:"serviceScope,omitempty"` // Scope for the client-credentials flow
}

// ResolvedDiscoveryURL returns the discovery document URL.
func (p ProviderConfig) ResolvedDiscoveryURL() string {
	if p.DiscoveryURL != "" {
		return p.DiscoveryURL
	}
	if p.Issuer == "" {
		return ""
	}
	return discoveryURL(p.Issuer)
}

// HTTPConfig bounds outbound calls.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"` // Per-request timeout (default: 30s)
}

// SessionConfig tunes the token lifecycle.
type SessionConfig struct {
	ExpiryMargin      time.Duration `yaml:"expiryMargin,omitempty"` // Tokens this close to expiry are refreshed (default: 30s)
	StateTTL          time.Duration `yaml:"stateTTL,omitempty"`     // Lifetime of a pending login (default: 10m)
	DisableRevocation bool          `yaml:"disableRevocation,omitempty"`
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreValkey = "valkey"
)

// StoreConfig selects where token sets are persisted.
type StoreConfig struct {
	// Type is memory, file or valkey. Empty lets each command choose:
	// file for the CLI, memory for serve.
	Type string `yaml:"type,omitempty"`

	Dir string `yaml:"dir,omitempty"` // File store directory (default: ~/.config/tokenward/tokens)

	// EncryptionKey is a base64 32-byte key sealing stored token sets.
	// EncryptionKeyFile is read when EncryptionKey is empty.
	EncryptionKey     string `yaml:"encryptionKey,omitempty"`
	EncryptionKeyFile string `yaml:"encryptionKeyFile,omitempty"`

	Valkey ValkeyConfig `yaml:"valkey,omitempty"`
}

// TypeOr returns the configured store type, or fallback when unset.
func (s StoreConfig) TypeOr(fallback string) string {
	if s.Type == "" {
		return fallback
	}
	return s.Type
}

// ValkeyConfig configures the Valkey store.
type ValkeyConfig struct {
	Address    string `yaml:"address,omitempty"`
	Password   string `yaml:"password,omitempty"`
	DB         int    `yaml:"db,omitempty"`
	KeyPrefix  string `yaml:"keyPrefix,omitempty"`
	TLSEnabled bool   `yaml:"tlsEnabled,omitempty"`
}

// ServerConfig configures the web front-end.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty"` // Port to listen on (default: 8085)

	// PublicURL is how browsers reach the server; the callback is
	// <publicURL>/callback. Defaults to http://<host>:<port>.
	PublicURL       string        `yaml:"publicURL,omitempty"`
	SecureCookies   bool          `yaml:"secureCookies,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"` // Graceful shutdown limit (default: 10s)
}

// APIConfig points at the protected resource.
type APIConfig struct {
	BaseURL string `yaml:"baseURL,omitempty"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn or error (default: info)
	Format string `yaml:"format,omitempty"` // text or json (default: text)
}
