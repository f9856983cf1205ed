package config

import (
	"strings"
	"time"
)

const (
	// DefaultServerPort is where serve listens and the CLI loopback
	// listener prefers to bind.
	DefaultServerPort = 8085

	// DefaultServiceScope is requested by the client-credentials flow.
	DefaultServiceScope = "tracker"
)

// DefaultScopes are requested by interactive logins.
var DefaultScopes = []string{"openid", "profile", "configuration", "email"}

// GetDefaultConfig returns the configuration used before any file or
// environment override is applied.
func GetDefaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			Scopes:       append([]string(nil), DefaultScopes...),
			ServiceScope: DefaultServiceScope,
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		Session: SessionConfig{
			ExpiryMargin: 30 * time.Second,
			StateTTL:     10 * time.Minute,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            DefaultServerPort,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func discoveryURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
}
