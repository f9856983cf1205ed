package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"tokenward/internal/tokenstore"
	"tokenward/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is one of the allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateURL checks that value is an absolute http or https URL.
func ValidateURL(field, value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "must be an absolute http(s) URL",
		}
	}
	return nil
}

// Validate checks the configuration and returns every problem found as
// ValidationErrors, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors

	add := func(err error) {
		if ve, ok := err.(ValidationError); ok {
			errs = append(errs, ve)
		}
	}

	switch {
	case c.Provider.DiscoveryURL != "":
		add(ValidateURL("provider.discoveryURL", c.Provider.DiscoveryURL))
	case c.Provider.Issuer != "":
		add(ValidateURL("provider.issuer", c.Provider.Issuer))
	default:
		errs.Add("provider.issuer", "either provider.issuer or provider.discoveryURL is required")
	}

	if strings.TrimSpace(c.Provider.ClientID) == "" {
		errs.Add("provider.clientID", "is required")
	}
	if c.Provider.RedirectURI != "" {
		add(ValidateURL("provider.redirectURI", c.Provider.RedirectURI))
	}
	for i, uri := range c.Provider.AllowedRedirectURIs {
		add(ValidateURL(fmt.Sprintf("provider.allowedRedirectURIs[%d]", i), uri))
	}
	if len(c.Provider.Scopes) == 0 {
		errs.Add("provider.scopes", "must have at least one scope")
	}

	if c.HTTP.Timeout <= 0 {
		errs.Add("http.timeout", "must be positive", c.HTTP.Timeout)
	}
	if c.Session.ExpiryMargin < 0 {
		errs.Add("session.expiryMargin", "must not be negative", c.Session.ExpiryMargin)
	}
	if c.Session.StateTTL <= 0 {
		errs.Add("session.stateTTL", "must be positive", c.Session.StateTTL)
	}

	if c.Store.Type != "" {
		add(ValidateOneOf("store.type", c.Store.Type, []string{StoreMemory, StoreFile, StoreValkey}))
	}
	if c.Store.Type == StoreValkey && c.Store.Valkey.Address == "" {
		errs.Add("store.valkey.address", "is required for the valkey store")
	}
	if c.Store.EncryptionKey != "" {
		if _, err := tokenstore.ParseKey(c.Store.EncryptionKey); err != nil {
			errs.Add("store.encryptionKey", err.Error())
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535", c.Server.Port)
	}
	if c.Server.PublicURL != "" {
		add(ValidateURL("server.publicURL", c.Server.PublicURL))
	}

	if c.API.BaseURL != "" {
		add(ValidateURL("api.baseURL", c.API.BaseURL))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), c.Logging.Level)
	}
	add(ValidateOneOf("logging.format", c.Logging.Format, []string{string(logging.FormatText), string(logging.FormatJSON)}))

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ResolveEncryptionKey returns the base64 store sealing key, reading
// EncryptionKeyFile when no inline key is set. Empty means unsealed.
func (s StoreConfig) ResolveEncryptionKey() (string, error) {
	encoded := s.EncryptionKey
	if encoded == "" && s.EncryptionKeyFile != "" {
		data, err := os.ReadFile(s.EncryptionKeyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read encryption key file: %w", err)
		}
		encoded = strings.TrimSpace(string(data))
	}
	if encoded == "" {
		return "", nil
	}
	if _, err := tokenstore.ParseKey(encoded); err != nil {
		return "", err
	}
	return encoded, nil
}

// StoreOptions translates the store section for tokenstore.Open.
// fallbackType applies when no type is configured.
func (s StoreConfig) StoreOptions(fallbackType string) (tokenstore.Options, error) {
	key, err := s.ResolveEncryptionKey()
	if err != nil {
		return tokenstore.Options{}, err
	}
	return tokenstore.Options{
		Type:          s.TypeOr(fallbackType),
		Dir:           s.Dir,
		EncryptionKey: key,
		Valkey: tokenstore.ValkeyConfig{
			Address:    s.Valkey.Address,
			Password:   s.Valkey.Password,
			DB:         s.Valkey.DB,
			KeyPrefix:  s.Valkey.KeyPrefix,
			TLSEnabled: s.Valkey.TLSEnabled,
		},
	}, nil
}
