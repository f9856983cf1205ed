// Package config loads tokenward's configuration.
//
// Configuration is read from config.yaml inside a single directory. The
// default directory is ~/.config/tokenward; commands accept --config-path
// to use another one.
//
// Values are layered: built-in defaults, then the file, then environment
// variables (TOKENWARD_ISSUER, TOKENWARD_DISCOVERY_URL, TOKENWARD_CLIENT_ID,
// TOKENWARD_CLIENT_SECRET, TOKENWARD_REDIRECT_URI and
// TOKENWARD_STORE_ENCRYPTION_KEY). Validate reports every problem at once.
//
// Example:
//
//	provider:
//	  issuer: https://sso.example.com
//	  clientID: my-client
//	  scopes: [openid, profile, configuration, email]
//	session:
//	  expiryMargin: 30s
//	store:
//	  type: file
//	server:
//	  port: 8085
//	api:
//	  baseURL: https://api.example.com/v2
package config
