// Package apiclient calls protected resources with a managed bearer token.
//
// Client.Do attaches the principal's current access token. When the
// resource answers 401 the token is force-refreshed and the request is sent
// once more; a second 401 ends the session. No other status is retried.
package apiclient
