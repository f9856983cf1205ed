// Package oauth implements the provider-facing half of tokenward: discovery
// of the provider's OpenID configuration, the token endpoint grants, token
// revocation and userinfo.
//
// # Discovery
//
// DiscoveryCache fetches the configuration document once per process. The
// document must advertise authorization, token, userinfo and revocation
// endpoints; anything less is a DiscoveryError.
//
// # Exchanges
//
// Exchanger performs the authorization_code, refresh_token and
// client_credentials grants. Every failure is a TokenExchangeError whose
// Reason is one of:
//
//   - invalid_grant: the provider rejected the grant. This includes 2xx
//     responses whose body carries "error", "error_description" or
//     "description", which some providers use to report revoked tokens.
//   - network: transport failures, 5xx responses, and 404/410 responses
//     (which also invalidate the discovery cache).
//   - malformed_response: a 2xx body that is not JSON or has no access_token.
//
// # Principals
//
// A Principal is "user:<id>" for end users and "service:<client_id>" for
// client-credentials tokens. The session layer keys stored token sets by it.
package oauth
