// Package session owns the token lifecycle of each principal.
//
// Manager implements the end-user state machine:
//
//	anonymous -> awaiting_callback -> authenticated -> (refreshing) -> authenticated | logged_out
//
// StartLogin issues a single-use random state, HandleCallback consumes it and
// exchanges the code, ValidToken refreshes proactively when the stored
// expiry has passed, ForceRefresh is the reactive path after a 401, and
// Logout revokes and discards. A failed refresh is the only place a
// TokenExchangeError becomes a SessionExpiredError.
//
// ServiceAccount is the client-credentials counterpart. It stores its token
// under the service principal and simply re-requests it when it expires.
package session
