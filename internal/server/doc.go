// Package server is a small web front-end over the session manager.
//
// Routes:
//
//	GET /          sign-in link, or the signed-in user's userinfo document
//	GET /login     start an authorization-code flow
//	GET /callback  complete it
//	GET /logout    revoke and forget the session
//	GET /api/*     proxy to the protected resource with the user's token
//	GET /healthz   liveness
//	GET /metrics   Prometheus metrics
//
// Browsers hold only an opaque session cookie; token sets stay in the
// configured token store. A state is accepted only from the browser it was
// issued to.
package server
