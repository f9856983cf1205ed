// Package tokenstore persists OAuth token sets keyed by principal.
//
// Three backends implement Store: MemoryStore for a single process,
// FileStore for the CLI (one 0600 file per principal, optionally sealed with
// NaCl secretbox), and ValkeyStore for deployments where several processes
// share sessions. Token values are never logged.
package tokenstore
