// Package logging provides the structured, subsystem-tagged logger used across
// tokenward.
//
// It is a thin layer over log/slog. Every entry carries a subsystem attribute
// so output from the discovery cache, the token exchanger, the session manager
// and the web front-end can be told apart.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, logging.FormatJSON, os.Stderr)
//
//	logging.Info("Session", "Principal %s authenticated", logging.TruncateID(p.String()))
//	logging.Debug("Discovery", "Fetching %s", url)
//	logging.Error("Exchanger", err, "Refresh failed")
//
// Token values must never be passed to these functions. Use TruncateID for
// principals, session identifiers and state values, and oauth.RedactedToken
// when a token-bearing value has to be formatted.
package logging
