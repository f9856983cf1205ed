// Package app wires tokenward's components from configuration.
//
// NewApplication runs the bootstrap sequence: load config.yaml and
// environment overrides, apply flag overrides, validate, configure logging,
// then build the token store, discovery cache, exchanger, session manager,
// service account, metrics recorder and resource client. Commands use the
// resulting Services and call Close when done.
package app
