// Package loopback receives the authorization redirect for command-line
// logins on a short-lived 127.0.0.1 listener.
package loopback
