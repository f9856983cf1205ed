package oauth

import (
	"errors"
	"fmt"
)

// ExchangeFailureReason classifies why a token endpoint exchange failed.
type ExchangeFailureReason string

const (
	// ReasonInvalidGrant means the provider rejected the grant, either with a
	// 4xx status or with an error marker in an otherwise successful response.
	ReasonInvalidGrant ExchangeFailureReason = "invalid_grant"

	// ReasonNetwork covers transport failures and provider-side 5xx errors.
	ReasonNetwork ExchangeFailureReason = "network"

	// ReasonMalformedResponse means a 2xx body could not be used as a token.
	ReasonMalformedResponse ExchangeFailureReason = "malformed_response"
)

// DiscoveryError reports that the provider's configuration document could
// not be fetched or lacks required endpoints.
type DiscoveryError struct {
	URL     string
	Missing []string
	Err     error
}

func (e *DiscoveryError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("discovery document %s is missing %v", e.URL, e.Missing)
	case e.Err != nil:
		return fmt.Sprintf("discovery of %s failed: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("discovery of %s failed", e.URL)
	}
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// StateMismatchError reports a callback whose state is unknown, expired or
// already used. It is terminal for that login attempt.
type StateMismatchError struct {
	Reason string
}

func (e *StateMismatchError) Error() string {
	if e.Reason == "" {
		return "authorization state mismatch"
	}
	return "authorization state mismatch: " + e.Reason
}

// TokenExchangeError reports a failed call to the token endpoint.
type TokenExchangeError struct {
	Grant      string
	Reason     ExchangeFailureReason
	StatusCode int

	// ErrorCode and Description carry the provider's error payload, if any.
	ErrorCode   string
	Description string

	Err error
}

func (e *TokenExchangeError) Error() string {
	msg := fmt.Sprintf("%s exchange failed (%s)", e.Grant, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.ErrorCode != "" {
		msg += ": " + e.ErrorCode
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// SessionExpiredError means the principal has no usable credentials left and
// must log in again.
type SessionExpiredError struct {
	Principal Principal
	Err       error
}

func (e *SessionExpiredError) Error() string {
	msg := "session expired"
	if e.Principal != "" {
		msg += " for " + e.Principal.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Err
}

// UnauthorizedError means a resource rejected the principal's credentials
// even after a refresh.
type UnauthorizedError struct {
	Principal Principal
	URL       string
}

func (e *UnauthorizedError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("unauthorized: %s was rejected", e.Principal)
	}
	return fmt.Sprintf("unauthorized: %s was rejected by %s", e.Principal, e.URL)
}

// IsReason reports whether err is a TokenExchangeError with the given reason.
func IsReason(err error, reason ExchangeFailureReason) bool {
	var exErr *TokenExchangeError
	return errors.As(err, &exErr) && exErr.Reason == reason
}

// IsSessionExpired reports whether err means the principal must log in again.
func IsSessionExpired(err error) bool {
	var expired *SessionExpiredError
	return errors.As(err, &expired)
}

// IsUnauthorized reports whether err is an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var unauthorized *UnauthorizedError
	return errors.As(err, &unauthorized)
}

// RequiresLogin reports whether err can only be resolved by a fresh login.
func RequiresLogin(err error) bool {
	return IsSessionExpired(err) || IsUnauthorized(err)
}
