package oauth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "authorization state mismatch: reused", (&StateMismatchError{Reason: "reused"}).Error())
	assert.Equal(t, "authorization state mismatch", (&StateMismatchError{}).Error())

	exErr := &TokenExchangeError{Grant: GrantRefreshToken, Reason: ReasonInvalidGrant, StatusCode: 200, Description: "revoked"}
	assert.Equal(t, "refresh_token exchange failed (invalid_grant): status 200: revoked", exErr.Error())

	assert.Contains(t, (&DiscoveryError{URL: "u", Missing: []string{"token_endpoint"}}).Error(), "token_endpoint")
	assert.Equal(t, "unauthorized: user:1 was rejected by https://api", (&UnauthorizedError{Principal: "user:1", URL: "https://api"}).Error())
}

func TestErrorMatching(t *testing.T) {
	cause := &TokenExchangeError{Grant: GrantRefreshToken, Reason: ReasonInvalidGrant}
	expired := fmt.Errorf("getting token: %w", &SessionExpiredError{Principal: "user:1", Err: cause})

	assert.True(t, IsSessionExpired(expired))
	assert.True(t, RequiresLogin(expired))
	assert.True(t, IsReason(expired, ReasonInvalidGrant))
	assert.False(t, IsReason(expired, ReasonNetwork))

	var exErr *TokenExchangeError
	assert.True(t, errors.As(expired, &exErr))

	unauthorized := fmt.Errorf("calling api: %w", &UnauthorizedError{Principal: "user:1"})
	assert.True(t, IsUnauthorized(unauthorized))
	assert.True(t, RequiresLogin(unauthorized))
	assert.False(t, RequiresLogin(errors.New("other")))
}
