package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"tokenward/internal/tokenstore"
	"tokenward/pkg/logging"
	"tokenward/pkg/oauth"
)

// ServiceAccount obtains and caches client-credentials tokens under the
// client's service principal. It never touches user principals.
type ServiceAccount struct {
	exchanger Exchanger
	store     tokenstore.Store
	principal oauth.Principal
	scope     string
	margin    time.Duration
	timeout   time.Duration
	now       func() time.Time

	group singleflight.Group
}

// NewServiceAccount creates a token source for clientID's own credentials.
func NewServiceAccount(exchanger Exchanger, store tokenstore.Store, clientID, scope string, margin time.Duration, now func() time.Time) *ServiceAccount {
	if margin <= 0 {
		margin = oauth.DefaultExpiryMargin
	}
	if now == nil {
		now = time.Now
	}
	return &ServiceAccount{
		exchanger: exchanger,
		store:     store,
		principal: oauth.ServicePrincipal(clientID),
		scope:     scope,
		margin:    margin,
		timeout:   oauth.DefaultHTTPTimeout,
		now:       now,
	}
}

// Principal returns the service principal tokens are stored under.
func (s *ServiceAccount) Principal() oauth.Principal {
	return s.principal
}

func (s *ServiceAccount) check(principal oauth.Principal) error {
	if principal != s.principal {
		return fmt.Errorf("service account %s cannot act for %s", s.principal, principal)
	}
	return nil
}

// ValidToken returns the cached token, requesting a new one when there is
// none or it has expired.
func (s *ServiceAccount) ValidToken(ctx context.Context, principal oauth.Principal) (string, error) {
	if err := s.check(principal); err != nil {
		return "", err
	}
	return s.obtain(ctx, "")
}

// ForceRefresh requests a new token unless rejected was already replaced.
func (s *ServiceAccount) ForceRefresh(ctx context.Context, principal oauth.Principal, rejected string) (string, error) {
	if err := s.check(principal); err != nil {
		return "", err
	}
	return s.obtain(ctx, rejected)
}

func (s *ServiceAccount) obtain(ctx context.Context, rejected string) (string, error) {
	ch := s.group.DoChan("token", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		set, err := s.store.Load(ctx, s.principal)
		switch {
		case err == nil:
			if set.AccessToken != rejected && !s.expired(set) {
				return set.AccessToken, nil
			}
		case !errors.Is(err, tokenstore.ErrNotFound):
			return nil, fmt.Errorf("failed to load service token: %w", err)
		}

		next, err := s.exchanger.ExchangeClientCredentials(ctx, s.scope)
		if err != nil {
			return nil, err
		}
		if err := s.store.Save(ctx, s.principal, next); err != nil {
			return nil, fmt.Errorf("failed to store service token: %w", err)
		}

		logging.Debug("Session", "Obtained client credentials token for %s", s.principal)
		return next.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Logout revokes (best effort) and discards the cached token.
func (s *ServiceAccount) Logout(ctx context.Context, principal oauth.Principal) error {
	if err := s.check(principal); err != nil {
		return err
	}

	if set, err := s.store.Load(ctx, s.principal); err == nil {
		if rerr := s.exchanger.Revoke(ctx, set.AccessToken, "access_token"); rerr != nil {
			logging.Warn("Session", "Service token revocation failed: %v", rerr)
		}
	}

	return s.store.Clear(ctx, s.principal)
}

func (s *ServiceAccount) expired(set *oauth.TokenSet) bool {
	return set.ExpiredAt(s.now(), s.margin)
}
