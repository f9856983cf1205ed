package session

import (
	"context"

	"golang.org/x/oauth2"

	"tokenward/pkg/oauth"
)

// TokenSource adapts the manager to golang.org/x/oauth2, so an
// oauth2.Transport or any library taking an oauth2.TokenSource can use a
// managed session.
func (m *Manager) TokenSource(ctx context.Context, principal oauth.Principal) oauth2.TokenSource {
	return &managedTokenSource{ctx: ctx, manager: m, principal: principal}
}

type managedTokenSource struct {
	ctx       context.Context
	manager   *Manager
	principal oauth.Principal
}

func (s *managedTokenSource) Token() (*oauth2.Token, error) {
	if _, err := s.manager.ValidToken(s.ctx, s.principal); err != nil {
		return nil, err
	}
	set, err := s.manager.TokenSet(s.ctx, s.principal)
	if err != nil {
		return nil, err
	}
	return set.ToOAuth2Token(), nil
}
