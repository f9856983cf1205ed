package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserInfo fetches the userinfo document for accessToken and decodes it into
// out. A 401 from the provider yields an UnauthorizedError.
func (e *Exchanger) UserInfo(ctx context.Context, accessToken string, out any) error {
	md, err := e.discovery.Metadata(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, md.UserinfoEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read userinfo response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &UnauthorizedError{URL: md.UserinfoEndpoint}
	case resp.StatusCode != http.StatusOK:
		e.endpointGone(resp.StatusCode)
		return fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to parse userinfo response: %w", err)
	}

	return nil
}

// SubjectFromUserInfo returns the user identifier from a userinfo document,
// preferring the standard "sub" claim and falling back to "id".
func SubjectFromUserInfo(doc map[string]any) string {
	for _, key := range []string{"sub", "id"} {
		switch v := doc[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// SubjectFromIDToken extracts the "sub" claim from an ID token without
// verifying its signature. It is only suitable for tokens received directly
// from the token endpoint over TLS.
func SubjectFromIDToken(idToken string) (string, error) {
	if strings.TrimSpace(idToken) == "" {
		return "", fmt.Errorf("empty id_token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", fmt.Errorf("failed to parse id_token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("invalid sub claim: %w", err)
	}
	if sub == "" {
		return "", fmt.Errorf("id_token has no sub claim")
	}

	return sub, nil
}
