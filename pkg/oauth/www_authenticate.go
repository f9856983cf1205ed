package oauth

import (
	"net/http"
	"regexp"
	"strings"
)

// BearerChallenge is the parsed form of a WWW-Authenticate header sent with
// a 401 from a resource server.
type BearerChallenge struct {
	Scheme           string
	Realm            string
	Scope            string
	Error            string
	ErrorDescription string
}

// InvalidToken reports whether the resource rejected the token itself, as
// opposed to, say, insufficient scope.
func (c *BearerChallenge) InvalidToken() bool {
	return c != nil && c.Error == "invalid_token"
}

var authParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseWWWAuthenticate parses a header value such as
//
//	Bearer realm="api", error="invalid_token", error_description="expired"
//
// It returns nil for an empty header.
func ParseWWWAuthenticate(header string) *BearerChallenge {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &BearerChallenge{Scheme: parts[0]}
	if len(parts) == 1 {
		return challenge
	}

	for _, match := range authParamRegex.FindAllStringSubmatch(parts[1], -1) {
		value := match[2]
		switch strings.ToLower(match[1]) {
		case "realm":
			challenge.Realm = value
		case "scope":
			challenge.Scope = value
		case "error":
			challenge.Error = value
		case "error_description":
			challenge.ErrorDescription = value
		}
	}

	return challenge
}

// ParseWWWAuthenticateFromResponse extracts the challenge from a 401 response.
// It returns nil for any other response.
func ParseWWWAuthenticateFromResponse(resp *http.Response) *BearerChallenge {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	return ParseWWWAuthenticate(resp.Header.Get("WWW-Authenticate"))
}
