package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tokenward/pkg/logging"
	"tokenward/pkg/oauth"
)

// TokenSource supplies and renews access tokens for a principal.
// *session.Manager and *session.ServiceAccount implement it.
type TokenSource interface {
	ValidToken(ctx context.Context, principal oauth.Principal) (string, error)
	ForceRefresh(ctx context.Context, principal oauth.Principal, rejected string) (string, error)
	Logout(ctx context.Context, principal oauth.Principal) error
}

// Observer is told about every retry after a 401.
type Observer interface {
	Retried(succeeded bool)
}

// StatusError is returned by GetJSON for a non-2xx response other than 401.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client calls a protected resource on behalf of a principal.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	observer   Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for resource calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithObserver reports retries to o.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// New creates a Client for the resource rooted at baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: oauth.DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the resource root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req with the principal's bearer token. A 401 triggers exactly
// one forced refresh and retry. If the retry is rejected too, the principal
// is logged out and an UnauthorizedError is returned.
func (c *Client) Do(ctx context.Context, principal oauth.Principal, req *http.Request) (*http.Response, error) {
	if err := makeReplayable(req); err != nil {
		return nil, err
	}

	token, err := c.tokens.ValidToken(ctx, principal)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challenge := oauth.ParseWWWAuthenticateFromResponse(resp)
	discard(resp)
	if challenge != nil {
		logging.Debug("APIClient", "%s rejected token for %s (error=%q)",
			req.URL.Redacted(), logging.TruncateID(principal.String()), challenge.Error)
	}

	token, err = c.tokens.ForceRefresh(ctx, principal, token)
	if err != nil {
		return nil, err
	}

	resp, err = c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		c.retried(true)
		return resp, nil
	}
	discard(resp)
	c.retried(false)

	logging.Warn("APIClient", "%s rejected a freshly refreshed token, logging out %s",
		req.URL.Redacted(), logging.TruncateID(principal.String()))
	if lerr := c.tokens.Logout(ctx, principal); lerr != nil {
		logging.Error("APIClient", lerr, "Logout after repeated 401 failed")
	}
	return nil, &oauth.UnauthorizedError{Principal: principal, URL: req.URL.Redacted()}
}

// Get performs an authenticated GET of path relative to the base URL.
func (c *Client) Get(ctx context.Context, principal oauth.Principal, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.Do(ctx, principal, req)
}

// GetJSON performs an authenticated GET of path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, principal oauth.Principal, path string, out any) error {
	resp, err := c.Get(ctx, principal, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, URL: resp.Request.URL.Redacted(), Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

func (c *Client) send(ctx context.Context, req *http.Request, token string) (*http.Response, error) {
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		attempt.Body = body
	}
	attempt.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(attempt)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err)
	}
	logging.Debug("APIClient", "%s %s -> %d (%v)", req.Method, req.URL.Redacted(), resp.StatusCode, time.Since(start))
	return resp, nil
}

func (c *Client) retried(succeeded bool) {
	if c.observer != nil {
		c.observer.Retried(succeeded)
	}
}

// makeReplayable buffers a body that cannot be re-read so the retry can
// send it again.
func makeReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
