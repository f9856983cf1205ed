package loopback

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tokenward/pkg/logging"
)

// DefaultRedirectURI is used when no redirect URI is configured.
const DefaultRedirectURI = "http://127.0.0.1:8085/callback"

// CallbackTimeout is how long the CLI waits for the user to finish the login.
const CallbackTimeout = 10 * time.Minute

// Result is what the provider sent back to the redirect URI.
type Result struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// IsError returns true if the provider reported a failed authorization.
func (r *Result) IsError() bool {
	return r.Error != ""
}

// Listener is a temporary HTTP server on a loopback address that receives a
// single authorization redirect and then shuts down.
type Listener struct {
	redirect *url.URL
	server   *http.Server
	listener net.Listener
	resultCh chan *Result
	errorCh  chan error
	once     sync.Once
}

// New prepares a listener for redirectURI, which must use a loopback host.
// Port 0 picks a free port.
func New(redirectURI string) (*Listener, error) {
	if redirectURI == "" {
		redirectURI = DefaultRedirectURI
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("loopback redirect URI must use http, got %q", u.Scheme)
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, fmt.Errorf("redirect URI host %q is not a loopback address", host)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return &Listener{
		redirect: u,
		resultCh: make(chan *Result, 1),
		errorCh:  make(chan error, 1),
	}, nil
}

// Start binds the listener and serves until the callback arrives or ctx is
// cancelled. It returns the redirect URI with the bound port.
func (l *Listener) Start(ctx context.Context) (string, error) {
	port := l.redirect.Port()
	if port == "" {
		port = "0"
	}
	addr := net.JoinHostPort(l.redirect.Hostname(), port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback listener on %s: %w", addr, err)
	}
	l.listener = listener
	l.redirect.Host = net.JoinHostPort(l.redirect.Hostname(), fmt.Sprint(listener.Addr().(*net.TCPAddr).Port))

	mux := http.NewServeMux()
	mux.HandleFunc(l.redirect.Path, l.handleCallback)

	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case l.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		l.Stop()
	}()

	logging.Debug("Loopback", "Waiting for the authorization redirect on %s", l.RedirectURI())
	return l.RedirectURI(), nil
}

// RedirectURI returns the URI the provider must redirect to.
func (l *Listener) RedirectURI() string {
	return l.redirect.String()
}

// Wait blocks until the callback arrives, the server fails or ctx ends.
func (l *Listener) Wait(ctx context.Context) (*Result, error) {
	select {
	case result := <-l.resultCh:
		return result, nil
	case err := <-l.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Requests that carry neither outcome do not spend the callback.
	query := r.URL.Query()
	if query.Get("code") == "" && query.Get("error") == "" {
		SetSecurityHeaders(w)
		http.Error(w, "Missing code or error parameter", http.StatusBadRequest)
		return
	}

	var handled bool
	l.once.Do(func() {
		handled = true
		l.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (l *Listener) processCallback(w http.ResponseWriter, r *http.Request) {
	SetSecurityHeaders(w)

	query := r.URL.Query()
	result := &Result{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	tmpl, data := successPage, any(nil)
	status := http.StatusOK
	if result.IsError() {
		tmpl = errorPage
		data = result
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		logging.Warn("Loopback", "Failed to render callback page: %v", err)
	}

	select {
	case l.resultCh <- result:
	default:
	}

	// Give the browser time to receive the page before closing.
	go func() {
		time.Sleep(time.Second)
		l.Stop()
	}()
}

// Stop shuts the server down. It is safe to call more than once.
func (l *Listener) Stop() {
	if l.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.server.Shutdown(ctx)
	}
	if l.listener != nil {
		_ = l.listener.Close()
	}
}

// SetSecurityHeaders marks a response as a non-cacheable page that must not
// be framed or leak its URL.
func SetSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Signed in</title>
<style>body{font-family:sans-serif;margin:4em auto;max-width:32em;color:#222}</style></head>
<body><h1>Signed in</h1><p>You can close this window and return to the terminal.</p></body></html>
`))

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Sign-in failed</title>
<style>body{font-family:sans-serif;margin:4em auto;max-width:32em;color:#222}</style></head>
<body><h1>Sign-in failed</h1><p><code>{{.Error}}</code></p>{{if .ErrorDescription}}<p>{{.ErrorDescription}}</p>{{end}}
<p>Return to the terminal and run the login again.</p></body></html>
`))
