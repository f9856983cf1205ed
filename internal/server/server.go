package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"tokenward/internal/apiclient"
	"tokenward/internal/session"
	"tokenward/pkg/logging"
	"tokenward/pkg/oauth"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultSessionIdleTimeout is how long an unused browser session survives.
	DefaultSessionIdleTimeout = 24 * time.Hour
)

// Sessions is the part of the session manager the front-end drives.
// *session.Manager implements it.
type Sessions interface {
	StartLogin(ctx context.Context, opts session.LoginOptions) (*session.LoginRequest, error)
	HandleCallback(ctx context.Context, code, state string) (oauth.Principal, *oauth.TokenSet, error)
	DiscardLogin(state string)
	UserInfo(ctx context.Context, principal oauth.Principal, out any) error
	Logout(ctx context.Context, principal oauth.Principal) error
	PendingLogins() int
}

// Options configures a Server.
type Options struct {
	// PublicURL is how browsers reach the server, without a trailing slash.
	PublicURL string

	SecureCookies      bool
	SessionIdleTimeout time.Duration
	ShutdownTimeout    time.Duration

	Now func() time.Time
}

// Server is the demo web front-end: login, callback, logout, a userinfo
// page and a proxy to the protected resource.
type Server struct {
	opts     Options
	manager  Sessions
	api      *apiclient.Client
	metrics  http.Handler
	sessions *browserSessions
	handler  http.Handler
}

// New creates a Server. api and metrics may be nil, which disables /api/
// and /metrics respectively.
func New(opts Options, manager Sessions, api *apiclient.Client, metrics http.Handler) *Server {
	opts.PublicURL = strings.TrimSuffix(opts.PublicURL, "/")
	if opts.SessionIdleTimeout <= 0 {
		opts.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		opts:     opts,
		manager:  manager,
		api:      api,
		metrics:  metrics,
		sessions: newBrowserSessions(opts.SecureCookies, opts.SessionIdleTimeout, opts.Now),
	}
	s.handler = s.routes()
	return s
}

// CallbackURL is the redirect URI registered with the provider.
func (s *Server) CallbackURL() string {
	return s.opts.PublicURL + "/callback"
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHome)
	r.Get("/login", s.handleLogin)
	r.Get("/callback", s.handleCallback)
	r.Get("/logout", s.handleLogout)
	r.Get("/api/*", s.handleAPI)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	return r
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Server", "Listening on %s (public URL %s)", ln.Addr(), s.opts.PublicURL)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Server", "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.sessions.sweep(); n > 0 {
					logging.Debug("Server", "Dropped %d idle browser sessions", n)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("Server", "%s %s -> %d (%v, request %s)",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}
