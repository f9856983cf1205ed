package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"tokenward/internal/config"
	"tokenward/internal/server"
	"tokenward/pkg/logging"
)

// Serve-specific flags
var (
	serveHost string
	servePort int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web front-end",
	Long: `Run a small web application that demonstrates the complete flow:
login through the provider, a profile page built from userinfo, a proxy
to the protected API and logout.

Routes:
  /           profile or login link
  /login      start a login
  /callback   authorization redirect target
  /logout     revoke and clear the session
  /api/*      proxy to api.baseURL as the logged-in user
  /healthz    liveness
  /metrics    Prometheus metrics

The callback URL <publicURL>/callback must be registered with the provider.
When started by systemd with Type=notify, readiness is reported once the
listener is bound. SIGINT and SIGTERM shut the server down gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Browser sessions live in memory, so by default their tokens do too.
	application, err := bootstrap(cmd, config.StoreMemory)
	if err != nil {
		return err
	}
	defer application.Close()

	cfg := application.Config()
	host, port := cfg.Server.Host, cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	publicURL := cfg.Server.PublicURL
	if publicURL == "" {
		publicURL = "http://" + net.JoinHostPort(host, strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))
	}

	s := application.Services()
	srv := server.New(server.Options{
		PublicURL:       publicURL,
		SecureCookies:   cfg.Server.SecureCookies,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, s.Manager, s.API, s.Metrics.Handler())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s (callback %s)\n", publicURL, srv.CallbackURL())
	notifySystemd(daemon.SdNotifyReady)
	defer notifySystemd(daemon.SdNotifyStopping)

	return srv.Serve(ctx, ln)
}

func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		logging.Warn("CLI", "Failed to notify systemd (%s): %v", state, err)
	case sent:
		logging.Debug("CLI", "Notified systemd: %s", state)
	}
}
