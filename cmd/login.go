package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"tokenward/internal/loopback"
	"tokenward/internal/session"
	"tokenward/pkg/logging"
	"tokenward/pkg/oauth"
)

// Login-specific flags
var (
	loginNoBrowser bool
	loginTimeout   time.Duration
)

// openBrowser is replaced in tests.
var openBrowser = loopback.OpenBrowser

// callbackError reports an error the provider sent to the redirect URI.
type callbackError struct {
	result *loopback.Result
}

func (e *callbackError) Error() string {
	if e.result.ErrorDescription != "" {
		return fmt.Sprintf("authorization failed: %s: %s", e.result.Error, e.result.ErrorDescription)
	}
	return "authorization failed: " + e.result.Error
}

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in through the provider's authorization page",
	Long: `Log in with the authorization-code flow.

tokenward starts a temporary listener on the loopback redirect URI, opens the
provider's authorization page and waits for the redirect. The resulting
tokens are stored under the user principal the provider reports.

Examples:
  tokenward login                          # Log in and discover the principal
  tokenward login --principal user:42      # Replace the session of user:42
  tokenward login --no-browser             # Print the URL instead of opening it`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	addPrincipalFlag(loginCmd)
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", loopback.CallbackTimeout, "How long to wait for the authorization redirect")
}

func runLogin(cmd *cobra.Command, args []string) error {
	application, err := bootstrap(cmd, storeFallbackCLI)
	if err != nil {
		return err
	}
	defer application.Close()

	var hint oauth.Principal
	if principalFlag != "" {
		if hint, err = parsePrincipalFlag(principalFlag); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
	defer cancel()

	listener, err := loopback.New(application.Config().Provider.RedirectURI)
	if err != nil {
		return err
	}
	redirectURI, err := listener.Start(ctx)
	if err != nil {
		return err
	}
	defer listener.Stop()

	manager := application.Services().Manager
	req, err := manager.StartLogin(ctx, session.LoginOptions{RedirectURI: redirectURI, Principal: hint})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if loginNoBrowser {
		fmt.Fprintf(out, "Open this URL in your browser to log in:\n\n  %s\n\n", req.URL)
	} else if err := openBrowser(req.URL); err != nil {
		logging.Warn("CLI", "Failed to open browser: %v", err)
		fmt.Fprintf(out, "Could not open a browser. Open this URL to log in:\n\n  %s\n\n", req.URL)
	}

	result, err := waitForCallback(ctx, cmd, listener)
	if err != nil {
		return err
	}
	if result.IsError() {
		return &callbackError{result: result}
	}

	principal, set, err := manager.HandleCallback(ctx, result.Code, result.State)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Logged in as %s", principal)
	if set.HasExpiry() {
		fmt.Fprintf(out, " (token expires %s)", set.ExpiresAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	return nil
}

func waitForCallback(ctx context.Context, cmd *cobra.Command, listener *loopback.Listener) (*loopback.Result, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " Waiting for authorization..."
	s.Start()
	defer s.Stop()

	result, err := listener.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("no authorization received: %w", err)
	}
	return result, nil
}
