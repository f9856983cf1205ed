package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"tokenward/pkg/oauth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates the session expired or was rejected and
	// a new login is needed.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow itself failed.
	ExitCodeAuthFailed = 3
)

// Global flags shared by every subcommand.
var (
	configPath string
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command for the tokenward application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tokenward",
	Short: "Manage OAuth2/OpenID Connect sessions and call protected APIs",
	Long: `tokenward logs users in against an OpenID Connect provider, keeps their
tokens fresh, and calls protected resources on their behalf.

It also obtains client-credentials tokens for the client's own service
principal and can run a small web front-end that demonstrates the
complete login flow.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tokenward version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	// A failed refresh wraps the exchange error, so this check comes first.
	if oauth.RequiresLogin(err) {
		return ExitCodeAuthRequired
	}

	var stateErr *oauth.StateMismatchError
	if errors.As(err, &stateErr) {
		return ExitCodeAuthFailed
	}

	var exchangeErr *oauth.TokenExchangeError
	if errors.As(err, &exchangeErr) {
		return ExitCodeAuthFailed
	}

	var discoveryErr *oauth.DiscoveryError
	if errors.As(err, &discoveryErr) {
		return ExitCodeAuthFailed
	}

	var callbackErr *callbackError
	if errors.As(err, &callbackErr) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory containing config.yaml (default ~/.config/tokenward)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")

	rootCmd.AddCommand(newVersionCmd())
}
