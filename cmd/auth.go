package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tokenward/internal/formatting"
	"tokenward/pkg/oauth"
)

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke and clear stored tokens",
	Long: `Revoke a principal's tokens at the provider (best effort) and remove
them from the store.

Examples:
  tokenward logout                     # Log out the only stored user
  tokenward logout --principal user:42 # Log out a specific principal
  tokenward logout --all               # Clear every stored principal
  tokenward logout --all --yes         # Clear all without confirmation`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a token refresh",
	Long: `Exchange the stored refresh token for a new token set now, regardless
of the stored expiry. A rejected refresh ends the session.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

// whoamiCmd represents the whoami command
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the provider's claims for a principal",
	Long: `Fetch the userinfo claims of a logged-in principal from the provider.

Examples:
  tokenward whoami
  tokenward whoami -o yaml`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

// Logout-specific flags
var (
	logoutAll bool
	logoutYes bool
)

var whoamiOutput string

func init() {
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(whoamiCmd)

	addPrincipalFlag(logoutCmd)
	addPrincipalFlag(refreshCmd)
	addPrincipalFlag(whoamiCmd)

	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Clear all stored principals")
	logoutCmd.Flags().BoolVarP(&logoutYes, "yes", "y", false, "Skip confirmation prompt for --all")
	whoamiCmd.Flags().StringVarP(&whoamiOutput, "output", "o", "table", "Output format: table, json or yaml")
}

func runLogout(cmd *cobra.Command, args []string) error {
	application, err := bootstrap(cmd, storeFallbackCLI)
	if err != nil {
		return err
	}
	defer application.Close()

	s := application.Services()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !logoutAll {
		principal, err := resolvePrincipal(ctx, s)
		if err != nil {
			return err
		}
		if err := s.TokenSourceFor(principal).Logout(ctx, principal); err != nil {
			return fmt.Errorf("failed to log out %s: %w", principal, err)
		}
		fmt.Fprintf(out, "Logged out %s\n", principal)
		return nil
	}

	principals, err := s.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stored sessions: %w", err)
	}
	if len(principals) == 0 {
		fmt.Fprintln(out, "No stored tokens to clear.")
		return nil
	}

	if !logoutYes {
		fmt.Fprintf(out, "The following %d principal(s) will be logged out:\n", len(principals))
		for _, p := range principals {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		fmt.Fprintln(out)

		ok, err := confirm(cmd, "Are you sure you want to clear all tokens?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	for _, p := range principals {
		if err := s.TokenSourceFor(p).Logout(ctx, p); err != nil {
			return fmt.Errorf("failed to log out %s: %w", p, err)
		}
	}

	fmt.Fprintf(out, "Cleared %d stored token set(s).\n", len(principals))
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	application, err := bootstrap(cmd, storeFallbackCLI)
	if err != nil {
		return err
	}
	defer application.Close()

	s := application.Services()
	ctx := cmd.Context()

	principal, err := resolvePrincipal(ctx, s)
	if err != nil {
		return err
	}

	source := s.TokenSourceFor(principal)
	current, err := s.Store.Load(ctx, principal)
	if err != nil {
		return &oauth.SessionExpiredError{Principal: principal, Err: err}
	}
	if _, err := source.ForceRefresh(ctx, principal, current.AccessToken); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Token refreshed for %s.\n", principal)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(whoamiOutput)
	if err != nil {
		return err
	}

	application, err := bootstrap(cmd, storeFallbackCLI)
	if err != nil {
		return err
	}
	defer application.Close()

	s := application.Services()
	ctx := cmd.Context()

	principal, err := resolvePrincipal(ctx, s)
	if err != nil {
		return err
	}

	claims := map[string]any{}
	if err := s.Manager.UserInfo(ctx, principal, &claims); err != nil {
		return err
	}
	claims["principal"] = principal.String()

	return formatting.New(cmd.OutOrStdout(), formatting.Options{Format: format}).Data(claims)
}
