package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"tokenward/internal/apiclient"
	"tokenward/internal/app"
	"tokenward/pkg/oauth"
)

var callBaseURL string

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call <path>",
	Short: "Call the protected API as a principal",
	Long: `Send an authenticated GET request to the configured API and print the
response body. A 401 triggers one token refresh and one retry; a second
401 ends the session.

Examples:
  tokenward call /users/me
  tokenward call --principal user:42 /projects
  tokenward call --base-url https://api.example.com /status`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
	addPrincipalFlag(callCmd)
	callCmd.Flags().StringVar(&callBaseURL, "base-url", "", "API base URL (overrides api.baseURL)")
}

func runCall(cmd *cobra.Command, args []string) error {
	application, err := bootstrap(cmd, storeFallbackCLI)
	if err != nil {
		return err
	}
	defer application.Close()

	s := application.Services()
	principal, err := resolvePrincipal(cmd.Context(), s)
	if err != nil {
		return err
	}

	client, err := apiClientFor(s, principal)
	if err != nil {
		return err
	}
	return callAndPrint(cmd, client, principal, args[0])
}

func apiClientFor(s *app.Services, principal oauth.Principal) (*apiclient.Client, error) {
	baseURL := callBaseURL
	if baseURL == "" {
		baseURL = s.Config.API.BaseURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no API base URL: set api.baseURL or pass --base-url")
	}
	return s.APIClientFor(baseURL, s.TokenSourceFor(principal)), nil
}

func callAndPrint(cmd *cobra.Command, client *apiclient.Client, principal oauth.Principal, path string) error {
	resp, err := client.Get(cmd.Context(), principal, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiclient.StatusError{StatusCode: resp.StatusCode, URL: resp.Request.URL.Redacted(), Body: strings.TrimSpace(string(body))}
	}

	if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return nil
}
