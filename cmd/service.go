package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// serviceCmd represents the service command
var serviceCmd = &cobra.Command{
	Use:   "service [path]",
	Short: "Use the client's own credentials",
	Long: `Obtain a client-credentials token for the service principal
service:<clientID> and print it, or call path on the API with it.

The token is requested with the configured provider.serviceScope and is
stored only under the service principal, never under a user.

Examples:
  tokenward service              # Print a service token
  tokenward service /health      # Call the API as the service`,
	Args: cobra.MaximumNArgs(1),
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.Flags().StringVar(&callBaseURL, "base-url", "", "API base URL (overrides api.baseURL)")
}

func runService(cmd *cobra.Command, args []string) error {
	application, err := bootstrap(cmd, storeFallbackCLI)
	if err != nil {
		return err
	}
	defer application.Close()

	s := application.Services()
	principal := s.ServiceAccount.Principal()

	if len(args) == 0 {
		token, err := s.ServiceAccount.ValidToken(cmd.Context(), principal)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}

	client, err := apiClientFor(s, principal)
	if err != nil {
		return err
	}
	return callAndPrint(cmd, client, principal, args[0])
}
