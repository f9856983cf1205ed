package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token",
	Long: `Print a valid access token for a principal, refreshing it first when
the stored one has expired. Useful in scripts:

  curl -H "Authorization: Bearer $(tokenward token)" https://api.example.com/me`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	addPrincipalFlag(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
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

	var token string
	if principal.IsService() {
		token, err = s.TokenSourceFor(principal).ValidToken(ctx, principal)
	} else {
		// Same path as any oauth2-aware library consuming the session.
		t, terr := s.Manager.TokenSource(ctx, principal).Token()
		if terr == nil {
			token = t.AccessToken
		}
		err = terr
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
