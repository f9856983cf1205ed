package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tokenward/internal/tokenstore"
)

// keygenCmd represents the keygen command
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a token store encryption key",
	Long: `Generate a random key for sealing stored token sets at rest.

Set the printed value as store.encryptionKey (or TOKENWARD_STORE_ENCRYPTION_KEY),
or write it to a file and point store.encryptionKeyFile at it.

Examples:
  tokenward keygen
  tokenward keygen --output-file ~/.config/tokenward/store.key`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

var keygenOutputFile string

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVar(&keygenOutputFile, "output-file", "", "Write the key to this file (mode 0600) instead of stdout")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	key, err := tokenstore.GenerateKey()
	if err != nil {
		return err
	}

	if keygenOutputFile == "" {
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	}

	f, err := os.OpenFile(keygenOutputFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := fmt.Fprintln(f, key); err != nil {
		f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote encryption key to %s\n", keygenOutputFile)
	return nil
}
