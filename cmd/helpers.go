package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"tokenward/internal/app"
	"tokenward/internal/config"
	"tokenward/pkg/oauth"
)

// principalFlag is shared by the commands that act on one principal.
var principalFlag string

// errNoSession is wrapped in a SessionExpiredError when no principal was
// given and none is stored.
var errNoSession = errors.New("no stored session, run 'tokenward login' first")

// bootstrap creates the application for a command. storeFallback applies
// when the configuration does not name a store backend.
func bootstrap(cmd *cobra.Command, storeFallback string) (*app.Application, error) {
	cfg := app.NewConfig(configPath, logLevel, logFormat)
	cfg.StoreFallback = storeFallback
	cfg.LogOutput = cmd.ErrOrStderr()

	application, err := app.NewApplication(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenward: %w", err)
	}
	return application, nil
}

// resolvePrincipal returns the --principal flag, or the single stored user
// principal when the flag is empty.
func resolvePrincipal(ctx context.Context, s *app.Services) (oauth.Principal, error) {
	if principalFlag != "" {
		return parsePrincipalFlag(principalFlag)
	}

	stored, err := s.Store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list stored sessions: %w", err)
	}

	var users []oauth.Principal
	for _, p := range stored {
		if p.IsUser() {
			users = append(users, p)
		}
	}

	switch len(users) {
	case 0:
		return "", &oauth.SessionExpiredError{Err: errNoSession}
	case 1:
		return users[0], nil
	default:
		return "", fmt.Errorf("%d sessions are stored, choose one with --principal", len(users))
	}
}

// parsePrincipalFlag accepts "user:<id>", "service:<client>" or a bare user id.
func parsePrincipalFlag(s string) (oauth.Principal, error) {
	if !strings.Contains(s, ":") {
		return oauth.UserPrincipal(s), nil
	}
	return oauth.ParsePrincipal(s)
}

// confirm asks a yes/no question on the command's streams.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)

	reader := bufio.NewReader(cmd.InOrStdin())
	response, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read response: %w", err)
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

func addPrincipalFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&principalFlag, "principal", "p", "", "Principal to act for, e.g. user:1000001 (default: the only stored user)")
}

// storeFallbackCLI keeps CLI sessions across invocations.
const storeFallbackCLI = config.StoreFile
