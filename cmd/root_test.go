package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"tokenward/internal/config"
	"tokenward/internal/loopback"
	"tokenward/pkg/oauth"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
	if GetVersion() != testVersion {
		t.Errorf("Expected GetVersion to return %s, got %s", testVersion, GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "tokenward" {
		t.Errorf("Expected Use to be 'tokenward', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}

	for _, name := range []string{"config-path", "log-level", "log-format"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Expected persistent flag --%s", name)
		}
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "tokenward version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	if got := buf.String(); got != "tokenward version 1.0.0\n" {
		t.Errorf("Expected version output %q, got %q", "tokenward version 1.0.0\n", got)
	}
}

func TestSubcommands(t *testing.T) {
	expected := []string{"version", "login", "status", "token", "call", "service", "logout", "refresh", "whoami", "serve"}

	found := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}

	for _, name := range expected {
		if !found[name] {
			t.Errorf("Expected subcommand %s to be registered", name)
		}
	}
}

func TestGetExitCode(t *testing.T) {
	exchange := &oauth.TokenExchangeError{Grant: oauth.GrantRefreshToken, Reason: oauth.ReasonInvalidGrant}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"generic", errors.New("boom"), ExitCodeError},
		{"validation", config.ValidationErrors{{Field: "provider.clientID", Message: "is required"}}, ExitCodeError},
		{"session expired", &oauth.SessionExpiredError{Principal: "user:1", Err: exchange}, ExitCodeAuthRequired},
		{"unauthorized", fmt.Errorf("call failed: %w", &oauth.UnauthorizedError{Principal: "user:1"}), ExitCodeAuthRequired},
		{"state mismatch", &oauth.StateMismatchError{Reason: "unknown state"}, ExitCodeAuthFailed},
		{"exchange", fmt.Errorf("login: %w", exchange), ExitCodeAuthFailed},
		{"discovery", &oauth.DiscoveryError{URL: "https://idp"}, ExitCodeAuthFailed},
		{"provider denied", &callbackError{result: &loopback.Result{Error: "access_denied"}}, ExitCodeAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestCallbackError(t *testing.T) {
	err := &callbackError{result: &loopback.Result{Error: "access_denied", ErrorDescription: "user said no"}}
	if !strings.Contains(err.Error(), "user said no") {
		t.Errorf("Expected description in %q", err.Error())
	}
}

func TestParsePrincipalFlag(t *testing.T) {
	p, err := parsePrincipalFlag("42")
	if err != nil || p != oauth.UserPrincipal("42") {
		t.Errorf("bare id: got %q, %v", p, err)
	}

	p, err = parsePrincipalFlag("service:svc")
	if err != nil || p != oauth.ServicePrincipal("svc") {
		t.Errorf("service: got %q, %v", p, err)
	}

	if _, err := parsePrincipalFlag("group:x"); err == nil {
		t.Error("Expected an error for an unknown prefix")
	}
}
