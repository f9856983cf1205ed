package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"tokenward/internal/app"
	"tokenward/internal/formatting"
	"tokenward/internal/session"
)

var statusOutput string

// statusEntry is one row of the status report.
type statusEntry struct {
	Principal  string     `json:"principal" yaml:"principal"`
	State      string     `json:"state" yaml:"state"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	Expired    bool       `json:"expired" yaml:"expired"`
	Refresh    bool       `json:"refreshable" yaml:"refreshable"`
	Scope      string     `json:"scope,omitempty" yaml:"scope,omitempty"`
	ObtainedAt time.Time  `json:"obtainedAt" yaml:"obtainedAt"`
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored sessions",
	Long: `Show every principal with a stored token set, when its access token
expires and whether it can be refreshed. Nothing is sent to the provider.

Examples:
  tokenward status
  tokenward status -o json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format: table, json or yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	application, err := bootstrap(cmd, storeFallbackCLI)
	if err != nil {
		return err
	}
	defer application.Close()

	entries, err := collectStatus(cmd.Context(), application.Services(), time.Now())
	if err != nil {
		return err
	}

	columns := []formatting.Column{
		{Header: "PRINCIPAL"},
		{Header: "STATE", Colorize: colorState},
		{Header: "EXPIRES"},
		{Header: "REFRESH"},
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		expires := "unknown"
		if e.ExpiresAt != nil {
			expires = e.ExpiresAt.Local().Format(time.RFC3339)
		}
		state := e.State
		if e.Expired {
			state = "expired"
		}
		refresh := "no"
		if e.Refresh {
			refresh = "yes"
		}
		rows = append(rows, []string{e.Principal, state, expires, refresh})
	}

	f := formatting.New(cmd.OutOrStdout(), formatting.Options{Format: format, Color: true})
	return f.Records(columns, rows, entries)
}

func collectStatus(ctx context.Context, s *app.Services, now time.Time) ([]statusEntry, error) {
	principals, err := s.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored sessions: %w", err)
	}

	entries := make([]statusEntry, 0, len(principals))
	for _, p := range principals {
		set, err := s.Store.Load(ctx, p)
		if err != nil {
			// Removed between List and Load.
			continue
		}

		e := statusEntry{
			Principal:  p.String(),
			State:      s.Manager.State(ctx, p).String(),
			Refresh:    set.CanRefresh(),
			Scope:      set.Scope,
			ObtainedAt: set.ObtainedAt,
		}
		if set.HasExpiry() {
			expires := set.ExpiresAt
			e.ExpiresAt = &expires
			e.Expired = !now.Before(expires)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func colorState(state string) string {
	switch state {
	case session.StateAuthenticated.String():
		return text.FgGreen.Sprint(state)
	case "expired":
		return text.FgYellow.Sprint(state)
	default:
		return state
	}
}
