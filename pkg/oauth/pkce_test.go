package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"golang.org/x/oauth2"
)

func TestGeneratePKCE(t *testing.T) {
	pkce, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() error = %v", err)
	}

	if len(pkce.CodeVerifier) < 43 {
		t.Errorf("CodeVerifier length = %d, want >= 43", len(pkce.CodeVerifier))
	}

	if pkce.CodeChallengeMethod != "S256" {
		t.Errorf("CodeChallengeMethod = %q, want %q", pkce.CodeChallengeMethod, "S256")
	}

	hash := sha256.Sum256([]byte(pkce.CodeVerifier))
	expectedChallenge := base64.RawURLEncoding.EncodeToString(hash[:])
	if pkce.CodeChallenge != expectedChallenge {
		t.Errorf("CodeChallenge = %q, want %q", pkce.CodeChallenge, expectedChallenge)
	}

	// Must agree with x/oauth2's implementation.
	if got := oauth2.S256ChallengeFromVerifier(pkce.CodeVerifier); pkce.CodeChallenge != got {
		t.Errorf("CodeChallenge = %q, want x/oauth2 result %q", pkce.CodeChallenge, got)
	}
}

func TestGeneratePKCE_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pkce, err := GeneratePKCE()
		if err != nil {
			t.Fatalf("GeneratePKCE() error = %v", err)
		}
		if seen[pkce.CodeVerifier] {
			t.Fatal("Generated duplicate CodeVerifier")
		}
		seen[pkce.CodeVerifier] = true
	}
}

func TestGenerateState(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		state, err := GenerateState()
		if err != nil {
			t.Fatalf("GenerateState() error = %v", err)
		}
		if len(state) != 43 {
			t.Errorf("state length = %d, want 43", len(state))
		}
		if _, err := base64.RawURLEncoding.DecodeString(state); err != nil {
			t.Errorf("state is not base64url: %v", err)
		}
		if seen[state] {
			t.Fatal("Generated duplicate state")
		}
		seen[state] = true
	}
}
