package oauth

const redacted = "[REDACTED]"

// RedactedToken wraps a credential so that formatting or serializing it never
// prints the value.
//
//	token := oauth.NewRedactedToken(set.AccessToken)
//	logging.Debug("Client", "using %v", token) // using [REDACTED]
type RedactedToken struct {
	value string
}

// NewRedactedToken creates a new RedactedToken wrapping the given value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the wrapped credential. Never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

func (t RedactedToken) String() string {
	return redacted
}

func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{" + redacted + "}"
}

// IsEmpty returns true if the token value is empty.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
