package oauth

// Outcome labels reported to an Observer.
const (
	OutcomeSuccess = "success"
)

// Observer receives a notification for every discovery fetch and every
// token endpoint exchange. Implementations must be safe for concurrent use.
type Observer interface {
	// DiscoveryFetched is called after each outbound discovery request.
	DiscoveryFetched(outcome string)

	// TokenExchanged is called after each token endpoint request with the
	// grant type and either OutcomeSuccess or the failure reason.
	TokenExchanged(grant, outcome string)
}

type nopObserver struct{}

func (nopObserver) DiscoveryFetched(string)       {}
func (nopObserver) TokenExchanged(string, string) {}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	switch e := err.(type) {
	case *TokenExchangeError:
		return string(e.Reason)
	case *DiscoveryError:
		if len(e.Missing) > 0 {
			return "incomplete"
		}
	}
	return "error"
}
