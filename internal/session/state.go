package session

// State is the lifecycle position of one principal.
type State int

const (
	// StateAnonymous means no credentials and no login in progress.
	StateAnonymous State = iota
	// StateAwaitingCallback means the user was sent to the provider.
	StateAwaitingCallback
	// StateAuthenticated means a token set is stored.
	StateAuthenticated
	// StateRefreshing means a refresh exchange is in flight.
	StateRefreshing
	// StateLoggedOut means the session ended, by logout or by a failed refresh.
	StateLoggedOut
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Observer is notified of every state transition.
type Observer interface {
	Transition(from, to State)
}
