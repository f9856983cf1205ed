package session

import (
	"sync"
	"time"

	"tokenward/pkg/logging"
	"tokenward/pkg/oauth"
)

// pendingRequests holds authorization requests between the redirect to the
// provider and the callback. Each state can be taken at most once.
type pendingRequests struct {
	mu       sync.Mutex
	requests map[string]*oauth.AuthorizationRequest

	ttl         time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func newPendingRequests(ttl time.Duration, now func() time.Time) *pendingRequests {
	p := &pendingRequests{
		requests:    make(map[string]*oauth.AuthorizationRequest),
		ttl:         ttl,
		now:         now,
		stopCleanup: make(chan struct{}),
	}

	go p.cleanupLoop()

	return p
}

func (p *pendingRequests) add(req *oauth.AuthorizationRequest) {
	p.mu.Lock()
	p.requests[req.State] = req
	p.mu.Unlock()
}

// take removes and returns the request for state. Unknown, reused and
// expired states all fail.
func (p *pendingRequests) take(state string) (*oauth.AuthorizationRequest, error) {
	if state == "" {
		return nil, &oauth.StateMismatchError{Reason: "callback carried no state"}
	}

	p.mu.Lock()
	req, ok := p.requests[state]
	delete(p.requests, state)
	p.mu.Unlock()

	if !ok {
		logging.Warn("Session", "Callback state %s is unknown or already used", logging.TruncateID(state))
		return nil, &oauth.StateMismatchError{Reason: "unknown or already used state"}
	}

	if req.Expired(p.now(), p.ttl) {
		logging.Warn("Session", "Callback state %s expired after %v", logging.TruncateID(state), p.now().Sub(req.CreatedAt))
		return nil, &oauth.StateMismatchError{Reason: "state expired"}
	}

	return req, nil
}

// discard drops the request for state, if any, and reports whether there
// was one.
func (p *pendingRequests) discard(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.requests[state]
	delete(p.requests, state)
	return ok
}

// discardFor drops pending requests carrying principal, so only the newest
// login for a known principal can complete.
func (p *pendingRequests) discardFor(principal oauth.Principal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for state, req := range p.requests {
		if req.Principal == principal {
			delete(p.requests, state)
		}
	}
}

func (p *pendingRequests) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *pendingRequests) stop() {
	p.stopOnce.Do(func() { close(p.stopCleanup) })
}

func (p *pendingRequests) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.cleanup()
		case <-p.stopCleanup:
			return
		}
	}
}

func (p *pendingRequests) cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	count := 0
	for state, req := range p.requests {
		if req.Expired(now, p.ttl) {
			delete(p.requests, state)
			count++
		}
	}

	if count > 0 {
		logging.Debug("Session", "Cleaned up %d expired authorization requests", count)
	}
}
