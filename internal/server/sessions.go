package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokenward/pkg/oauth"
)

const sessionCookie = "tokenward_session"

// browserSession ties a cookie to a pending login and, once the callback
// succeeded, to a principal.
type browserSession struct {
	pendingState string
	principal    oauth.Principal
	lastSeen     time.Time
}

// browserSessions maps opaque cookie values to browser sessions. Token
// sets never leave the server; the cookie only names the session.
type browserSessions struct {
	mu       sync.Mutex
	sessions map[string]*browserSession
	secure   bool
	maxIdle  time.Duration
	now      func() time.Time
}

func newBrowserSessions(secure bool, maxIdle time.Duration, now func() time.Time) *browserSessions {
	return &browserSessions{
		sessions: make(map[string]*browserSession),
		secure:   secure,
		maxIdle:  maxIdle,
		now:      now,
	}
}

// get returns the session named by the request cookie, or "" and nil.
func (b *browserSessions) get(r *http.Request) (string, *browserSession) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[c.Value]
	if !ok {
		return "", nil
	}
	if b.now().Sub(s.lastSeen) > b.maxIdle {
		delete(b.sessions, c.Value)
		return "", nil
	}
	s.lastSeen = b.now()
	copied := *s
	return c.Value, &copied
}

// ensure returns the request's session, creating one and setting its
// cookie when there is none.
func (b *browserSessions) ensure(w http.ResponseWriter, r *http.Request) string {
	if id, s := b.get(r); s != nil {
		return id
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.sessions[id] = &browserSession{lastSeen: b.now()}
	b.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (b *browserSessions) update(id string, fn func(*browserSession)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		fn(s)
	}
}

// remove forgets the session and expires its cookie.
func (b *browserSessions) remove(w http.ResponseWriter, id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sweep drops idle sessions.
func (b *browserSessions) sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for id, s := range b.sessions {
		if now.Sub(s.lastSeen) > b.maxIdle {
			delete(b.sessions, id)
			removed++
		}
	}
	return removed
}

func (b *browserSessions) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
