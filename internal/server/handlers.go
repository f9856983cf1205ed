package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"tokenward/internal/loopback"
	"tokenward/internal/session"
	"tokenward/pkg/logging"
	"tokenward/pkg/oauth"
)

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	id, bs := s.sessions.get(r)
	if bs == nil || bs.principal == "" {
		render(w, http.StatusOK, homePage, nil)
		return
	}

	var doc map[string]any
	if err := s.manager.UserInfo(r.Context(), bs.principal, &doc); err != nil {
		if oauth.RequiresLogin(err) {
			s.forget(id)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		s.renderError(w, err)
		return
	}

	render(w, http.StatusOK, profilePage, profileView(bs.principal, doc, s.api != nil))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id, bs := s.sessions.get(r)
	if bs == nil {
		id = s.sessions.ensure(w, r)
		bs = &browserSession{}
	}

	req, err := s.manager.StartLogin(r.Context(), session.LoginOptions{
		RedirectURI: s.CallbackURL(),
		Principal:   bs.principal,
	})
	if err != nil {
		s.renderError(w, err)
		return
	}

	s.sessions.update(id, func(b *browserSession) {
		b.pendingState = req.State
		b.principal = ""
	})
	http.Redirect(w, r, req.URL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	if e := q.Get("error"); e != "" {
		logging.Warn("Server", "Provider returned error %q: %s", e, q.Get("error_description"))
		s.manager.DiscardLogin(state)
		if id, bs := s.sessions.get(r); bs != nil && bs.pendingState == state {
			s.sessions.update(id, func(b *browserSession) { b.pendingState = "" })
		}
		render(w, http.StatusBadRequest, errorPage, errorView{
			Title:   "Sign-in was not completed",
			Message: fmt.Sprintf("The identity provider reported %s. %s", e, q.Get("error_description")),
		})
		return
	}

	id, bs := s.sessions.get(r)
	if bs == nil || bs.pendingState == "" || bs.pendingState != state {
		// The state was not issued to this browser. It is spent all the same.
		s.manager.DiscardLogin(state)
		s.renderError(w, &oauth.StateMismatchError{Reason: "state does not belong to this browser"})
		return
	}

	principal, _, err := s.manager.HandleCallback(r.Context(), q.Get("code"), state)
	s.sessions.update(id, func(b *browserSession) { b.pendingState = "" })
	if err != nil {
		s.renderError(w, err)
		return
	}

	s.sessions.update(id, func(b *browserSession) { b.principal = principal })
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, bs := s.sessions.get(r)
	if bs != nil {
		if bs.principal != "" {
			if err := s.manager.Logout(r.Context(), bs.principal); err != nil {
				logging.Error("Server", err, "Logout failed")
			}
		}
		s.sessions.remove(w, id)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if s.api == nil {
		http.NotFound(w, r)
		return
	}

	id, bs := s.sessions.get(r)
	if bs == nil || bs.principal == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	path := chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	resp, err := s.api.Get(r.Context(), bs.principal, path)
	if err != nil {
		if oauth.RequiresLogin(err) {
			s.forget(id)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		logging.Error("Server", err, "Resource call failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream_unavailable"})
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.Debug("Server", "Copying resource response failed: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"pendingLogins":   s.manager.PendingLogins(),
		"browserSessions": s.sessions.count(),
	})
}

// forget unbinds the principal after its session ended server-side.
func (s *Server) forget(id string) {
	s.sessions.update(id, func(b *browserSession) { b.principal = "" })
}

// renderError maps lifecycle errors to a page with a way back to /login.
func (s *Server) renderError(w http.ResponseWriter, err error) {
	view := errorView{Title: "Something went wrong", Message: "Please try signing in again."}
	status := http.StatusInternalServerError

	var (
		mismatch  *oauth.StateMismatchError
		exchange  *oauth.TokenExchangeError
		discovery *oauth.DiscoveryError
	)
	switch {
	case errors.As(err, &mismatch):
		status = http.StatusBadRequest
		view.Title = "This sign-in link is no longer valid"
		view.Message = "It expired, was already used, or was started in another browser."
	case errors.As(err, &exchange):
		status = http.StatusBadGateway
		view.Title = "Sign-in failed"
		view.Message = "The identity provider did not accept the login."
	case errors.As(err, &discovery):
		status = http.StatusBadGateway
		view.Title = "The identity provider is unavailable"
	case errors.Is(err, session.ErrRedirectNotAllowed):
		status = http.StatusBadRequest
		view.Title = "Misconfigured redirect"
	}

	logging.Warn("Server", "%s: %v", view.Title, err)
	render(w, status, errorPage, view)
}

type field struct {
	Key   string
	Value string
}

type profile struct {
	Principal string
	Name      string
	Fields    []field
	HasAPI    bool
}

func profileView(principal oauth.Principal, doc map[string]any, hasAPI bool) profile {
	p := profile{Principal: principal.String(), HasAPI: hasAPI}

	first, _ := doc["firstName"].(string)
	last, _ := doc["lastName"].(string)
	switch {
	case first != "" || last != "":
		p.Name = first + " " + last
	default:
		p.Name, _ = doc["name"].(string)
	}

	for k, v := range doc {
		p.Fields = append(p.Fields, field{Key: k, Value: fmt.Sprint(v)})
	}
	sort.Slice(p.Fields, func(i, j int) bool { return p.Fields[i].Key < p.Fields[j].Key })
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setSecurityHeaders(w http.ResponseWriter) {
	loopback.SetSecurityHeaders(w)
}
