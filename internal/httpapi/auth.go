package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DavidPainting/dti-characters/internal/identity"
	"github.com/DavidPainting/dti-characters/internal/store"
)

type authStartRequest struct {
	Email string `json:"email"`
}

// handleAuthStart finds or creates the account for an email address and sends
// a signed sign-in link. The response never reveals whether the account
// already existed.
func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	var req authStartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Email is required"})
		return
	}

	token, err := s.resolver.StartAuth(r.Context(), email)
	if err != nil {
		s.log.Error().Err(err).Msg("auth start failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "could not start sign-in")
		return
	}

	link := fmt.Sprintf("%s/?uid=%s", baseURL(r), token)
	ok, err := s.mailer.Send(r.Context(), email, link)
	if err != nil {
		s.log.Error().Err(err).Msg("magic link delivery failed")
		ok = false
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": ok})
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMe reports who the cookie resolves to. A guest shows a null email;
// the UI renders that as "saved on this device only".
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	u, err := s.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		// Fail soft so the UI can still render a fresh-device state.
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Str("user_id", p.UserID).Msg("me lookup failed")
		}
		respondJSON(w, http.StatusOK, map[string]any{"signed_in": false, "email": nil})
		return
	}

	var email any
	if u.Email != "" {
		email = u.Email
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"signed_in": true,
		"user_id":   u.ID,
		"email":     email,
	})
}

func (s *Server) handleTrial(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	prog := identity.TrialProgressFor(p.Session, s.cfg.SessionDays, time.Now().UTC())
	respondJSON(w, http.StatusOK, prog)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	tid := r.URL.Query().Get("tid")
	if tid == "" {
		tid = "(none)"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Thanks for chatting. This is a placeholder feedback endpoint. Transcript: %s", tid)
}
