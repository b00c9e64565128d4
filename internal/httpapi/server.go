// Package httpapi exposes the chat service over HTTP: the conversational
// endpoints, cookie-based session resolution with magic-link landing, and a
// token-guarded read-only admin surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/DavidPainting/dti-characters/internal/chat"
	"github.com/DavidPainting/dti-characters/internal/config"
	"github.com/DavidPainting/dti-characters/internal/identity"
	"github.com/DavidPainting/dti-characters/internal/notify"
	"github.com/DavidPainting/dti-characters/internal/observability"
	"github.com/DavidPainting/dti-characters/internal/store"
)

const sessionCookie = "dti_session"

type Server struct {
	cfg      config.Config
	store    store.Store
	resolver *identity.Resolver
	signer   *identity.Signer
	chat     *chat.Service
	mailer   notify.Sender
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func New(cfg config.Config, st store.Store, resolver *identity.Resolver, signer *identity.Signer, svc *chat.Service, mailer notify.Sender, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		resolver: resolver,
		signer:   signer,
		chat:     svc,
		mailer:   mailer,
		metrics:  metrics,
		log:      log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/feedback", s.handleFeedback)
	r.Post("/auth/start", s.handleAuthStart)

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)
		r.Get("/", s.handleRoot)
		r.Get("/logout", s.handleLogout)
		r.Get("/api/me", s.handleMe)
		r.Get("/api/trial", s.handleTrial)
		r.Post("/api/ask", s.handleAsk)
		r.Post("/api/end", s.handleEnd)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/ping", s.handleAdminPing)
		r.Get("/list/transcripts", s.handleAdminListTranscripts)
		r.Get("/usage/month", s.handleAdminUsageMonth)
		r.Get("/transcript/{id}/export.csv", s.handleAdminExportTranscript)
		r.Get("/export/table/{name}.csv", s.handleAdminExportTable)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleRoot is the magic-link landing page. Token handling happens in the
// session middleware; by the time this runs the visitor is resolved.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type principalKey struct{}

// withSession resolves the visitor for every request in the group: a valid
// signed cookie reuses its session, anything else bootstraps a guest. A
// `?uid=` token completes magic-link sign-in and merges the current guest
// into the account before the session is issued. The cookie is re-set on
// every response so an active visitor never ages out client-side.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		inbound := s.sessionFromCookie(r)

		var p identity.Principal
		var err error
		if token := strings.TrimSpace(r.URL.Query().Get("uid")); token != "" {
			current := ""
			if inbound != "" {
				if existing, rerr := s.resolver.Resolve(ctx, inbound); rerr == nil {
					current = existing.UserID
				}
			}
			p, err = s.resolver.CompleteAuth(ctx, token, current)
			switch {
			case err == nil:
				s.metrics.MergeEvents.WithLabelValues("completed").Inc()
			case errors.Is(err, identity.ErrBadToken):
				// A stale or forged link falls through to the normal path.
				s.metrics.MergeEvents.WithLabelValues("rejected").Inc()
				s.log.Warn().Msg("rejected magic link token")
			default:
				s.log.Error().Err(err).Msg("magic link sign-in failed")
				respondError(w, http.StatusInternalServerError, "session_error", "could not complete sign-in")
				return
			}
		}
		if p.UserID == "" {
			p, err = s.resolver.Resolve(ctx, inbound)
			if err != nil {
				s.log.Error().Err(err).Msg("session resolution failed")
				respondError(w, http.StatusInternalServerError, "session_error", "could not resolve session")
				return
			}
		}

		if p.Session.ID != inbound {
			s.metrics.SessionsCreated.Inc()
		}
		s.setSessionCookie(w, p.Session.ID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, principalKey{}, p)))
	})
}

func principalFrom(r *http.Request) identity.Principal {
	p, _ := r.Context().Value(principalKey{}).(identity.Principal)
	return p
}

func (s *Server) sessionFromCookie(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	id, err := s.signer.Verify(c.Value)
	if err != nil {
		return ""
	}
	return id
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.signer.Sign(sessionID),
		Path:     "/",
		MaxAge:   s.cfg.CookieDays * 86400,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
