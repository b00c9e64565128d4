package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/DavidPainting/dti-characters/internal/chat"
)

type askRequest struct {
	Character  string `json:"character"`
	UserInput  string `json:"user_input"`
	HoldPhrase string `json:"hold_phrase,omitempty"`
}

type endRequest struct {
	Character    string `json:"character"`
	TranscriptID string `json:"transcript_id"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.metrics.AskRequests.WithLabelValues("invalid").Inc()
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	input := req.UserInput
	if req.HoldPhrase != "" {
		input = fmt.Sprintf("(Earlier you said: %q)\n\n%s", req.HoldPhrase, input)
	}

	p := principalFrom(r)
	resp, err := s.chat.Ask(r.Context(), chat.AskRequest{
		UserID:    p.UserID,
		Character: req.Character,
		UserInput: input,
	})
	switch {
	case errors.Is(err, chat.ErrValidation):
		s.metrics.AskRequests.WithLabelValues("invalid").Inc()
		respondError(w, http.StatusBadRequest, "bad_request", "Missing character or user_input")
	case errors.Is(err, chat.ErrPersonaNotFound):
		s.metrics.AskRequests.WithLabelValues("persona_not_found").Inc()
		respondError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Character '%s' not found.", req.Character))
	case errors.Is(err, chat.ErrBanned):
		s.metrics.AskRequests.WithLabelValues("banned").Inc()
		respondJSON(w, http.StatusForbidden, map[string]any{
			"system_ui":    chat.BannedNotice(),
			"capped":       false,
			"feedback_url": s.cfg.FeedbackURL,
		})
	case errors.Is(err, chat.ErrUpstream):
		s.metrics.AskRequests.WithLabelValues("upstream_error").Inc()
		respondError(w, http.StatusInternalServerError, "upstream_error", err.Error())
	case err != nil:
		s.metrics.AskRequests.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Str("user_id", p.UserID).Msg("ask failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	case resp.Capped:
		s.metrics.AskRequests.WithLabelValues("capped").Inc()
		respondJSON(w, http.StatusPaymentRequired, resp)
	default:
		s.metrics.AskRequests.WithLabelValues("ok").Inc()
		respondJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	p := principalFrom(r)
	res, err := s.chat.EndSession(r.Context(), chat.EndRequest{
		UserID:       p.UserID,
		Character:    req.Character,
		TranscriptID: req.TranscriptID,
	})
	switch {
	case errors.Is(err, chat.ErrValidation):
		respondError(w, http.StatusBadRequest, "bad_request", "Missing character or transcript_id")
	case errors.Is(err, chat.ErrTranscriptNotFound):
		respondError(w, http.StatusNotFound, "not_found", "Transcript not found")
	case errors.Is(err, chat.ErrUpstream):
		respondError(w, http.StatusInternalServerError, "upstream_error", err.Error())
	case err != nil:
		s.log.Error().Err(err).Str("transcript_id", req.TranscriptID).Msg("end session failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	default:
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":              true,
			"profile_updated": res.ProfileUpdated,
			"memories_added":  res.MemoriesAdded,
		})
	}
}
