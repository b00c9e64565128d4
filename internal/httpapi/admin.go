package httpapi

import (
	"crypto/subtle"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DavidPainting/dti-characters/internal/store"
	"github.com/DavidPainting/dti-characters/internal/usage"
)

// requireAdmin guards the read-only reporting surface. An unset ADMIN_TOKEN
// disables the whole subtree.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if s.cfg.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAdminPing(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminListTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	rows, err := s.store.ListTranscripts(r.Context(), store.TranscriptFilter{
		UserID:    r.URL.Query().Get("user_id"),
		Character: r.URL.Query().Get("character"),
		Limit:     limit,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("transcript listing failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "listing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleAdminUsageMonth(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = usage.MonthKey(time.Now())
	}
	rows, err := s.store.MonthlyUsageByUser(r.Context(), month)
	if err != nil {
		s.log.Error().Err(err).Msg("usage report failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "report failed")
		return
	}
	if uid := r.URL.Query().Get("user_id"); uid != "" {
		filtered := rows[:0]
		for _, row := range rows {
			if row.UserID == uid {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"user_id", "token_input", "token_output", "token_total"})
		for _, row := range rows {
			_ = cw.Write([]string{
				row.UserID,
				strconv.Itoa(row.TokenInput),
				strconv.Itoa(row.TokenOutput),
				strconv.Itoa(row.TokenTotal),
			})
		}
		cw.Flush()
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"month": month, "rows": rows})
}

// handleAdminExportTranscript streams one transcript's messages as CSV,
// oldest first.
func (s *Server) handleAdminExportTranscript(w http.ResponseWriter, r *http.Request) {
	tid := chi.URLParam(r, "id")
	if _, err := s.store.GetTranscript(r.Context(), tid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Transcript %s not found", tid))
			return
		}
		s.log.Error().Err(err).Str("transcript_id", tid).Msg("transcript export failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "export failed")
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), tid, nil)
	if err != nil {
		s.log.Error().Err(err).Str("transcript_id", tid).Msg("transcript export failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "export failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"created_at", "role", "content", "usage_input", "usage_output", "usage_total"})
	for _, m := range msgs {
		_ = cw.Write([]string{
			m.CreatedAt.UTC().Format(time.RFC3339Nano),
			m.Role,
			m.Content,
			strconv.Itoa(m.UsageInput),
			strconv.Itoa(m.UsageOutput),
			strconv.Itoa(m.UsageTotal),
		})
	}
	cw.Flush()
}

// handleAdminExportTable dumps a whitelisted table as CSV. The whitelist
// lives in the store, which rejects unknown names.
func (s *Server) handleAdminExportTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := queryInt(r, "limit", s.cfg.AdminMaxRows)
	if limit > s.cfg.AdminMaxRows {
		limit = s.cfg.AdminMaxRows
	}
	offset := queryInt(r, "offset", 0)

	cols, rows, err := s.store.ExportTable(r.Context(), name, limit, offset)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown table %q", name))
			return
		}
		s.log.Error().Err(err).Str("table", name).Msg("table export failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "export failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	_ = cw.Write(cols)
	for _, row := range rows {
		_ = cw.Write(row)
	}
	cw.Flush()
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
