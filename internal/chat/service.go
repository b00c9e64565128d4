// Package chat is the conversation orchestration and policy engine: per
// inbound turn it gates on standing and quota, retrieves prior context,
// assembles the prompt, places the single external completion call, applies
// the moderation contract and persists every step durably.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DavidPainting/dti-characters/internal/completion"
	"github.com/DavidPainting/dti-characters/internal/moderation"
	"github.com/DavidPainting/dti-characters/internal/observability"
	"github.com/DavidPainting/dti-characters/internal/store"
	"github.com/DavidPainting/dti-characters/internal/usage"
)

// PromptSource resolves a character id to its system prompt.
type PromptSource interface {
	Load(character string) (string, error)
}

// Recaller retrieves prior-context excerpts for prompt injection.
type Recaller interface {
	Retrieve(ctx context.Context, userID, character, query string, lookbackDays, maxSnippets int) ([]string, error)
}

type Service struct {
	cfg      Config
	store    store.Store
	client   completion.Client
	prompts  PromptSource
	recaller Recaller
	metrics  *observability.Metrics
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(cfg Config, st store.Store, client completion.Client, prompts PromptSource, recaller Recaller, metrics *observability.Metrics, log zerolog.Logger) *Service {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		client:   client,
		prompts:  prompts,
		recaller: recaller,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Ask runs the full orchestration for one user turn. The user's message is
// durable before the completion call is attempted, so a later failure never
// drops their input. A capped outcome is a normal response with Capped set,
// not an error.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	if strings.TrimSpace(req.Character) == "" || strings.TrimSpace(req.UserInput) == "" {
		return AskResponse{}, ErrValidation
	}

	systemPrompt, err := s.prompts.Load(req.Character)
	if err != nil {
		return AskResponse{}, fmt.Errorf("%w: %s", ErrPersonaNotFound, req.Character)
	}

	u, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return AskResponse{}, fmt.Errorf("load user: %w", err)
	}
	if u.Banned {
		return AskResponse{}, ErrBanned
	}

	mk := usage.MonthKey(s.now())
	tr, err := s.findOrCreateTranscript(ctx, req.UserID, req.Character, mk)
	if err != nil {
		return AskResponse{}, err
	}

	// Cap gate reads totals strictly before the model call; a single turn
	// may still push the ledger past the cap, which caps the next call.
	preTotals, err := s.store.MonthlyUsage(ctx, req.UserID, mk)
	if err != nil {
		return AskResponse{}, fmt.Errorf("read monthly usage: %w", err)
	}
	if preTotals.Total >= s.cfg.MonthlyCapTokens {
		if err := s.appendSystemUI(ctx, tr.ID, capNotice); err != nil {
			return AskResponse{}, err
		}
		return AskResponse{
			SystemUI:         capNotice,
			Capped:           true,
			TranscriptID:     tr.ID,
			FeedbackURL:      s.feedbackURL(tr.ID),
			CumulativeTokens: preTotals.Total,
			CapTokens:        s.cfg.MonthlyCapTokens,
		}, nil
	}

	// The user turn must be durable before the external call.
	if err := s.store.AppendMessage(ctx, store.Message{
		TranscriptID: tr.ID,
		Role:         store.RoleUser,
		Content:      req.UserInput,
	}); err != nil {
		return AskResponse{}, fmt.Errorf("persist user turn: %w", err)
	}

	snippets, err := s.recaller.Retrieve(ctx, req.UserID, req.Character, req.UserInput,
		s.cfg.RecallLookbackDays, s.cfg.RecallMaxSnippets)
	if err != nil {
		return AskResponse{}, fmt.Errorf("recall: %w", err)
	}
	s.metrics.RecallSnippets.Observe(float64(len(snippets)))

	var recallNotice, recallContext string
	if len(snippets) > 0 {
		recallContext = "Prior relevant excerpts from this user’s earlier conversations with you:\n\n" +
			strings.Join(snippets, "\n\n---\n\n")
		recallNotice = fmt.Sprintf("Pulled %d note(s) from your previous chats to help continuity.", len(snippets))
	}

	messages, err := s.buildHistory(ctx, tr.ID, systemPrompt, recallContext)
	if err != nil {
		return AskResponse{}, err
	}

	// No storage transaction is held while this call is in flight.
	start := s.now()
	result, err := s.client.Complete(ctx, messages, s.cfg.Temperature)
	s.metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if persistErr := s.appendSystemUI(ctx, tr.ID, "Server error: "+err.Error()); persistErr != nil {
			s.log.Error().Err(persistErr).Str("transcript_id", tr.ID).Msg("failed to record completion error")
		}
		return AskResponse{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// Capture the pre-update total so the warn threshold fires exactly once,
	// on the call that crosses it.
	warnPre, err := s.store.MonthlyUsage(ctx, req.UserID, mk)
	if err != nil {
		return AskResponse{}, fmt.Errorf("read monthly usage: %w", err)
	}

	if err := s.store.AppendMessage(ctx, store.Message{
		TranscriptID: tr.ID,
		Role:         store.RoleAssistant,
		Content:      result.Text,
		UsageInput:   result.Usage.PromptTokens,
		UsageOutput:  result.Usage.CompletionTokens,
		UsageTotal:   result.Usage.TotalTokens,
	}); err != nil {
		return AskResponse{}, fmt.Errorf("persist assistant turn: %w", err)
	}
	if err := s.store.BumpTranscriptTotals(ctx, tr.ID,
		result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Usage.TotalTokens); err != nil {
		return AskResponse{}, fmt.Errorf("bump usage: %w", err)
	}
	s.metrics.TokensConsumed.WithLabelValues("input").Add(float64(result.Usage.PromptTokens))
	s.metrics.TokensConsumed.WithLabelValues("output").Add(float64(result.Usage.CompletionTokens))

	moderationBanner, err := s.applyModeration(ctx, req.UserID, tr.ID, result.Text)
	if err != nil {
		return AskResponse{}, err
	}

	postTotals, err := s.store.MonthlyUsage(ctx, req.UserID, mk)
	if err != nil {
		return AskResponse{}, fmt.Errorf("read monthly usage: %w", err)
	}
	var warnBanner string
	if usage.CrossedThreshold(warnPre.Total, postTotals.Total, s.cfg.MonthlyWarnTokens) {
		warnBanner = warnNotice
		if err := s.appendSystemUI(ctx, tr.ID, warnBanner); err != nil {
			return AskResponse{}, err
		}
	}

	return AskResponse{
		Reply:            result.Text,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		EstimatedCost:    usage.Cost(result.Usage.PromptTokens, result.Usage.CompletionTokens, s.cfg.Rates),
		SystemUI:         joinBanners(recallNotice, moderationBanner, warnBanner),
		Capped:           false,
		TranscriptID:     tr.ID,
		FeedbackURL:      s.feedbackURL(tr.ID),
		CumulativeTokens: postTotals.Total,
		CapTokens:        s.cfg.MonthlyCapTokens,
	}, nil
}

func (s *Service) findOrCreateTranscript(ctx context.Context, userID, character, monthKey string) (store.Transcript, error) {
	tr, err := s.store.FindOpenTranscript(ctx, userID, character, monthKey)
	if err == nil {
		return tr, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Transcript{}, fmt.Errorf("find transcript: %w", err)
	}
	tr = store.Transcript{
		ID:        uuid.NewString(),
		UserID:    userID,
		Character: character,
		StartedAt: s.now(),
		MonthKey:  monthKey,
	}
	if err := s.store.CreateTranscript(ctx, tr); err != nil {
		return store.Transcript{}, fmt.Errorf("create transcript: %w", err)
	}
	return tr, nil
}

// buildHistory assembles the outbound prompt: persona system prompt, optional
// recall context, then the last N user/assistant turn pairs oldest-first,
// ending with the just-recorded user turn.
func (s *Service) buildHistory(ctx context.Context, transcriptID, systemPrompt, recallContext string) ([]completion.Message, error) {
	msgs := []completion.Message{{Role: "system", Content: systemPrompt}}
	if recallContext != "" {
		msgs = append(msgs, completion.Message{Role: "system", Content: recallContext})
	}

	rows, err := s.store.ListMessages(ctx, transcriptID, []string{store.RoleUser, store.RoleAssistant})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if window := s.cfg.HistoryTurns * 2; window > 0 && len(rows) > window {
		rows = rows[len(rows)-window:]
	}
	for _, m := range rows {
		msgs = append(msgs, completion.Message{Role: m.Role, Content: m.Content})
	}
	return msgs, nil
}

// applyModeration decodes the reply's control tag, applies the user-state
// transition and persists the banner turn. The transition fires on tag
// presence alone; a missing mandated disclosure line is only logged.
func (s *Service) applyModeration(ctx context.Context, userID, transcriptID, replyText string) (string, error) {
	tag, fixedPresent := moderation.Parse(replyText)
	if tag == moderation.TagNone {
		return "", nil
	}
	s.metrics.ModerationEvents.WithLabelValues(string(tag)).Inc()
	if !fixedPresent {
		s.log.Warn().Str("tag", string(tag)).Str("transcript_id", transcriptID).
			Msg("moderation tag without its mandated disclosure line")
	}

	if t := moderation.Apply(tag); t.AddAbuse {
		if err := s.store.RecordAbuse(ctx, userID, t.Ban); err != nil {
			return "", fmt.Errorf("apply moderation transition: %w", err)
		}
	}

	banner := moderation.Banner(tag)
	if err := s.appendSystemUI(ctx, transcriptID, banner); err != nil {
		return "", err
	}
	return banner, nil
}

func (s *Service) appendSystemUI(ctx context.Context, transcriptID, text string) error {
	err := s.store.AppendMessage(ctx, store.Message{
		TranscriptID: transcriptID,
		Role:         store.RoleSystemUI,
		Content:      text,
	})
	if err != nil {
		return fmt.Errorf("persist system notice: %w", err)
	}
	return nil
}

func (s *Service) feedbackURL(transcriptID string) string {
	if s.cfg.FeedbackURL == "" {
		return ""
	}
	return s.cfg.FeedbackURL + "?tid=" + transcriptID
}

func joinBanners(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
