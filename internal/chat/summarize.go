package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DavidPainting/dti-characters/internal/completion"
	"github.com/DavidPainting/dti-characters/internal/store"
)

// transcriptTextBudget bounds the extraction prompt; only the most recent
// characters of the conversation are sent.
const transcriptTextBudget = 12000

const (
	maxMemoryKindLen  = 24
	maxMemoryTitleLen = 200
	maxMemoryTagsLen  = 200
)

const curatorInstruction = `You are a post-conversation curator for a character.
Given the conversation, return JSON with fields:
{
  "profile_updates": {
    "display_name": string|optional,
    "relationships": array of {"name": string, "relation": string}|optional,
    "preferences": array of string|optional,
    "key_events": array of {"label": string, "date": string (ISO or natural), "notes": string}|optional
  },
  "memories": [
     {"kind": "fact|preference|event|insight|followup",
      "title": string, "content": string, "tags": [string],
      "importance": 1-5, "follow_up_after": string|optional}
  ]
}
Only include items you are confident about. Be concise; do not invent details.`

// profileKeys is the closed schema for profile_updates; anything else the
// extraction returns is dropped at the parse boundary.
var profileKeys = map[string]bool{
	"display_name":  true,
	"relationships": true,
	"preferences":   true,
	"key_events":    true,
}

type extractionPayload struct {
	ProfileUpdates map[string]json.RawMessage `json:"profile_updates"`
	Memories       []memoryCandidate          `json:"memories"`
}

type memoryCandidate struct {
	Kind          string   `json:"kind"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Tags          []string `json:"tags"`
	Importance    int      `json:"importance"`
	FollowUpAfter string   `json:"follow_up_after"`
}

// EndSession summarizes a finished conversation into the durable profile and
// discrete memories, then closes the transcript. On extraction failure a
// system-ui turn records the error and nothing is partially written.
func (s *Service) EndSession(ctx context.Context, req EndRequest) (EndResult, error) {
	if strings.TrimSpace(req.Character) == "" || strings.TrimSpace(req.TranscriptID) == "" {
		return EndResult{}, ErrValidation
	}

	tr, err := s.store.GetTranscript(ctx, req.TranscriptID)
	if errors.Is(err, store.ErrNotFound) {
		return EndResult{}, ErrTranscriptNotFound
	}
	if err != nil {
		return EndResult{}, fmt.Errorf("load transcript: %w", err)
	}
	if tr.UserID != req.UserID || tr.Character != req.Character {
		return EndResult{}, ErrTranscriptNotFound
	}

	convoText, err := s.transcriptText(ctx, tr.ID)
	if err != nil {
		return EndResult{}, err
	}

	result, err := s.client.CompleteJSON(ctx, []completion.Message{
		{Role: "system", Content: curatorInstruction},
		{Role: "user", Content: fmt.Sprintf("Character: %s\n\nConversation:\n%s", req.Character, convoText)},
	}, 0.2)
	if err == nil {
		var payload extractionPayload
		if jsonErr := json.Unmarshal([]byte(result.Text), &payload); jsonErr != nil {
			err = fmt.Errorf("parse extraction: %w", jsonErr)
		} else {
			return s.persistExtraction(ctx, tr, result.Usage, payload)
		}
	}

	if persistErr := s.appendSystemUI(ctx, tr.ID, "Summary failed: "+err.Error()); persistErr != nil {
		s.log.Error().Err(persistErr).Str("transcript_id", tr.ID).Msg("failed to record summary failure")
	}
	return EndResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
}

func (s *Service) transcriptText(ctx context.Context, transcriptID string) (string, error) {
	msgs, err := s.store.ListMessages(ctx, transcriptID, []string{store.RoleUser, store.RoleAssistant})
	if err != nil {
		return "", fmt.Errorf("list transcript turns: %w", err)
	}
	var lines []string
	for _, m := range msgs {
		role := "Character"
		if m.Role == store.RoleUser {
			role = "User"
		}
		lines = append(lines, role+": "+strings.TrimSpace(m.Content))
	}
	text := strings.Join(lines, "\n\n")
	if runes := []rune(text); len(runes) > transcriptTextBudget {
		text = string(runes[len(runes)-transcriptTextBudget:])
	}
	return text, nil
}

func (s *Service) persistExtraction(ctx context.Context, tr store.Transcript, u completion.Usage, payload extractionPayload) (EndResult, error) {
	// The summariser's own tokens count against the month too.
	if err := s.store.BumpTranscriptTotals(ctx, tr.ID, u.PromptTokens, u.CompletionTokens, u.TotalTokens); err != nil {
		return EndResult{}, fmt.Errorf("bump summary usage: %w", err)
	}
	if err := s.store.AppendMessage(ctx, store.Message{
		TranscriptID: tr.ID,
		Role:         store.RoleSystemUI,
		Content:      "Session summarised (profile/memories updated).",
		UsageInput:   u.PromptTokens,
		UsageOutput:  u.CompletionTokens,
		UsageTotal:   u.TotalTokens,
	}); err != nil {
		return EndResult{}, fmt.Errorf("persist summary turn: %w", err)
	}

	var res EndResult
	updates := filterProfileUpdates(payload.ProfileUpdates)
	if len(updates) > 0 {
		if err := s.mergeProfile(ctx, tr.UserID, tr.Character, updates); err != nil {
			return EndResult{}, err
		}
		res.ProfileUpdated = true
	}

	items := make([]store.Memory, 0, len(payload.Memories))
	for _, c := range payload.Memories {
		items = append(items, s.memoryFromCandidate(tr, c))
	}
	added, err := s.store.AddMemories(ctx, items)
	if err != nil {
		return EndResult{}, fmt.Errorf("add memories: %w", err)
	}
	res.MemoriesAdded = added

	if err := s.store.CloseTranscript(ctx, tr.ID, s.now()); err != nil {
		return EndResult{}, fmt.Errorf("close transcript: %w", err)
	}
	return res, nil
}

// filterProfileUpdates enforces the closed profile schema at the boundary.
func filterProfileUpdates(raw map[string]json.RawMessage) map[string]any {
	out := make(map[string]any)
	for key, val := range raw {
		if !profileKeys[key] {
			continue
		}
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil || decoded == nil {
			continue
		}
		out[key] = decoded
	}
	return out
}

// mergeProfile is a shallow key merge: new keys added, existing keys
// overwritten wholesale, never a deep structural merge.
func (s *Service) mergeProfile(ctx context.Context, userID, character string, updates map[string]any) error {
	now := s.now()
	p, err := s.store.GetProfile(ctx, userID, character)
	if errors.Is(err, store.ErrNotFound) {
		p = store.Profile{
			ID:        uuid.NewString(),
			UserID:    userID,
			Character: character,
			FirstSeen: now,
		}
	} else if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	if p.Document == nil {
		p.Document = make(map[string]any)
	}
	for k, v := range updates {
		p.Document[k] = v
	}
	if name, ok := updates["display_name"].(string); ok && strings.TrimSpace(name) != "" {
		p.DisplayName = strings.TrimSpace(name)
	}
	p.LastSeen = now

	if err := s.store.SaveProfile(ctx, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *Service) memoryFromCandidate(tr store.Transcript, c memoryCandidate) store.Memory {
	kind := strings.TrimSpace(c.Kind)
	if kind == "" {
		kind = "insight"
	}
	importance := c.Importance
	if importance == 0 {
		importance = 2
	}
	if importance < 1 {
		importance = 1
	}
	if importance > 5 {
		importance = 5
	}
	return store.Memory{
		UserID:        tr.UserID,
		Character:     tr.Character,
		TranscriptID:  tr.ID,
		Kind:          clamp(kind, maxMemoryKindLen),
		Title:         clamp(strings.TrimSpace(c.Title), maxMemoryTitleLen),
		Content:       strings.TrimSpace(c.Content),
		Tags:          clamp(strings.Join(c.Tags, ","), maxMemoryTagsLen),
		Importance:    importance,
		FollowUpAfter: parseFollowUp(c.FollowUpAfter),
		CreatedAt:     s.now(),
	}
}

// parseFollowUp is defensive: an unparsable timestamp is treated as absent,
// never as an error.
func parseFollowUp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func clamp(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
