// Package recall retrieves short excerpts of prior conversation for prompt
// injection. Curated memories are searched first because they are denser and
// cheaper to scan; raw transcript fallback guarantees recall before any
// summarization has happened.
package recall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DavidPainting/dti-characters/internal/store"
)

const (
	maxQueryTerms      = 5
	minTermLen         = 4
	fallbackCandidates = 30

	memoryExcerptLen = 700
	neighborLineLen  = 320
	matchLineLen     = 480
)

// Searcher is the slice of the store the engine needs.
type Searcher interface {
	SearchMemories(ctx context.Context, userID, character string, terms []string, since time.Time, limit int) ([]store.Memory, error)
	SearchMessages(ctx context.Context, userID, character string, terms []string, since time.Time, limit int) ([]store.MessageHit, error)
	MessageBefore(ctx context.Context, transcriptID string, before time.Time) (store.Message, bool, error)
	MessageAfter(ctx context.Context, transcriptID string, after time.Time) (store.Message, bool, error)
}

// Engine produces ordered, most-relevant-first snippet lists.
type Engine struct {
	store Searcher
	now   func() time.Time
}

func NewEngine(s Searcher) *Engine {
	return &Engine{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Retrieve returns up to maxSnippets excerpts for the query, or nil when the
// query is too short or carries no usable terms.
func (e *Engine) Retrieve(ctx context.Context, userID, character, query string, lookbackDays, maxSnippets int) ([]string, error) {
	if len(strings.TrimSpace(query)) < 3 || maxSnippets <= 0 {
		return nil, nil
	}
	terms := QueryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	since := e.now().AddDate(0, 0, -lookbackDays)

	var hits []string

	memories, err := e.store.SearchMemories(ctx, userID, character, terms, since, maxSnippets*2)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	for _, m := range memories {
		label := m.Title
		if label == "" {
			label = m.Kind
		}
		if label == "" {
			label = "memory"
		}
		stamp := m.CreatedAt.UTC().Format("2006-01-02")
		hits = append(hits, fmt.Sprintf("[From %s • %s] %s", stamp, label, truncate(m.Content, memoryExcerptLen)))
		if len(hits) >= maxSnippets {
			return hits, nil
		}
	}

	matches, err := e.store.SearchMessages(ctx, userID, character, terms, since, fallbackCandidates)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	seen := make(map[string]bool)
	for _, m := range matches {
		key := m.TranscriptID + "|" + m.CreatedAt.UTC().Format(time.RFC3339Nano)
		if seen[key] {
			continue
		}
		seen[key] = true

		var lines []string
		if prev, ok, err := e.store.MessageBefore(ctx, m.TranscriptID, m.CreatedAt); err != nil {
			return nil, fmt.Errorf("fetch preceding message: %w", err)
		} else if ok {
			lines = append(lines, fmt.Sprintf("%s: %s", capitalize(prev.Role), truncate(strings.TrimSpace(prev.Content), neighborLineLen)))
		}
		lines = append(lines, fmt.Sprintf("%s (match): %s", capitalize(m.Role), truncate(strings.TrimSpace(m.Content), matchLineLen)))
		if next, ok, err := e.store.MessageAfter(ctx, m.TranscriptID, m.CreatedAt); err != nil {
			return nil, fmt.Errorf("fetch following message: %w", err)
		} else if ok {
			lines = append(lines, fmt.Sprintf("%s: %s", capitalize(next.Role), truncate(strings.TrimSpace(next.Content), neighborLineLen)))
		}

		stamp := m.TranscriptStartedAt.UTC().Format("2006-01-02")
		hits = append(hits, fmt.Sprintf("[From %s] %s", stamp, strings.Join(lines, "\n")))
		if len(hits) >= maxSnippets {
			break
		}
	}
	return hits, nil
}

// QueryTerms extracts the distinct lowercase terms of length >= 4, preserving
// first-appearance order and capping at 5 terms so searches stay bounded.
func QueryTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, raw := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(raw)) < minTermLen || seen[raw] {
			continue
		}
		seen[raw] = true
		terms = append(terms, raw)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return terms
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
