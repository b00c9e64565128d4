package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DavidPainting/dti-characters/internal/completion"
	"github.com/DavidPainting/dti-characters/internal/store"
)

func seedConversation(t *testing.T, st *store.InMemoryStore, transcriptID string) {
	t.Helper()
	ctx := context.Background()
	err := st.CreateTranscript(ctx, store.Transcript{
		ID: transcriptID, UserID: "u1", Character: "mara",
		StartedAt: time.Now().UTC(), MonthKey: "2025-06",
	})
	if err != nil {
		t.Fatalf("CreateTranscript error = %v", err)
	}
	for _, m := range []store.Message{
		{TranscriptID: transcriptID, Role: store.RoleUser, Content: "My name is Dawn."},
		{TranscriptID: transcriptID, Role: store.RoleAssistant, Content: "Lovely to meet you, Dawn."},
	} {
		if err := st.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage error = %v", err)
		}
	}
}

func TestEndSessionValidation(t *testing.T) {
	client, _ := scriptedClient("{}", flatUsage)
	svc, _ := newTestService(t, testConfig(), client, stubRecall{})

	cases := []EndRequest{
		{UserID: "u1", Character: "", TranscriptID: "t1"},
		{UserID: "u1", Character: "mara", TranscriptID: ""},
	}
	for _, req := range cases {
		if _, err := svc.EndSession(context.Background(), req); !errors.Is(err, ErrValidation) {
			t.Fatalf("EndSession(%+v) error = %v, want ErrValidation", req, err)
		}
	}
}

func TestEndSessionOwnershipCheck(t *testing.T) {
	ctx := context.Background()
	client, _ := scriptedClient("{}", flatUsage)
	svc, st := newTestService(t, testConfig(), client, stubRecall{})
	seedConversation(t, st, "t1")

	cases := []EndRequest{
		{UserID: "u1", Character: "mara", TranscriptID: "missing"},
		{UserID: "someone-else", Character: "mara", TranscriptID: "t1"},
		{UserID: "u1", Character: "elio", TranscriptID: "t1"},
	}
	for _, req := range cases {
		if _, err := svc.EndSession(ctx, req); !errors.Is(err, ErrTranscriptNotFound) {
			t.Fatalf("EndSession(%+v) error = %v, want ErrTranscriptNotFound", req, err)
		}
	}
}

func TestEndSessionPersistsExtraction(t *testing.T) {
	ctx := context.Background()
	extraction := `{
		"profile_updates": {
			"display_name": "Dawn",
			"preferences": ["gardening"],
			"mood": "should be dropped"
		},
		"memories": [
			{"kind": "fact", "title": "Name", "content": "Goes by Dawn.", "tags": ["identity", "name"], "importance": 4},
			{"kind": "followup", "title": "Check in", "content": "Ask about the garden.", "importance": 9, "follow_up_after": "2025-07-01"},
			{"kind": "fact", "title": "Empty", "content": "   "}
		]
	}`
	var gotSystem string
	client := &completion.MockClient{
		Respond: func(messages []completion.Message, temperature float64) (completion.Result, error) {
			gotSystem = messages[0].Content
			if temperature != 0.2 {
				return completion.Result{}, errors.New("unexpected temperature")
			}
			return completion.Result{Text: extraction, Usage: completion.Usage{PromptTokens: 50, CompletionTokens: 25, TotalTokens: 75}}, nil
		},
	}
	svc, st := newTestService(t, testConfig(), client, stubRecall{})
	seedConversation(t, st, "t1")

	res, err := svc.EndSession(ctx, EndRequest{UserID: "u1", Character: "mara", TranscriptID: "t1"})
	if err != nil {
		t.Fatalf("EndSession error = %v", err)
	}
	if !res.ProfileUpdated || res.MemoriesAdded != 2 {
		t.Fatalf("result = %+v, want profile updated and 2 memories", res)
	}
	if !strings.Contains(gotSystem, "post-conversation curator") {
		t.Fatalf("curator instruction missing from prompt")
	}

	p, err := st.GetProfile(ctx, "u1", "mara")
	if err != nil {
		t.Fatalf("GetProfile error = %v", err)
	}
	if p.DisplayName != "Dawn" {
		t.Fatalf("DisplayName = %q", p.DisplayName)
	}
	if _, ok := p.Document["mood"]; ok {
		t.Fatalf("unknown profile key survived the schema filter")
	}
	if _, ok := p.Document["preferences"]; !ok {
		t.Fatalf("preferences missing from profile document")
	}

	mems, err := st.SearchMemories(ctx, "u1", "mara", []string{"dawn", "garden"}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("SearchMemories error = %v", err)
	}
	if len(mems) != 2 {
		t.Fatalf("got %d memories, want 2", len(mems))
	}
	for _, m := range mems {
		switch m.Title {
		case "Name":
			if m.Importance != 4 || m.Tags != "identity,name" {
				t.Fatalf("fact memory = %+v", m)
			}
		case "Check in":
			if m.Importance != 5 {
				t.Fatalf("importance %d not clamped to 5", m.Importance)
			}
			if m.FollowUpAfter == nil || m.FollowUpAfter.Format("2006-01-02") != "2025-07-01" {
				t.Fatalf("follow-up = %v", m.FollowUpAfter)
			}
		default:
			t.Fatalf("unexpected memory %+v", m)
		}
	}

	// The summariser's own usage lands on the transcript and the summary
	// notice carries it.
	tr, err := st.GetTranscript(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTranscript error = %v", err)
	}
	if tr.TokenTotal != 75 {
		t.Fatalf("transcript total = %d, want summariser usage 75", tr.TokenTotal)
	}
	if tr.EndedAt == nil {
		t.Fatalf("transcript not closed")
	}
	msgs, err := st.ListMessages(ctx, "t1", []string{store.RoleSystemUI})
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "Session summarised") || msgs[0].UsageTotal != 75 {
		t.Fatalf("summary notice = %+v", msgs)
	}
}

func TestEndSessionProfileMergeIsShallow(t *testing.T) {
	ctx := context.Background()
	client := &completion.MockClient{
		Respond: func([]completion.Message, float64) (completion.Result, error) {
			return completion.Result{
				Text:  `{"profile_updates": {"preferences": ["painting"]}, "memories": []}`,
				Usage: flatUsage,
			}, nil
		},
	}
	svc, st := newTestService(t, testConfig(), client, stubRecall{})
	seedConversation(t, st, "t1")

	err := st.SaveProfile(ctx, store.Profile{
		UserID: "u1", Character: "mara", DisplayName: "Dawn",
		Document: map[string]any{
			"preferences": []any{"gardening", "tea"},
			"key_events":  []any{map[string]any{"label": "moved house"}},
		},
		FirstSeen: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveProfile error = %v", err)
	}

	if _, err := svc.EndSession(ctx, EndRequest{UserID: "u1", Character: "mara", TranscriptID: "t1"}); err != nil {
		t.Fatalf("EndSession error = %v", err)
	}

	p, err := st.GetProfile(ctx, "u1", "mara")
	if err != nil {
		t.Fatalf("GetProfile error = %v", err)
	}
	prefs, ok := p.Document["preferences"].([]any)
	if !ok || len(prefs) != 1 || prefs[0] != "painting" {
		t.Fatalf("preferences = %v, want wholesale overwrite", p.Document["preferences"])
	}
	if _, ok := p.Document["key_events"]; !ok {
		t.Fatalf("untouched key dropped by merge")
	}
	if p.DisplayName != "Dawn" {
		t.Fatalf("DisplayName = %q, want preserved", p.DisplayName)
	}
}

func TestEndSessionFailureWritesNotice(t *testing.T) {
	ctx := context.Background()
	client := &completion.MockClient{
		Respond: func([]completion.Message, float64) (completion.Result, error) {
			return completion.Result{}, errors.New("curator unavailable")
		},
	}
	svc, st := newTestService(t, testConfig(), client, stubRecall{})
	seedConversation(t, st, "t1")

	_, err := svc.EndSession(ctx, EndRequest{UserID: "u1", Character: "mara", TranscriptID: "t1"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("EndSession error = %v, want ErrUpstream", err)
	}

	msgs, err := st.ListMessages(ctx, "t1", []string{store.RoleSystemUI})
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Content, "Summary failed: ") {
		t.Fatalf("failure notice = %+v", msgs)
	}

	tr, err := st.GetTranscript(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTranscript error = %v", err)
	}
	if tr.EndedAt != nil {
		t.Fatalf("failed summary closed the transcript")
	}
	if tr.TokenTotal != 0 {
		t.Fatalf("failed summary charged %d tokens", tr.TokenTotal)
	}
	mems, err := st.SearchMemories(ctx, "u1", "mara", []string{"dawn"}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("SearchMemories error = %v", err)
	}
	if len(mems) != 0 {
		t.Fatalf("failed summary wrote %d memories", len(mems))
	}
}

func TestEndSessionRejectsNonJSONExtraction(t *testing.T) {
	ctx := context.Background()
	client := &completion.MockClient{
		Respond: func([]completion.Message, float64) (completion.Result, error) {
			return completion.Result{Text: "I could not produce JSON, sorry.", Usage: flatUsage}, nil
		},
	}
	svc, st := newTestService(t, testConfig(), client, stubRecall{})
	seedConversation(t, st, "t1")

	_, err := svc.EndSession(ctx, EndRequest{UserID: "u1", Character: "mara", TranscriptID: "t1"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("EndSession error = %v, want ErrUpstream", err)
	}
	tr, err := st.GetTranscript(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTranscript error = %v", err)
	}
	if tr.EndedAt != nil {
		t.Fatalf("unparsable extraction closed the transcript")
	}
}

func TestMemoryClamps(t *testing.T) {
	client, _ := scriptedClient("{}", flatUsage)
	svc, _ := newTestService(t, testConfig(), client, stubRecall{})

	tr := store.Transcript{ID: "t1", UserID: "u1", Character: "mara"}
	m := svc.memoryFromCandidate(tr, memoryCandidate{
		Kind:    strings.Repeat("k", 40),
		Title:   strings.Repeat("t", 300),
		Content: "body",
		Tags:    []string{strings.Repeat("a", 150), strings.Repeat("b", 150)},
	})
	if len([]rune(m.Kind)) != 24 {
		t.Fatalf("kind length = %d, want 24", len([]rune(m.Kind)))
	}
	if len([]rune(m.Title)) != 200 {
		t.Fatalf("title length = %d, want 200", len([]rune(m.Title)))
	}
	if len([]rune(m.Tags)) != 200 {
		t.Fatalf("tags length = %d, want 200", len([]rune(m.Tags)))
	}
	if m.Importance != 2 {
		t.Fatalf("default importance = %d, want 2", m.Importance)
	}

	if got := svc.memoryFromCandidate(tr, memoryCandidate{Content: "x", Importance: -3}); got.Importance != 1 {
		t.Fatalf("negative importance clamped to %d, want 1", got.Importance)
	}
	if got := svc.memoryFromCandidate(tr, memoryCandidate{Content: "x"}); got.Kind != "insight" {
		t.Fatalf("default kind = %q, want insight", got.Kind)
	}
}

func TestParseFollowUpDefensive(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"2025-07-01", true},
		{"2025-07-01T10:00:00", true},
		{"2025-07-01T10:00:00Z", true},
		{"next spring", false},
		{"", false},
	}
	for _, tc := range cases {
		got := parseFollowUp(tc.raw)
		if (got != nil) != tc.want {
			t.Fatalf("parseFollowUp(%q) = %v, want present=%v", tc.raw, got, tc.want)
		}
	}
}
