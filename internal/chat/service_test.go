package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/DavidPainting/dti-characters/internal/completion"
	"github.com/DavidPainting/dti-characters/internal/moderation"
	"github.com/DavidPainting/dti-characters/internal/observability"
	"github.com/DavidPainting/dti-characters/internal/store"
	"github.com/DavidPainting/dti-characters/internal/usage"
)

type stubPrompts struct{}

func (stubPrompts) Load(character string) (string, error) {
	switch character {
	case "mara", "elio":
		return "You are " + character + ".", nil
	default:
		return "", errors.New("unknown character")
	}
}

type stubRecall struct {
	snippets []string
}

func (r stubRecall) Retrieve(context.Context, string, string, string, int, int) ([]string, error) {
	return r.snippets, nil
}

func testConfig() Config {
	return Config{
		MonthlyWarnTokens:  150,
		MonthlyCapTokens:   250,
		HistoryTurns:       12,
		RecallLookbackDays: 180,
		RecallMaxSnippets:  3,
		Rates:              usage.RatesPerMillion(2.5, 10),
		FeedbackURL:        "https://example.test/fb",
	}
}

func newTestService(t *testing.T, cfg Config, client completion.Client, recaller Recaller) (*Service, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.CreateUser(context.Background(), store.User{ID: "u1", AllowMemory: true}); err != nil {
		t.Fatalf("CreateUser error = %v", err)
	}
	metrics := observability.NewMetrics(fmt.Sprintf("chat_test_%d", time.Now().UnixNano()))
	svc := NewService(cfg, st, client, stubPrompts{}, recaller, metrics, zerolog.Nop())
	return svc, st
}

// scriptedClient returns a fixed reply with fixed usage and records whether it
// was called.
func scriptedClient(text string, u completion.Usage) (*completion.MockClient, *int) {
	calls := new(int)
	c := &completion.MockClient{
		Respond: func([]completion.Message, float64) (completion.Result, error) {
			*calls++
			return completion.Result{Text: text, Usage: u}, nil
		},
	}
	return c, calls
}

var flatUsage = completion.Usage{PromptTokens: 40, CompletionTokens: 60, TotalTokens: 100}

func TestAskValidation(t *testing.T) {
	client, _ := scriptedClient("ok", flatUsage)
	svc, _ := newTestService(t, testConfig(), client, stubRecall{})

	cases := []AskRequest{
		{UserID: "u1", Character: "", UserInput: "hello"},
		{UserID: "u1", Character: "mara", UserInput: ""},
		{UserID: "u1", Character: "mara", UserInput: "   "},
	}
	for _, req := range cases {
		if _, err := svc.Ask(context.Background(), req); !errors.Is(err, ErrValidation) {
			t.Fatalf("Ask(%+v) error = %v, want ErrValidation", req, err)
		}
	}
}

func TestAskUnknownPersona(t *testing.T) {
	client, calls := scriptedClient("ok", flatUsage)
	svc, _ := newTestService(t, testConfig(), client, stubRecall{})

	_, err := svc.Ask(context.Background(), AskRequest{UserID: "u1", Character: "nobody", UserInput: "hello"})
	if !errors.Is(err, ErrPersonaNotFound) {
		t.Fatalf("Ask error = %v, want ErrPersonaNotFound", err)
	}
	if *calls != 0 {
		t.Fatalf("model called for unknown persona")
	}
}

func TestAskBannedUserIsBlocked(t *testing.T) {
	ctx := context.Background()
	client, calls := scriptedClient("ok", flatUsage)
	svc, st := newTestService(t, testConfig(), client, stubRecall{})
	if err := st.RecordAbuse(ctx, "u1", true); err != nil {
		t.Fatalf("RecordAbuse error = %v", err)
	}

	_, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "hello"})
	if !errors.Is(err, ErrBanned) {
		t.Fatalf("Ask error = %v, want ErrBanned", err)
	}
	if *calls != 0 {
		t.Fatalf("model called for banned user")
	}
}

func TestAskHappyPathPersistsBothTurns(t *testing.T) {
	ctx := context.Background()
	client, _ := scriptedClient("Hello there.", flatUsage)
	svc, st := newTestService(t, testConfig(), client, stubRecall{})

	resp, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "hi mara"})
	if err != nil {
		t.Fatalf("Ask error = %v", err)
	}
	if resp.Reply != "Hello there." {
		t.Fatalf("Reply = %q", resp.Reply)
	}
	if resp.TranscriptID == "" {
		t.Fatalf("missing transcript id")
	}
	if resp.PromptTokens != 40 || resp.CompletionTokens != 60 || resp.TotalTokens != 100 {
		t.Fatalf("usage = %d/%d/%d", resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens)
	}
	if resp.CumulativeTokens != 100 || resp.CapTokens != 250 {
		t.Fatalf("ledger fields = %d/%d", resp.CumulativeTokens, resp.CapTokens)
	}
	if want := "https://example.test/fb?tid=" + resp.TranscriptID; resp.FeedbackURL != want {
		t.Fatalf("FeedbackURL = %q, want %q", resp.FeedbackURL, want)
	}
	wantCost := usage.Cost(40, 60, testConfig().Rates)
	if resp.EstimatedCost != wantCost {
		t.Fatalf("EstimatedCost = %v, want %v", resp.EstimatedCost, wantCost)
	}

	msgs, err := st.ListMessages(ctx, resp.TranscriptID, nil)
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d turns, want user + assistant", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "hi mara" {
		t.Fatalf("first turn = %+v", msgs[0])
	}
	if msgs[1].Role != store.RoleAssistant || msgs[1].UsageTotal != 100 {
		t.Fatalf("second turn = %+v", msgs[1])
	}

	// A second call reuses the same month transcript and the ledger is the
	// sum of assistant usage.
	resp2, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "more"})
	if err != nil {
		t.Fatalf("Ask error = %v", err)
	}
	if resp2.TranscriptID != resp.TranscriptID {
		t.Fatalf("second call opened a new transcript")
	}
	if resp2.CumulativeTokens != 200 {
		t.Fatalf("CumulativeTokens = %d, want 200", resp2.CumulativeTokens)
	}
	tr, err := st.GetTranscript(ctx, resp.TranscriptID)
	if err != nil {
		t.Fatalf("GetTranscript error = %v", err)
	}
	if tr.TokenInput != 80 || tr.TokenOutput != 120 || tr.TokenTotal != 200 {
		t.Fatalf("transcript totals = %d/%d/%d", tr.TokenInput, tr.TokenOutput, tr.TokenTotal)
	}
}

func TestAskCapIsCheckedBeforeTheCall(t *testing.T) {
	ctx := context.Background()
	client, calls := scriptedClient("ok", flatUsage)
	cfg := testConfig()
	svc, st := newTestService(t, cfg, client, stubRecall{})

	// 100 tokens per call against a 250 cap: calls 1-3 go through (the third
	// starts at 200, still under the cap, and lands at 300), call 4 is capped.
	var lastResp AskResponse
	for i := 0; i < 3; i++ {
		resp, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "turn"})
		if err != nil {
			t.Fatalf("call %d error = %v", i+1, err)
		}
		if resp.Capped {
			t.Fatalf("call %d capped early at %d tokens", i+1, resp.CumulativeTokens)
		}
		lastResp = resp
	}
	if lastResp.CumulativeTokens != 300 {
		t.Fatalf("ledger after 3 calls = %d, want 300", lastResp.CumulativeTokens)
	}

	before := *calls
	resp, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "one more"})
	if err != nil {
		t.Fatalf("capped call error = %v", err)
	}
	if !resp.Capped {
		t.Fatalf("call over cap not capped")
	}
	if *calls != before {
		t.Fatalf("model called despite cap")
	}
	if resp.SystemUI == "" || !strings.Contains(resp.SystemUI, "monthly usage cap") {
		t.Fatalf("cap notice = %q", resp.SystemUI)
	}
	if resp.CumulativeTokens != 300 || resp.CapTokens != 250 {
		t.Fatalf("capped response ledger = %d/%d", resp.CumulativeTokens, resp.CapTokens)
	}

	// The dropped input never reaches the transcript; only the cap notice does.
	msgs, err := st.ListMessages(ctx, resp.TranscriptID, nil)
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Role != store.RoleSystemUI || !strings.Contains(last.Content, "monthly usage cap") {
		t.Fatalf("last turn = %+v, want cap notice", last)
	}
	for _, m := range msgs {
		if m.Role == store.RoleUser && m.Content == "one more" {
			t.Fatalf("capped input was persisted")
		}
	}
}

func TestAskWarnFiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	client, _ := scriptedClient("ok", flatUsage)
	svc, _ := newTestService(t, testConfig(), client, stubRecall{})

	// Warn threshold 150: call 1 lands at 100 (no warn), call 2 crosses to
	// 200 (warn), call 3 starts above (no warn).
	resp1, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "one"})
	if err != nil {
		t.Fatalf("call 1 error = %v", err)
	}
	if strings.Contains(resp1.SystemUI, "usage threshold") {
		t.Fatalf("warn fired below the threshold: %q", resp1.SystemUI)
	}

	resp2, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "two"})
	if err != nil {
		t.Fatalf("call 2 error = %v", err)
	}
	if !strings.Contains(resp2.SystemUI, "usage threshold") {
		t.Fatalf("warn missing on the crossing call: %q", resp2.SystemUI)
	}

	resp3, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "three"})
	if err != nil {
		t.Fatalf("call 3 error = %v", err)
	}
	if strings.Contains(resp3.SystemUI, "usage threshold") {
		t.Fatalf("warn repeated after the crossing: %q", resp3.SystemUI)
	}
}

func TestAskUserTurnSurvivesCompletionFailure(t *testing.T) {
	ctx := context.Background()
	client := &completion.MockClient{
		Respond: func([]completion.Message, float64) (completion.Result, error) {
			return completion.Result{}, errors.New("upstream unreachable")
		},
	}
	svc, st := newTestService(t, testConfig(), client, stubRecall{})

	_, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "are you there"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("Ask error = %v, want ErrUpstream", err)
	}

	tr, err := st.FindOpenTranscript(ctx, "u1", "mara", usage.MonthKey(time.Now()))
	if err != nil {
		t.Fatalf("FindOpenTranscript error = %v", err)
	}
	msgs, err := st.ListMessages(ctx, tr.ID, nil)
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d turns, want user turn + error notice", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "are you there" {
		t.Fatalf("user turn not durable: %+v", msgs[0])
	}
	if msgs[1].Role != store.RoleSystemUI || !strings.HasPrefix(msgs[1].Content, "Server error: ") {
		t.Fatalf("error notice = %+v", msgs[1])
	}

	totals, err := st.MonthlyUsage(ctx, "u1", usage.MonthKey(time.Now()))
	if err != nil {
		t.Fatalf("MonthlyUsage error = %v", err)
	}
	if totals.Total != 0 {
		t.Fatalf("failed call charged %d tokens", totals.Total)
	}
}

func TestAskModerationWarnBumpsAbuse(t *testing.T) {
	ctx := context.Background()
	reply := moderation.FixedLine(moderation.TagAbuseWarn) + "\n⟦MODERATION:ABUSE_WARN⟧"
	client, _ := scriptedClient(reply, flatUsage)
	svc, st := newTestService(t, testConfig(), client, stubRecall{})

	resp, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "rude thing"})
	if err != nil {
		t.Fatalf("Ask error = %v", err)
	}
	if !strings.Contains(resp.SystemUI, "Please choose respect") {
		t.Fatalf("warn banner missing: %q", resp.SystemUI)
	}

	u, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser error = %v", err)
	}
	if u.AbuseCount != 1 || u.Banned {
		t.Fatalf("user after warn = %+v, want one strike and no ban", u)
	}

	// A warned user can keep talking.
	if _, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "sorry"}); err != nil {
		t.Fatalf("follow-up after warn error = %v", err)
	}
}

func TestAskModerationBanBlocksEveryPersona(t *testing.T) {
	ctx := context.Background()
	reply := moderation.FixedLine(moderation.TagAbuseBan) + "\n⟦MODERATION:ABUSE_BAN⟧"
	client, _ := scriptedClient(reply, flatUsage)
	svc, st := newTestService(t, testConfig(), client, stubRecall{})

	resp, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "worse thing"})
	if err != nil {
		t.Fatalf("Ask error = %v", err)
	}
	if !strings.Contains(resp.SystemUI, "Access revoked") {
		t.Fatalf("ban banner missing: %q", resp.SystemUI)
	}
	u, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser error = %v", err)
	}
	if !u.Banned {
		t.Fatalf("ban tag did not ban the user")
	}

	// The ban is user-level, not per character.
	if _, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "elio", UserInput: "hello"}); !errors.Is(err, ErrBanned) {
		t.Fatalf("other-persona ask error = %v, want ErrBanned", err)
	}
}

func TestAskSelfHarmBannerWithoutStateChange(t *testing.T) {
	ctx := context.Background()
	reply := moderation.FixedLine(moderation.TagSelfHarmUrgent) + "\n⟦MODERATION:SELF_HARM_URGENT⟧"
	client, _ := scriptedClient(reply, flatUsage)
	svc, st := newTestService(t, testConfig(), client, stubRecall{})

	resp, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "dark thoughts"})
	if err != nil {
		t.Fatalf("Ask error = %v", err)
	}
	if !strings.Contains(resp.SystemUI, "URGENT") {
		t.Fatalf("urgent banner missing: %q", resp.SystemUI)
	}
	u, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser error = %v", err)
	}
	if u.AbuseCount != 0 || u.Banned {
		t.Fatalf("safety tag touched user state: %+v", u)
	}
}

func TestAskRecallContextAndNotice(t *testing.T) {
	ctx := context.Background()
	var gotMessages []completion.Message
	client := &completion.MockClient{
		Respond: func(messages []completion.Message, _ float64) (completion.Result, error) {
			gotMessages = messages
			return completion.Result{Text: "ok", Usage: flatUsage}, nil
		},
	}
	recaller := stubRecall{snippets: []string{"[From 2025-05-01 • note] likes tea", "[From 2025-05-02] User (match): rosa"}}
	svc, _ := newTestService(t, testConfig(), client, recaller)

	resp, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: "about rosa"})
	if err != nil {
		t.Fatalf("Ask error = %v", err)
	}
	if !strings.Contains(resp.SystemUI, "Pulled 2 note(s)") {
		t.Fatalf("recall notice = %q", resp.SystemUI)
	}

	if len(gotMessages) < 3 {
		t.Fatalf("prompt has %d messages, want system + recall + user", len(gotMessages))
	}
	if gotMessages[0].Role != "system" || gotMessages[0].Content != "You are mara." {
		t.Fatalf("first message = %+v", gotMessages[0])
	}
	if gotMessages[1].Role != "system" || !strings.Contains(gotMessages[1].Content, "Prior relevant excerpts") {
		t.Fatalf("recall block = %+v", gotMessages[1])
	}
	if !strings.Contains(gotMessages[1].Content, "likes tea") || !strings.Contains(gotMessages[1].Content, "\n\n---\n\n") {
		t.Fatalf("recall block content = %q", gotMessages[1].Content)
	}
	last := gotMessages[len(gotMessages)-1]
	if last.Role != "user" || last.Content != "about rosa" {
		t.Fatalf("prompt does not end with the new user turn: %+v", last)
	}
}

func TestAskHistoryWindow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.HistoryTurns = 2
	cfg.MonthlyCapTokens = 1_000_000
	cfg.MonthlyWarnTokens = 900_000

	var gotMessages []completion.Message
	turn := 0
	client := &completion.MockClient{
		Respond: func(messages []completion.Message, _ float64) (completion.Result, error) {
			gotMessages = messages
			turn++
			return completion.Result{Text: fmt.Sprintf("reply %d", turn), Usage: flatUsage}, nil
		},
	}
	svc, _ := newTestService(t, cfg, client, stubRecall{})

	for i := 1; i <= 5; i++ {
		if _, err := svc.Ask(ctx, AskRequest{UserID: "u1", Character: "mara", UserInput: fmt.Sprintf("turn %d", i)}); err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
	}

	// System prompt plus the last 2*2 user/assistant rows (which include the
	// just-recorded fifth user turn).
	if len(gotMessages) != 5 {
		t.Fatalf("prompt has %d messages, want 5", len(gotMessages))
	}
	if gotMessages[1].Content != "reply 3" || gotMessages[2].Content != "turn 4" {
		t.Fatalf("window start = %q / %q", gotMessages[1].Content, gotMessages[2].Content)
	}
	if gotMessages[4].Content != "turn 5" {
		t.Fatalf("window end = %q", gotMessages[4].Content)
	}
}
