package chat

import "github.com/DavidPainting/dti-characters/internal/usage"

// Config carries the policy knobs the orchestrator needs. It is passed in at
// construction; nothing here is ambient process state.
type Config struct {
	MonthlyWarnTokens  int
	MonthlyCapTokens   int
	HistoryTurns       int
	RecallLookbackDays int
	RecallMaxSnippets  int
	Temperature        float64
	Rates              usage.Rates
	FeedbackURL        string
}

// AskRequest is one inbound user turn.
type AskRequest struct {
	UserID    string
	Character string
	UserInput string
}

// AskResponse is the composed outcome of one ask call.
type AskResponse struct {
	Reply            string  `json:"reply,omitempty"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
	SystemUI         string  `json:"system_ui,omitempty"`
	Capped           bool    `json:"capped"`
	TranscriptID     string  `json:"transcript_id,omitempty"`
	FeedbackURL      string  `json:"feedback_url,omitempty"`
	CumulativeTokens int     `json:"cumulative_tokens"`
	CapTokens        int     `json:"cap_tokens"`
}

// EndRequest closes one conversation for summarization.
type EndRequest struct {
	UserID       string
	Character    string
	TranscriptID string
}

// EndResult reports what the summarizer persisted.
type EndResult struct {
	ProfileUpdated bool `json:"profile_updated"`
	MemoriesAdded  int  `json:"memories_added"`
}

// User-visible notice texts.
const (
	bannedNotice = "Your access has been revoked due to repeated offensive content."
	capNotice    = "You’ve reached your monthly usage cap for this trial. Come back next month or contact us for more access."
	warnNotice   = "Heads-up: you’ve reached your monthly trial usage threshold. You can continue for now, but heavy use may pause until the next cycle."
)

// BannedNotice is the fixed revocation message surfaced with ErrBanned.
func BannedNotice() string { return bannedNotice }
