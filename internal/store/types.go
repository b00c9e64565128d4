package store

import (
	"context"
	"errors"
	"time"

	"github.com/DavidPainting/dti-characters/internal/usage"
)

// Message roles. system-ui turns are user-visible notices we synthesize
// ourselves; they never go to the model.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystemUI  = "system-ui"
)

var ErrNotFound = errors.New("record not found")

// User is a stable visitor identity. An empty Email means a guest shell that
// has never completed authentication.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	AllowMemory bool      `json:"allow_memory"`
	AbuseCount  int       `json:"abuse_count"`
	Banned      bool      `json:"is_banned"`
}

// WebSession is a bearer of continued access for one user on one device.
// Sessions are never mutated; expiry is enforced by the resolver on read.
type WebSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Transcript scopes one user + one character + one calendar month of
// conversation. Token counters are running totals bumped per assistant turn.
type Transcript struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Character   string     `json:"character"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	TokenInput  int        `json:"token_input"`
	TokenOutput int        `json:"token_output"`
	TokenTotal  int        `json:"token_total"`
	MonthKey    string     `json:"month_key"`
}

// Message is one append-only conversation turn. Usage counters are zero for
// turns that were not model-generated.
type Message struct {
	ID           string    `json:"id"`
	TranscriptID string    `json:"transcript_id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	UsageInput   int       `json:"usage_input"`
	UsageOutput  int       `json:"usage_output"`
	UsageTotal   int       `json:"usage_total"`
}

// MessageHit is a search match together with the start time of the owning
// transcript, which the recall engine uses to stamp excerpts.
type MessageHit struct {
	Message
	TranscriptStartedAt time.Time
}

// Profile is the single durable summary per (user, character). Document is a
// shallow key -> value mapping; merges overwrite existing keys wholesale.
type Profile struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Character   string         `json:"character"`
	DisplayName string         `json:"display_name,omitempty"`
	Document    map[string]any `json:"document"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`
}

// Memory is one curated discrete recollection, created only in summarizer
// batches and never updated afterwards.
type Memory struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Character     string     `json:"character"`
	TranscriptID  string     `json:"transcript_id,omitempty"`
	Kind          string     `json:"kind"`
	Title         string     `json:"title,omitempty"`
	Content       string     `json:"content"`
	Tags          string     `json:"tags,omitempty"`
	Importance    int        `json:"importance"`
	FollowUpAfter *time.Time `json:"follow_up_after,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// UserUsage is a monthly aggregation row for the admin usage report.
type UserUsage struct {
	UserID      string `json:"user_id"`
	TokenInput  int    `json:"token_input"`
	TokenOutput int    `json:"token_output"`
	TokenTotal  int    `json:"token_total"`
}

// TranscriptFilter narrows admin transcript listings.
type TranscriptFilter struct {
	UserID    string
	Character string
	Limit     int
}

// Store persists all six entities in a transactional relational store.
// Every read-modify-write on a single row (usage bump, moderation transition,
// profile merge) executes as one atomic transaction.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	// RecordAbuse increments abuse_count and optionally sets the banned flag
	// in a single atomic update. The banned flag is monotonic.
	RecordAbuse(ctx context.Context, userID string, ban bool) error
	// DeleteGuestShell removes a user row only when it carries no email.
	DeleteGuestShell(ctx context.Context, userID string) error

	CreateSession(ctx context.Context, s WebSession) error
	GetSession(ctx context.Context, id string) (WebSession, error)

	// FindOpenTranscript returns the most recently started transcript for
	// user+character+month, or ErrNotFound.
	FindOpenTranscript(ctx context.Context, userID, character, monthKey string) (Transcript, error)
	CreateTranscript(ctx context.Context, t Transcript) error
	GetTranscript(ctx context.Context, id string) (Transcript, error)
	// CloseTranscript sets ended_at exactly once; a second call is a no-op.
	CloseTranscript(ctx context.Context, id string, endedAt time.Time) error
	// BumpTranscriptTotals atomically increments the running token counters.
	BumpTranscriptTotals(ctx context.Context, id string, in, out, total int) error
	MonthlyUsage(ctx context.Context, userID, monthKey string) (usage.Totals, error)

	AppendMessage(ctx context.Context, m Message) error
	// ListMessages returns a transcript's turns oldest-first, optionally
	// restricted to the given roles.
	ListMessages(ctx context.Context, transcriptID string, roles []string) ([]Message, error)
	// SearchMessages finds user/assistant turns containing any term
	// (case-insensitive substring), newest-first, hard-capped at limit.
	SearchMessages(ctx context.Context, userID, character string, terms []string, since time.Time, limit int) ([]MessageHit, error)
	MessageBefore(ctx context.Context, transcriptID string, before time.Time) (Message, bool, error)
	MessageAfter(ctx context.Context, transcriptID string, after time.Time) (Message, bool, error)

	GetProfile(ctx context.Context, userID, character string) (Profile, error)
	// SaveProfile upserts on (user, character); the caller has already merged
	// the document.
	SaveProfile(ctx context.Context, p Profile) error

	// AddMemories inserts a batch, skipping rows whose trimmed content is
	// empty, and reports how many were kept.
	AddMemories(ctx context.Context, items []Memory) (int, error)
	// SearchMemories finds memories containing any term, ordered by
	// importance descending then recency descending.
	SearchMemories(ctx context.Context, userID, character string, terms []string, since time.Time, limit int) ([]Memory, error)

	// ReparentUserData moves transcripts, memories and profiles from one user
	// to another and reports how many rows moved.
	ReparentUserData(ctx context.Context, fromUserID, toUserID string) (int64, error)

	ListTranscripts(ctx context.Context, f TranscriptFilter) ([]Transcript, error)
	MonthlyUsageByUser(ctx context.Context, monthKey string) ([]UserUsage, error)
	// ExportTable dumps a whitelisted table as column names plus stringified
	// rows. Unknown names return ErrNotFound.
	ExportTable(ctx context.Context, table string, limit, offset int) ([]string, [][]string, error)

	Close() error
}
