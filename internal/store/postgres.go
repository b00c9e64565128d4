package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DavidPainting/dti-characters/internal/usage"
)

// PostgresStore persists all chat entities in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			allow_memory BOOLEAN NOT NULL DEFAULT TRUE,
			abuse_count INTEGER NOT NULL DEFAULT 0,
			is_banned BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			character TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ NULL,
			token_input INTEGER NOT NULL DEFAULT 0,
			token_output INTEGER NOT NULL DEFAULT 0,
			token_total INTEGER NOT NULL DEFAULT 0,
			month_key TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_user_month ON transcripts (user_id, character, month_key, started_at DESC);`,
		`CREATE TABLE IF NOT EXISTS transcript_messages (
			id TEXT PRIMARY KEY,
			transcript_id TEXT NOT NULL REFERENCES transcripts(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			usage_input INTEGER NOT NULL DEFAULT 0,
			usage_output INTEGER NOT NULL DEFAULT 0,
			usage_total INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_transcript_created ON transcript_messages (transcript_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			character TEXT NOT NULL,
			display_name TEXT,
			profile_json JSONB,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, character)
		);`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			character TEXT NOT NULL,
			transcript_id TEXT,
			kind TEXT NOT NULL,
			title TEXT,
			content TEXT NOT NULL,
			tags TEXT,
			importance INTEGER NOT NULL DEFAULT 2,
			follow_up_after TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_character_created ON memories (user_id, character, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, created_at, allow_memory, abuse_count, is_banned)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, nullIfEmpty(u.Email), u.CreatedAt, u.AllowMemory, u.AbuseCount, u.Banned,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var email *string
	err := row.Scan(&u.ID, &email, &u.CreatedAt, &u.AllowMemory, &u.AbuseCount, &u.Banned)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	if email != nil {
		u.Email = *email
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, created_at, allow_memory, abuse_count, is_banned FROM users WHERE id=$1`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, created_at, allow_memory, abuse_count, is_banned FROM users WHERE email=$1`, email))
}

func (s *PostgresStore) RecordAbuse(ctx context.Context, userID string, ban bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET abuse_count = abuse_count + 1, is_banned = is_banned OR $2 WHERE id=$1`,
		userID, ban,
	)
	if err != nil {
		return fmt.Errorf("record abuse: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteGuestShell(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id=$1 AND email IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("delete guest shell: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess WebSession) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (WebSession, error) {
	var sess WebSession
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id=$1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return WebSession{}, ErrNotFound
	}
	if err != nil {
		return WebSession{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func scanTranscript(row pgx.Row) (Transcript, error) {
	var t Transcript
	err := row.Scan(&t.ID, &t.UserID, &t.Character, &t.StartedAt, &t.EndedAt,
		&t.TokenInput, &t.TokenOutput, &t.TokenTotal, &t.MonthKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transcript{}, ErrNotFound
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("scan transcript: %w", err)
	}
	return t, nil
}

const transcriptCols = `id, user_id, character, started_at, ended_at, token_input, token_output, token_total, month_key`

func (s *PostgresStore) FindOpenTranscript(ctx context.Context, userID, character, monthKey string) (Transcript, error) {
	return scanTranscript(s.pool.QueryRow(ctx,
		`SELECT `+transcriptCols+` FROM transcripts
		 WHERE user_id=$1 AND character=$2 AND month_key=$3
		 ORDER BY started_at DESC LIMIT 1`,
		userID, character, monthKey))
}

func (s *PostgresStore) CreateTranscript(ctx context.Context, t Transcript) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (`+transcriptCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.UserID, t.Character, t.StartedAt, t.EndedAt,
		t.TokenInput, t.TokenOutput, t.TokenTotal, t.MonthKey,
	)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, id string) (Transcript, error) {
	return scanTranscript(s.pool.QueryRow(ctx,
		`SELECT `+transcriptCols+` FROM transcripts WHERE id=$1`, id))
}

func (s *PostgresStore) CloseTranscript(ctx context.Context, id string, endedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE transcripts SET ended_at=$2 WHERE id=$1 AND ended_at IS NULL`, id, endedAt)
	if err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) BumpTranscriptTotals(ctx context.Context, id string, in, out, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transcripts SET
			token_input = token_input + $2,
			token_output = token_output + $3,
			token_total = token_total + $4
		 WHERE id=$1`,
		id, in, out, total,
	)
	if err != nil {
		return fmt.Errorf("bump transcript totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MonthlyUsage(ctx context.Context, userID, monthKey string) (usage.Totals, error) {
	var totals usage.Totals
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(token_input), 0), COALESCE(SUM(token_output), 0), COALESCE(SUM(token_total), 0)
		 FROM transcripts WHERE user_id=$1 AND month_key=$2`,
		userID, monthKey,
	).Scan(&totals.Input, &totals.Output, &totals.Total)
	if err != nil {
		return usage.Totals{}, fmt.Errorf("monthly usage: %w", err)
	}
	return totals, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_messages (id, transcript_id, role, content, created_at, usage_input, usage_output, usage_total)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.TranscriptID, m.Role, m.Content, m.CreatedAt, m.UsageInput, m.UsageOutput, m.UsageTotal,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

const messageCols = `id, transcript_id, role, content, created_at, usage_input, usage_output, usage_total`

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TranscriptID, &m.Role, &m.Content, &m.CreatedAt,
			&m.UsageInput, &m.UsageOutput, &m.UsageTotal); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, transcriptID string, roles []string) ([]Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(roles) == 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageCols+` FROM transcript_messages
			 WHERE transcript_id=$1 ORDER BY created_at ASC`, transcriptID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageCols+` FROM transcript_messages
			 WHERE transcript_id=$1 AND role = ANY($2) ORDER BY created_at ASC`, transcriptID, roles)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanMessages(rows)
}

func (s *PostgresStore) SearchMessages(ctx context.Context, userID, character string, terms []string, since time.Time, limit int) ([]MessageHit, error) {
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	patterns := make([]string, 0, len(terms))
	for _, t := range terms {
		patterns = append(patterns, "%"+strings.ToLower(t)+"%")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.transcript_id, m.role, m.content, m.created_at,
		        m.usage_input, m.usage_output, m.usage_total, t.started_at
		 FROM transcript_messages m
		 JOIN transcripts t ON t.id = m.transcript_id
		 WHERE t.user_id=$1 AND t.character=$2 AND t.started_at >= $3
		   AND m.role IN ('user', 'assistant')
		   AND lower(m.content) LIKE ANY($4)
		 ORDER BY m.created_at DESC
		 LIMIT $5`,
		userID, character, since, patterns, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var hits []MessageHit
	for rows.Next() {
		var h MessageHit
		if err := rows.Scan(&h.ID, &h.TranscriptID, &h.Role, &h.Content, &h.CreatedAt,
			&h.UsageInput, &h.UsageOutput, &h.UsageTotal, &h.TranscriptStartedAt); err != nil {
			return nil, fmt.Errorf("scan message hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message hits: %w", err)
	}
	return hits, nil
}

func (s *PostgresStore) MessageBefore(ctx context.Context, transcriptID string, before time.Time) (Message, bool, error) {
	var m Message
	err := s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM transcript_messages
		 WHERE transcript_id=$1 AND created_at < $2
		 ORDER BY created_at DESC LIMIT 1`,
		transcriptID, before,
	).Scan(&m.ID, &m.TranscriptID, &m.Role, &m.Content, &m.CreatedAt, &m.UsageInput, &m.UsageOutput, &m.UsageTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("message before: %w", err)
	}
	return m, true, nil
}

func (s *PostgresStore) MessageAfter(ctx context.Context, transcriptID string, after time.Time) (Message, bool, error) {
	var m Message
	err := s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM transcript_messages
		 WHERE transcript_id=$1 AND created_at > $2
		 ORDER BY created_at ASC LIMIT 1`,
		transcriptID, after,
	).Scan(&m.ID, &m.TranscriptID, &m.Role, &m.Content, &m.CreatedAt, &m.UsageInput, &m.UsageOutput, &m.UsageTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("message after: %w", err)
	}
	return m, true, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID, character string) (Profile, error) {
	var (
		p           Profile
		displayName *string
		doc         []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, character, display_name, profile_json, first_seen, last_seen
		 FROM user_profiles WHERE user_id=$1 AND character=$2`,
		userID, character,
	).Scan(&p.ID, &p.UserID, &p.Character, &displayName, &doc, &p.FirstSeen, &p.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if displayName != nil {
		p.DisplayName = *displayName
	}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &p.Document); err != nil {
			return Profile{}, fmt.Errorf("decode profile document: %w", err)
		}
	}
	return p, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	doc, err := json.Marshal(p.Document)
	if err != nil {
		return fmt.Errorf("encode profile document: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_profiles (id, user_id, character, display_name, profile_json, first_seen, last_seen)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (user_id, character) DO UPDATE SET
			display_name=EXCLUDED.display_name,
			profile_json=EXCLUDED.profile_json,
			last_seen=EXCLUDED.last_seen`,
		p.ID, p.UserID, p.Character, nullIfEmpty(p.DisplayName), doc, p.FirstSeen, p.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddMemories(ctx context.Context, items []Memory) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	added := 0
	for _, m := range items {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO memories (id, user_id, character, transcript_id, kind, title, content, tags, importance, follow_up_after, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			m.ID, m.UserID, m.Character, nullIfEmpty(m.TranscriptID), m.Kind,
			nullIfEmpty(m.Title), m.Content, nullIfEmpty(m.Tags), m.Importance, m.FollowUpAfter, m.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert memory: %w", err)
		}
		added++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit memories: %w", err)
	}
	return added, nil
}

func (s *PostgresStore) SearchMemories(ctx context.Context, userID, character string, terms []string, since time.Time, limit int) ([]Memory, error) {
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	patterns := make([]string, 0, len(terms))
	for _, t := range terms {
		patterns = append(patterns, "%"+strings.ToLower(t)+"%")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, character, transcript_id, kind, title, content, tags, importance, follow_up_after, created_at
		 FROM memories
		 WHERE user_id=$1 AND character=$2 AND created_at >= $3 AND lower(content) LIKE ANY($4)
		 ORDER BY importance DESC, created_at DESC
		 LIMIT $5`,
		userID, character, since, patterns, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var (
			m            Memory
			transcriptID *string
			title        *string
			tags         *string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Character, &transcriptID, &m.Kind,
			&title, &m.Content, &tags, &m.Importance, &m.FollowUpAfter, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if transcriptID != nil {
			m.TranscriptID = *transcriptID
		}
		if title != nil {
			m.Title = *title
		}
		if tags != nil {
			m.Tags = *tags
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ReparentUserData(ctx context.Context, fromUserID, toUserID string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var moved int64
	for _, stmt := range []string{
		`UPDATE transcripts SET user_id=$2 WHERE user_id=$1`,
		`UPDATE memories SET user_id=$2 WHERE user_id=$1`,
		`UPDATE user_profiles SET user_id=$2 WHERE user_id=$1
		   AND NOT EXISTS (SELECT 1 FROM user_profiles p2 WHERE p2.user_id=$2 AND p2.character=user_profiles.character)`,
	} {
		tag, err := tx.Exec(ctx, stmt, fromUserID, toUserID)
		if err != nil {
			return 0, fmt.Errorf("reparent user data: %w", err)
		}
		moved += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reparent: %w", err)
	}
	return moved, nil
}

func (s *PostgresStore) ListTranscripts(ctx context.Context, f TranscriptFilter) ([]Transcript, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+transcriptCols+` FROM transcripts
		 WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR character = $2)
		 ORDER BY started_at DESC LIMIT $3`,
		f.UserID, f.Character, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.UserID, &t.Character, &t.StartedAt, &t.EndedAt,
			&t.TokenInput, &t.TokenOutput, &t.TokenTotal, &t.MonthKey); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MonthlyUsageByUser(ctx context.Context, monthKey string) ([]UserUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id,
		        COALESCE(SUM(token_input), 0),
		        COALESCE(SUM(token_output), 0),
		        COALESCE(SUM(token_total), 0)
		 FROM transcripts WHERE month_key=$1
		 GROUP BY user_id ORDER BY user_id`,
		monthKey,
	)
	if err != nil {
		return nil, fmt.Errorf("monthly usage by user: %w", err)
	}
	defer rows.Close()

	var out []UserUsage
	for rows.Next() {
		var row UserUsage
		if err := rows.Scan(&row.UserID, &row.TokenInput, &row.TokenOutput, &row.TokenTotal); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
