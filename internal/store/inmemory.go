package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DavidPainting/dti-characters/internal/usage"
)

// InMemoryStore is a mutex-guarded in-process store for local/dev use and
// tests. It honours the same single-row atomicity rules as the Postgres store.
type InMemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	sessions    map[string]*WebSession
	transcripts map[string]*Transcript
	messages    map[string][]Message // by transcript id, append order
	profiles    map[string]*Profile  // by user id + "\x00" + character
	memories    []Memory
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:       make(map[string]*User),
		sessions:    make(map[string]*WebSession),
		transcripts: make(map[string]*Transcript),
		messages:    make(map[string][]Message),
		profiles:    make(map[string]*Profile),
	}
}

func profileKey(userID, character string) string {
	return userID + "\x00" + character
}

func (s *InMemoryStore) CreateUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = &u
	return nil
}

func (s *InMemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *InMemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email != "" && u.Email == email {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *InMemoryStore) RecordAbuse(_ context.Context, userID string, ban bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.AbuseCount++
	if ban {
		u.Banned = true
	}
	return nil
}

func (s *InMemoryStore) DeleteGuestShell(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if u.Email != "" {
		return nil
	}
	delete(s.users, userID)
	return nil
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess WebSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	s.sessions[sess.ID] = &sess
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (WebSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return WebSession{}, ErrNotFound
	}
	return *sess, nil
}

func (s *InMemoryStore) FindOpenTranscript(_ context.Context, userID, character, monthKey string) (Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Transcript
	for _, t := range s.transcripts {
		if t.UserID != userID || t.Character != character || t.MonthKey != monthKey {
			continue
		}
		if best == nil || t.StartedAt.After(best.StartedAt) {
			best = t
		}
	}
	if best == nil {
		return Transcript{}, ErrNotFound
	}
	return *best, nil
}

func (s *InMemoryStore) CreateTranscript(_ context.Context, t Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now().UTC()
	}
	s.transcripts[t.ID] = &t
	return nil
}

func (s *InMemoryStore) GetTranscript(_ context.Context, id string) (Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transcripts[id]
	if !ok {
		return Transcript{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemoryStore) CloseTranscript(_ context.Context, id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return ErrNotFound
	}
	if t.EndedAt == nil {
		t.EndedAt = &endedAt
	}
	return nil
}

func (s *InMemoryStore) BumpTranscriptTotals(_ context.Context, id string, in, out, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return ErrNotFound
	}
	t.TokenInput += in
	t.TokenOutput += out
	t.TokenTotal += total
	return nil
}

func (s *InMemoryStore) MonthlyUsage(_ context.Context, userID, monthKey string) (usage.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var totals usage.Totals
	for _, t := range s.transcripts {
		if t.UserID == userID && t.MonthKey == monthKey {
			totals.Input += t.TokenInput
			totals.Output += t.TokenOutput
			totals.Total += t.TokenTotal
		}
	}
	return totals, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[m.TranscriptID]; !ok {
		return ErrNotFound
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	// Keep created_at strictly increasing within a transcript so neighbor
	// lookups stay well-defined even when turns land in the same nanosecond.
	if msgs := s.messages[m.TranscriptID]; len(msgs) > 0 {
		last := msgs[len(msgs)-1].CreatedAt
		if !m.CreatedAt.After(last) {
			m.CreatedAt = last.Add(time.Microsecond)
		}
	}
	s.messages[m.TranscriptID] = append(s.messages[m.TranscriptID], m)
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, transcriptID string, roles []string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages[transcriptID] {
		if len(roles) == 0 || containsRole(roles, m.Role) {
			out = append(out, m)
		}
	}
	return out, nil
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func matchesAnyTerm(content string, terms []string) bool {
	lower := strings.ToLower(content)
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) SearchMessages(_ context.Context, userID, character string, terms []string, since time.Time, limit int) ([]MessageHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	var hits []MessageHit
	for id, msgs := range s.messages {
		t, ok := s.transcripts[id]
		if !ok || t.UserID != userID || t.Character != character || t.StartedAt.Before(since) {
			continue
		}
		for _, m := range msgs {
			if m.Role != RoleUser && m.Role != RoleAssistant {
				continue
			}
			if matchesAnyTerm(m.Content, terms) {
				hits = append(hits, MessageHit{Message: m, TranscriptStartedAt: t.StartedAt})
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *InMemoryStore) MessageBefore(_ context.Context, transcriptID string, before time.Time) (Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found Message
	ok := false
	for _, m := range s.messages[transcriptID] {
		if m.CreatedAt.Before(before) && (!ok || m.CreatedAt.After(found.CreatedAt)) {
			found = m
			ok = true
		}
	}
	return found, ok, nil
}

func (s *InMemoryStore) MessageAfter(_ context.Context, transcriptID string, after time.Time) (Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found Message
	ok := false
	for _, m := range s.messages[transcriptID] {
		if m.CreatedAt.After(after) && (!ok || m.CreatedAt.Before(found.CreatedAt)) {
			found = m
			ok = true
		}
	}
	return found, ok, nil
}

func (s *InMemoryStore) GetProfile(_ context.Context, userID, character string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileKey(userID, character)]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemoryStore) SaveProfile(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.profiles[profileKey(p.UserID, p.Character)] = &p
	return nil
}

func (s *InMemoryStore) AddMemories(_ context.Context, items []Memory) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
		s.memories = append(s.memories, m)
		added++
	}
	return added, nil
}

func (s *InMemoryStore) SearchMemories(_ context.Context, userID, character string, terms []string, since time.Time, limit int) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	var out []Memory
	for _, m := range s.memories {
		if m.UserID != userID || m.Character != character || m.CreatedAt.Before(since) {
			continue
		}
		if matchesAnyTerm(m.Content, terms) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ReparentUserData(_ context.Context, fromUserID, toUserID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var moved int64
	for _, t := range s.transcripts {
		if t.UserID == fromUserID {
			t.UserID = toUserID
			moved++
		}
	}
	for i := range s.memories {
		if s.memories[i].UserID == fromUserID {
			s.memories[i].UserID = toUserID
			moved++
		}
	}
	for key, p := range s.profiles {
		if p.UserID == fromUserID {
			p.UserID = toUserID
			delete(s.profiles, key)
			s.profiles[profileKey(toUserID, p.Character)] = p
			moved++
		}
	}
	return moved, nil
}

func (s *InMemoryStore) ListTranscripts(_ context.Context, f TranscriptFilter) ([]Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transcript
	for _, t := range s.transcripts {
		if f.UserID != "" && t.UserID != f.UserID {
			continue
		}
		if f.Character != "" && t.Character != f.Character {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) MonthlyUsageByUser(_ context.Context, monthKey string) ([]UserUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byUser := make(map[string]*UserUsage)
	for _, t := range s.transcripts {
		if t.MonthKey != monthKey {
			continue
		}
		row, ok := byUser[t.UserID]
		if !ok {
			row = &UserUsage{UserID: t.UserID}
			byUser[t.UserID] = row
		}
		row.TokenInput += t.TokenInput
		row.TokenOutput += t.TokenOutput
		row.TokenTotal += t.TokenTotal
	}
	out := make([]UserUsage, 0, len(byUser))
	for _, row := range byUser {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
