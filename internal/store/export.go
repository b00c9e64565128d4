package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Whitelisted admin export queries, one per table, in a stable row order.
var exportQueries = map[string]string{
	"users":               `SELECT id, email, created_at, allow_memory, abuse_count, is_banned FROM users ORDER BY created_at, id`,
	"sessions":            `SELECT id, user_id, created_at, expires_at FROM sessions ORDER BY created_at, id`,
	"transcripts":         `SELECT id, user_id, character, started_at, ended_at, token_input, token_output, token_total, month_key FROM transcripts ORDER BY started_at, id`,
	"transcript_messages": `SELECT id, transcript_id, role, content, created_at, usage_input, usage_output, usage_total FROM transcript_messages ORDER BY created_at, id`,
	"user_profiles":       `SELECT id, user_id, character, display_name, profile_json, first_seen, last_seen FROM user_profiles ORDER BY first_seen, id`,
	"memories":            `SELECT id, user_id, character, transcript_id, kind, title, content, tags, importance, follow_up_after, created_at FROM memories ORDER BY created_at, id`,
}

func (s *PostgresStore) ExportTable(ctx context.Context, table string, limit, offset int) ([]string, [][]string, error) {
	q, ok := exportQueries[table]
	if !ok {
		return nil, nil, ErrNotFound
	}
	rows, err := s.pool.Query(ctx, q+" LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, nil, fmt.Errorf("export %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var out [][]string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("export %s: %w", table, err)
		}
		row := make([]string, len(vals))
		for i, v := range vals {
			row[i] = exportValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("export %s: %w", table, err)
	}
	return cols, out, nil
}

func (s *InMemoryStore) ExportTable(_ context.Context, table string, limit, offset int) ([]string, [][]string, error) {
	if _, ok := exportQueries[table]; !ok {
		return nil, nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cols []string
	var rows [][]string
	switch table {
	case "users":
		cols = []string{"id", "email", "created_at", "allow_memory", "abuse_count", "is_banned"}
		for _, u := range s.users {
			rows = append(rows, []string{
				u.ID, u.Email, exportTime(u.CreatedAt),
				strconv.FormatBool(u.AllowMemory), strconv.Itoa(u.AbuseCount), strconv.FormatBool(u.Banned),
			})
		}
	case "sessions":
		cols = []string{"id", "user_id", "created_at", "expires_at"}
		for _, ws := range s.sessions {
			rows = append(rows, []string{ws.ID, ws.UserID, exportTime(ws.CreatedAt), exportTime(ws.ExpiresAt)})
		}
	case "transcripts":
		cols = []string{"id", "user_id", "character", "started_at", "ended_at", "token_input", "token_output", "token_total", "month_key"}
		for _, t := range s.transcripts {
			ended := ""
			if t.EndedAt != nil {
				ended = exportTime(*t.EndedAt)
			}
			rows = append(rows, []string{
				t.ID, t.UserID, t.Character, exportTime(t.StartedAt), ended,
				strconv.Itoa(t.TokenInput), strconv.Itoa(t.TokenOutput), strconv.Itoa(t.TokenTotal), t.MonthKey,
			})
		}
	case "transcript_messages":
		cols = []string{"id", "transcript_id", "role", "content", "created_at", "usage_input", "usage_output", "usage_total"}
		for _, msgs := range s.messages {
			for _, m := range msgs {
				rows = append(rows, []string{
					m.ID, m.TranscriptID, m.Role, m.Content, exportTime(m.CreatedAt),
					strconv.Itoa(m.UsageInput), strconv.Itoa(m.UsageOutput), strconv.Itoa(m.UsageTotal),
				})
			}
		}
	case "user_profiles":
		cols = []string{"id", "user_id", "character", "display_name", "profile_json", "first_seen", "last_seen"}
		for _, p := range s.profiles {
			doc, _ := json.Marshal(p.Document)
			rows = append(rows, []string{
				p.ID, p.UserID, p.Character, p.DisplayName, string(doc),
				exportTime(p.FirstSeen), exportTime(p.LastSeen),
			})
		}
	case "memories":
		cols = []string{"id", "user_id", "character", "transcript_id", "kind", "title", "content", "tags", "importance", "follow_up_after", "created_at"}
		for _, m := range s.memories {
			follow := ""
			if m.FollowUpAfter != nil {
				follow = exportTime(*m.FollowUpAfter)
			}
			rows = append(rows, []string{
				m.ID, m.UserID, m.Character, m.TranscriptID, m.Kind, m.Title, m.Content, m.Tags,
				strconv.Itoa(m.Importance), follow, exportTime(m.CreatedAt),
			})
		}
	}

	// Map iteration is unordered; sort on the leading timestamp column then
	// id so exports page deterministically.
	sort.Slice(rows, func(i, j int) bool {
		ti, tj := rows[i][timeColumn(table)], rows[j][timeColumn(table)]
		if ti != tj {
			return ti < tj
		}
		return rows[i][0] < rows[j][0]
	})

	if offset >= len(rows) {
		return cols, nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return cols, rows, nil
}

func timeColumn(table string) int {
	switch table {
	case "users":
		return 2
	case "sessions":
		return 2
	case "transcripts":
		return 3
	case "transcript_messages":
		return 4
	case "user_profiles":
		return 5
	default:
		return 10
	}
}

func exportTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func exportValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return exportTime(x)
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
