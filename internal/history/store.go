// Package history persists conversations, their messages, and a record
// of every agent run with the tool calls it made. The store works over
// any database/sql SQLite driver; [Open] uses mattn/go-sqlite3.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turinglab/turinglab/internal/agent"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

const titleMaxLen = 80

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Summary describes a conversation without its messages.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Message is one stored conversation turn.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is a conversation with its messages in order.
type Conversation struct {
	Summary
	Messages []Message `json:"messages"`
}

// ToolCall is one recorded tool invocation.
type ToolCall struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	Iteration  int             `json:"iteration"`
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
	Result     json.RawMessage `json:"result"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store is a SQLite-backed conversation store. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database and creates the schema if needed. The
// caller keeps ownership of db.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS agent_runs (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		prompt          TEXT NOT NULL,
		response        TEXT NOT NULL,
		model           TEXT NOT NULL DEFAULT '',
		iterations      INTEGER NOT NULL,
		termination     TEXT NOT NULL,
		steps           TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_runs_conversation ON agent_runs(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id              TEXT PRIMARY KEY,
		run_id          TEXT NOT NULL REFERENCES agent_runs(id) ON DELETE CASCADE,
		conversation_id TEXT NOT NULL,
		iteration       INTEGER NOT NULL,
		tool_name       TEXT NOT NULL,
		parameters      TEXT NOT NULL,
		result          TEXT NOT NULL,
		success         INTEGER NOT NULL,
		error           TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_conversation ON tool_calls(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// EnsureConversation creates the conversation if it does not exist and
// returns its id. An empty id allocates a new one.
func (s *Store) EnsureConversation(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = newID()
	}
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)`, id, now, now)
	if err != nil {
		return "", fmt.Errorf("ensure conversation: %w", err)
	}
	return id, nil
}

// AppendTurn stores a message at the end of a conversation. The first
// user message becomes the conversation title.
func (s *Store) AppendTurn(ctx context.Context, convID string, turn agent.Turn) error {
	now := s.timestamp()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`, newID(), convID, turn.Role, turn.Content, now); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	title := ""
	if turn.Role == "user" {
		title = truncate(strings.TrimSpace(turn.Content), titleMaxLen)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET updated_at = ?, title = CASE WHEN title = '' THEN ? ELSE title END
		WHERE id = ?`, now, title, convID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

// RecentTurns returns up to n of the latest turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, convID string, n int) ([]agent.Turn, error) {
	if n <= 0 {
		return []agent.Turn{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM (
			SELECT role, content, created_at, rowid FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		) ORDER BY created_at ASC, rowid ASC`, convID, n)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	turns := []agent.Turn{}
	for rows.Next() {
		var t agent.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ListConversations returns conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Conversation returns one conversation with all of its messages.
func (s *Store) Conversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?`, id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	conv := &Conversation{Summary: sum, Messages: []Message{}}
	for rows.Next() {
		var m Message
		var created string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = parseTime(created)
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

// RecordRun stores a completed run and each tool call it made.
func (s *Store) RecordRun(ctx context.Context, convID, prompt string, res *agent.RunResult) error {
	steps, err := json.Marshal(res.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	runID := res.RunID
	if runID == "" {
		runID = newID()
	}
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_runs (id, conversation_id, prompt, response, model, iterations, termination, steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, convID, prompt, res.Response, res.Model, res.Iterations, string(res.Termination), string(steps), now); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, use := range res.ToolsUsed {
		params, err := json.Marshal(use.Parameters)
		if err != nil {
			return fmt.Errorf("encode parameters for %s: %w", use.Name, err)
		}
		result := "null"
		success, errMsg := false, ""
		if use.Result != nil {
			result = use.Result.JSON()
			success = !use.Result.Failed()
			errMsg = use.Result.Error
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls (id, run_id, conversation_id, iteration, tool_name, parameters, result, success, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			newID(), runID, convID, use.Iteration, use.Name, string(params), result, success, errMsg, now); err != nil {
			return fmt.Errorf("insert tool call: %w", err)
		}
	}
	return tx.Commit()
}

// ToolCalls returns every tool call recorded for a conversation, oldest
// first.
func (s *Store) ToolCalls(ctx context.Context, convID string) ([]ToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, iteration, tool_name, parameters, result, success, error, created_at
		FROM tool_calls
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	out := []ToolCall{}
	for rows.Next() {
		var tc ToolCall
		var params, result, created string
		if err := rows.Scan(&tc.ID, &tc.RunID, &tc.Iteration, &tc.Tool, &params, &result, &tc.Success, &tc.Error, &created); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		tc.Parameters = json.RawMessage(params)
		tc.Result = json.RawMessage(result)
		tc.CreatedAt = parseTime(created)
		out = append(out, tc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (Summary, error) {
	var sum Summary
	var created, updated string
	if err := row.Scan(&sum.ID, &sum.Title, &created, &updated, &sum.MessageCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sum, err
		}
		return sum, fmt.Errorf("scan conversation: %w", err)
	}
	sum.CreatedAt = parseTime(created)
	sum.UpdatedAt = parseTime(updated)
	return sum, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(timeLayout, v)
	return t
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
