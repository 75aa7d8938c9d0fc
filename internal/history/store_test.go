package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/turinglab/turinglab/internal/agent"
	"github.com/turinglab/turinglab/internal/tools"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	require.NoError(t, err)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestEnsureConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.EnsureConversation(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := s.EnsureConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	list, err := s.ListConversations(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAppendAndRecentTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.EnsureConversation(ctx, "conv-1")
	require.NoError(t, err)

	for i := range 6 {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		require.NoError(t, s.AppendTurn(ctx, id, agent.Turn{Role: role, Content: fmt.Sprintf("m%d", i)}))
	}

	turns, err := s.RecentTurns(ctx, id, 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "m2", turns[0].Content)
	assert.Equal(t, "m5", turns[3].Content)
	assert.Equal(t, "assistant", turns[3].Role)

	none, err := s.RecentTurns(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.EnsureConversation(ctx, "")

	require.NoError(t, s.AppendTurn(ctx, id, agent.Turn{Role: "user", Content: "  What is 12 * 4?  "}))
	require.NoError(t, s.AppendTurn(ctx, id, agent.Turn{Role: "assistant", Content: "48"}))
	require.NoError(t, s.AppendTurn(ctx, id, agent.Turn{Role: "user", Content: "thanks"}))

	conv, err := s.Conversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "What is 12 * 4?", conv.Title)
	assert.Equal(t, 3, conv.MessageCount)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "48", conv.Messages[1].Content)
	assert.True(t, conv.UpdatedAt.After(conv.CreatedAt))

	_, err = s.Conversation(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.EnsureConversation(ctx, "a")
	b, _ := s.EnsureConversation(ctx, "b")
	require.NoError(t, s.AppendTurn(ctx, a, agent.Turn{Role: "user", Content: "bump"}))

	list, err := s.ListConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, b, list[1].ID)
	assert.Equal(t, 1, list[0].MessageCount)
}

func TestRecordRunAndToolCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.EnsureConversation(ctx, "")

	calc := tools.Success("The result of 12 * 4 is 48", map[string]any{"result": 48.0})
	bad := tools.Failure("Invalid timezone", "nope")
	res := &agent.RunResult{
		RunID:       "run-1",
		Response:    "done",
		Iterations:  3,
		Termination: agent.TerminationToolError,
		Steps:       []agent.Step{{Iteration: 1, Kind: agent.StepLLMResponse, Content: "x"}},
		ToolsUsed: []agent.ToolUse{
			{Name: "calculator", Parameters: map[string]any{"expression": "12 * 4"}, Result: calc, Iteration: 1},
			{Name: "get_current_time", Parameters: map[string]any{"timezone": "Mars"}, Result: bad, Iteration: 2},
		},
	}
	require.NoError(t, s.RecordRun(ctx, id, "What is 12 * 4?", res))

	calls, err := s.ToolCalls(ctx, id)
	require.NoError(t, err)
	require.Len(t, calls, 2)

	assert.Equal(t, "run-1", calls[0].RunID)
	assert.Equal(t, "calculator", calls[0].Tool)
	assert.True(t, calls[0].Success)
	assert.JSONEq(t, `{"expression":"12 * 4"}`, string(calls[0].Parameters))

	var back tools.Result
	require.NoError(t, json.Unmarshal(calls[0].Result, &back))
	assert.Equal(t, 48.0, back.Field("result"))

	assert.False(t, calls[1].Success)
	assert.Equal(t, "Invalid timezone", calls[1].Error)

	var steps, termination string
	require.NoError(t, s.db.QueryRow(`SELECT steps, termination FROM agent_runs WHERE id = 'run-1'`).Scan(&steps, &termination))
	assert.Equal(t, "tool_error", termination)
	assert.Contains(t, steps, `"type":"llm_response"`)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 2))
}
