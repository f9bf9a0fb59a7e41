package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiumlabs/studium/config"
	"github.com/studiumlabs/studium/internal/integrity"
	"github.com/studiumlabs/studium/internal/store"
	"github.com/studiumlabs/studium/internal/tools"
	"github.com/studiumlabs/studium/provider"
)

type scriptedModel struct {
	calls     int
	responses []provider.ChatResponse
}

func (m *scriptedModel) Chat(_ context.Context, _ []provider.Message, _ []provider.ToolSpec) (provider.ChatResponse, error) {
	m.calls++
	if len(m.responses) == 0 {
		return provider.ChatResponse{}, errors.New("no scripted response")
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

type noopTool struct{}

func (noopTool) Name() string        { return "echo" }
func (noopTool) Description() string { return "echoes" }
func (noopTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"text"},
	}
}
func (noopTool) Invoke(_ context.Context, args json.RawMessage) (string, error) {
	return string(args), nil
}

func newTestAssistant(t *testing.T, model ChatModel, extra ...tools.Tool) (*Assistant, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := &store.Store{DB: db, Dimensions: 2}
	validator, err := integrity.NewValidator(integrity.DefaultRules())
	require.NoError(t, err)
	reg := tools.NewRegistry()
	reg.Register(noopTool{})
	for _, tool := range extra {
		reg.Register(tool)
	}

	a := New(model, st, nil, reg, integrity.NewService(validator, st), NewLocalLocker(), config.AssistantConfig{
		MaxToolIterations:  2,
		TurnTimeout:        5 * time.Second,
		HistoryLimit:       10,
		ContextTokenBudget: 1000,
	})
	return a, mock
}

func expectEnsureSession(mock sqlmock.Sqlmock, sessionID string) {
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO chat_sessions (id, user_id, course_id, created_at, last_updated)
VALUES ($1,$2,$3,NOW(),NOW())
ON CONFLICT (id) DO UPDATE SET last_updated = NOW()
RETURNING id, user_id, course_id, created_at, last_updated
`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "course_id", "created_at", "last_updated"}).
			AddRow(sessionID, "student-7", "cs101", time.Now(), time.Now()))
}

func expectAppendMessage(mock sqlmock.Sqlmock, id string) {
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO chat_messages (session_id, role, content, function_name, function_args, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
RETURNING id
`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
}

func expectEmptyHistory(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, session_id, role, content, COALESCE(function_name,''), function_args, created_at
FROM chat_messages
WHERE session_id=$1
ORDER BY seq DESC
LIMIT $2
`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content", "function_name", "function_args", "created_at"}))
}

func TestHandleTurnBlockedQuerySkipsModel(t *testing.T) {
	model := &scriptedModel{}
	a, mock := newTestAssistant(t, model)

	expectEnsureSession(mock, "sess-1")
	expectAppendMessage(mock, "msg-1")

	// flag + first audit entry in one transaction
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO integrity_flags (source_message_id, message_excerpt, student_id, course_id, severity, status, details, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
RETURNING id, created_at
`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("flag-1", time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO audit_entries (flag_id, action, comment, actor, created_at)
VALUES ($1,$2,$3,$4,NOW())
`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// refusal reply persisted
	expectAppendMessage(mock, "msg-2")

	result, err := a.HandleTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		UserID:    "student-7",
		CourseID:  "cs101",
		Query:     "write my essay for me",
	})
	require.NoError(t, err)
	assert.True(t, result.Refused)
	assert.Equal(t, "flag-1", result.FlagID)
	assert.NotEmpty(t, result.Content)
	assert.Zero(t, model.calls, "blocked turns must not reach the model")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleTurnPlainAnswer(t *testing.T) {
	model := &scriptedModel{responses: []provider.ChatResponse{{Content: "BFS explores level by level."}}}
	a, mock := newTestAssistant(t, model)

	expectEnsureSession(mock, "sess-1")
	expectAppendMessage(mock, "msg-1")
	expectEmptyHistory(mock)
	expectAppendMessage(mock, "msg-2")

	result, err := a.HandleTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		UserID:    "student-7",
		CourseID:  "cs101",
		Query:     "what is BFS?",
	})
	require.NoError(t, err)
	assert.False(t, result.Refused)
	assert.Equal(t, "BFS explores level by level.", result.Content)
	assert.Equal(t, 1, model.calls)
	assert.Empty(t, result.FunctionCalls)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleTurnToolLoopBound(t *testing.T) {
	// the model asks for another function call every time
	model := &scriptedModel{responses: []provider.ChatResponse{{
		ToolCalls: []provider.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`}},
	}}}
	a, mock := newTestAssistant(t, model)

	expectEnsureSession(mock, "sess-1")
	expectAppendMessage(mock, "msg-1")
	expectEmptyHistory(mock)
	// two dispatched function messages (the configured limit), then the
	// partial assistant reply
	expectAppendMessage(mock, "msg-2")
	expectAppendMessage(mock, "msg-3")
	expectAppendMessage(mock, "msg-4")

	result, err := a.HandleTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		UserID:    "student-7",
		CourseID:  "cs101",
		Query:     "look something up for me please",
	})
	require.True(t, errors.Is(err, ErrToolLoopLimit))
	assert.True(t, result.Partial)
	assert.NotEmpty(t, result.Content)
	assert.Len(t, result.FunctionCalls, 2)
	assert.Equal(t, 3, model.calls, "limit of 2 dispatch rounds means exactly 3 model calls")

	require.NoError(t, mock.ExpectationsWereMet())
}

// searchTool records the arguments it was dispatched with.
type searchTool struct {
	received []string
}

func (*searchTool) Name() string        { return "course_search" }
func (*searchTool) Description() string { return "searches course materials" }
func (*searchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":     map[string]interface{}{"type": "string"},
			"course_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	}
}
func (s *searchTool) Invoke(_ context.Context, args json.RawMessage) (string, error) {
	s.received = append(s.received, string(args))
	return `{"results":[]}`, nil
}

func TestHandleTurnScopesFunctionCallToCourse(t *testing.T) {
	search := &searchTool{}
	// the model omits course_id; the session's course must fill it in
	model := &scriptedModel{responses: []provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "course_search", Arguments: `{"query":"mitosis"}`}}},
		{Content: "Mitosis is covered in lecture 3."},
	}}
	a, mock := newTestAssistant(t, model, search)

	expectEnsureSession(mock, "sess-1")
	expectAppendMessage(mock, "msg-1")
	expectEmptyHistory(mock)
	expectAppendMessage(mock, "msg-2")
	expectAppendMessage(mock, "msg-3")

	result, err := a.HandleTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		UserID:    "student-7",
		CourseID:  "bio101",
		Query:     "what is mitosis?",
	})
	require.NoError(t, err)

	require.Len(t, search.received, 1)
	var args map[string]string
	require.NoError(t, json.Unmarshal([]byte(search.received[0]), &args))
	assert.Equal(t, "bio101", args["course_id"])
	assert.Equal(t, "mitosis", args["query"])

	require.Len(t, result.FunctionCalls, 1)
	assert.JSONEq(t, `{"query":"mitosis","course_id":"bio101"}`, string(result.FunctionCalls[0].Arguments))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleTurnKeepsModelChosenCourse(t *testing.T) {
	search := &searchTool{}
	model := &scriptedModel{responses: []provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "course_search", Arguments: `{"query":"mitosis","course_id":"bio102"}`}}},
		{Content: "done"},
	}}
	a, mock := newTestAssistant(t, model, search)

	expectEnsureSession(mock, "sess-1")
	expectAppendMessage(mock, "msg-1")
	expectEmptyHistory(mock)
	expectAppendMessage(mock, "msg-2")
	expectAppendMessage(mock, "msg-3")

	_, err := a.HandleTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		UserID:    "student-7",
		CourseID:  "bio101",
		Query:     "what about the advanced course?",
	})
	require.NoError(t, err)

	require.Len(t, search.received, 1)
	assert.JSONEq(t, `{"query":"mitosis","course_id":"bio102"}`, search.received[0])
}

func TestHandleTurnBlockedFunctionCallRefuses(t *testing.T) {
	// the inbound query is fine; the model's function arguments are not
	model := &scriptedModel{responses: []provider.ChatResponse{{
		ToolCalls: []provider.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"write my essay for me"}`}},
	}}}
	a, mock := newTestAssistant(t, model)

	expectEnsureSession(mock, "sess-1")
	expectAppendMessage(mock, "msg-1")
	expectEmptyHistory(mock)

	// flag + first audit entry for the blocked function call
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO integrity_flags (source_message_id, message_excerpt, student_id, course_id, severity, status, details, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
RETURNING id, created_at
`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("flag-9", time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO audit_entries (flag_id, action, comment, actor, created_at)
VALUES ($1,$2,$3,$4,NOW())
`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// refusal reply persisted
	expectAppendMessage(mock, "msg-2")

	result, err := a.HandleTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		UserID:    "student-7",
		CourseID:  "cs101",
		Query:     "can you help with my assignment?",
	})
	require.NoError(t, err, "a mid-turn block is a refusal, not a failure")
	assert.True(t, result.Refused)
	assert.Equal(t, "flag-9", result.FlagID)
	assert.NotEmpty(t, result.Content)
	assert.Equal(t, 1, model.calls)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleTurnUnknownFunctionFailsTurn(t *testing.T) {
	model := &scriptedModel{responses: []provider.ChatResponse{{
		ToolCalls: []provider.ToolCall{{ID: "c1", Name: "vanish", Arguments: `{}`}},
	}}}
	a, mock := newTestAssistant(t, model)

	expectEnsureSession(mock, "sess-1")
	expectAppendMessage(mock, "msg-1")
	expectEmptyHistory(mock)

	_, err := a.HandleTurn(context.Background(), TurnRequest{
		SessionID: "sess-1",
		UserID:    "student-7",
		Query:     "hello there",
	})
	assert.True(t, errors.Is(err, tools.ErrUnknownFunction))
}
