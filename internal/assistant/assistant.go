// Package assistant orchestrates one chat turn: integrity screening,
// context assembly from retrieval and history, the model call loop with
// function dispatch, and persistence of the resulting messages.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/studiumlabs/studium/config"
	"github.com/studiumlabs/studium/internal/chunker"
	"github.com/studiumlabs/studium/internal/integrity"
	"github.com/studiumlabs/studium/internal/retrieval"
	"github.com/studiumlabs/studium/internal/store"
	"github.com/studiumlabs/studium/internal/tools"
	"github.com/studiumlabs/studium/provider"
)

// ErrToolLoopLimit indicates the model kept requesting function calls
// past the configured iteration bound. The accompanying TurnResult
// still carries the best partial answer.
var ErrToolLoopLimit = errors.New("function call loop limit exceeded")

const systemPrompt = `You are a course-material assistant. Ground your answers in the
provided course excerpts and cite which excerpt you used. Guide students
toward understanding; do not produce completed assignments, exam answers
or other submissible work. If the course material does not cover the
question, say so plainly.`

const refusalMessage = "I can't help with that request. I can explain concepts, walk through examples from the course materials, and help you understand the work - but I won't produce work for you to submit as your own."

var (
	turnCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studium_chat_turns_total",
		Help: "Chat turns by integrity verdict and outcome.",
	}, []string{"verdict", "outcome"})
	turnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "studium_chat_turn_seconds",
		Help:    "Wall-clock duration of one chat turn.",
		Buckets: prometheus.DefBuckets,
	})
)

// TurnRequest is one inbound user message.
type TurnRequest struct {
	SessionID string
	UserID    string
	CourseID  string
	Query     string
}

// FunctionCall records one dispatched function within a turn.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// TurnResult is the assistant's reply for one turn.
type TurnResult struct {
	SessionID     string         `json:"session_id"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	FunctionCalls []FunctionCall `json:"function_calls"`
	Refused       bool           `json:"refused"`
	Partial       bool           `json:"partial"`
	FlagID        string         `json:"flag_id,omitempty"`
}

// ChatModel is the model dependency. Satisfied by provider.Provider.
type ChatModel interface {
	Chat(ctx context.Context, messages []provider.Message, tools []provider.ToolSpec) (provider.ChatResponse, error)
}

// Assistant runs chat turns.
type Assistant struct {
	Model     ChatModel
	Store     *store.Store
	Retriever *retrieval.Retriever
	Registry  *tools.Registry
	Integrity *integrity.Service
	Locks     SessionLocker
	Config    config.AssistantConfig

	logger *log.Logger
}

// New builds the orchestrator.
func New(model ChatModel, st *store.Store, ret *retrieval.Retriever, reg *tools.Registry, integ *integrity.Service, locks SessionLocker, cfg config.AssistantConfig) *Assistant {
	if locks == nil {
		locks = NewLocalLocker()
	}
	return &Assistant{
		Model:     model,
		Store:     st,
		Retriever: ret,
		Registry:  reg,
		Integrity: integ,
		Locks:     locks,
		Config:    cfg.Normalize(),
		logger:    log.New(log.Writer(), "[ASSIST] ", log.LstdFlags),
	}
}

// HandleTurn processes one user message end to end. Turns for the same
// session are serialized; the whole turn is bounded by the configured
// timeout. On ErrToolLoopLimit the returned result still holds the best
// partial answer.
func (a *Assistant) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Config.TurnTimeout)
	defer cancel()

	tracer := otel.Tracer("assistant")
	ctx, span := tracer.Start(ctx, "chat_turn")
	span.SetAttributes(attribute.String("session_id", req.SessionID), attribute.String("course_id", req.CourseID))
	defer span.End()

	started := time.Now()
	defer func() { turnLatency.Observe(time.Since(started).Seconds()) }()

	release, err := a.Locks.Acquire(ctx, req.SessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("acquire session lock: %w", err)
	}
	defer release()

	if _, err := a.Store.EnsureChatSession(ctx, req.SessionID, req.UserID, req.CourseID); err != nil {
		return TurnResult{}, fmt.Errorf("ensure session: %w", err)
	}
	userMsgID, err := a.Store.AppendChatMessage(ctx, store.ChatMessageRecord{
		SessionID: req.SessionID,
		Role:      store.RoleUser,
		Content:   req.Query,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("persist user message: %w", err)
	}

	verdict, flag, err := a.Integrity.Screen(ctx, integrity.Screening{
		MessageID: userMsgID,
		StudentID: req.UserID,
		CourseID:  req.CourseID,
		Input:     req.Query,
	})
	if err != nil {
		turnCounter.WithLabelValues(string(verdict.Decision), "error").Inc()
		return TurnResult{}, err
	}
	span.SetAttributes(attribute.String("verdict", string(verdict.Decision)))

	if verdict.Decision == integrity.DecisionBlock {
		return a.refuse(ctx, req, flag.ID, verdict)
	}

	messages, err := a.buildContext(ctx, req)
	if err != nil {
		turnCounter.WithLabelValues(string(verdict.Decision), "error").Inc()
		return TurnResult{}, err
	}

	result := TurnResult{SessionID: req.SessionID, Role: store.RoleAssistant, FlagID: flag.ID}
	for iteration := 0; ; iteration++ {
		resp, err := a.Model.Chat(ctx, messages, a.Registry.Specs())
		if err != nil {
			turnCounter.WithLabelValues(string(verdict.Decision), "error").Inc()
			return TurnResult{}, fmt.Errorf("model call: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			break
		}
		if resp.Content != "" {
			result.Content = resp.Content
		}
		if iteration >= a.Config.MaxToolIterations {
			result.Partial = true
			if result.Content == "" {
				result.Content = "I wasn't able to finish looking that up. Here is what I found so far: nothing conclusive - please try rephrasing your question."
			}
			a.logger.Printf("session %s: tool loop limit (%d) exceeded", req.SessionID, a.Config.MaxToolIterations)
			if err := a.persistAssistantMessage(ctx, req.SessionID, result); err != nil {
				return TurnResult{}, err
			}
			turnCounter.WithLabelValues(string(verdict.Decision), "loop_limit").Inc()
			return result, ErrToolLoopLimit
		}

		messages = append(messages, provider.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			args := a.scopeArguments(call.Name, json.RawMessage(call.Arguments), req.CourseID)
			output, blocked, blockFlagID, err := a.dispatch(ctx, req, call.Name, args)
			if err != nil {
				turnCounter.WithLabelValues(string(verdict.Decision), "error").Inc()
				return TurnResult{}, err
			}
			if blocked != nil {
				return a.refuse(ctx, req, blockFlagID, *blocked)
			}
			result.FunctionCalls = append(result.FunctionCalls, FunctionCall{
				Name:      call.Name,
				Arguments: args,
			})
			if _, err := a.Store.AppendChatMessage(ctx, store.ChatMessageRecord{
				SessionID:    req.SessionID,
				Role:         store.RoleFunction,
				Content:      output,
				FunctionName: call.Name,
				FunctionArgs: args,
			}); err != nil {
				return TurnResult{}, fmt.Errorf("persist function message: %w", err)
			}
			messages = append(messages, provider.Message{Role: "tool", ToolCallID: call.ID, Content: output})
		}
	}

	if err := a.persistAssistantMessage(ctx, req.SessionID, result); err != nil {
		return TurnResult{}, err
	}
	turnCounter.WithLabelValues(string(verdict.Decision), "ok").Inc()
	return result, nil
}

// dispatch screens a model-requested function call and executes it.
// A block verdict is reported through the returned verdict, not an
// error: the caller turns it into a refusal. Unknown names and schema
// violations are terminal for the turn.
func (a *Assistant) dispatch(ctx context.Context, req TurnRequest, name string, args json.RawMessage) (string, *integrity.Verdict, string, error) {
	verdict, flag, err := a.Integrity.Screen(ctx, integrity.Screening{
		StudentID: req.UserID,
		CourseID:  req.CourseID,
		Input:     string(args),
	})
	if err != nil {
		return "", nil, "", err
	}
	if verdict.Decision == integrity.DecisionBlock {
		return "", &verdict, flag.ID, nil
	}
	out, err := a.Registry.Invoke(ctx, name, args)
	return out, nil, "", err
}

// scopeArguments fills in the session's course for tools that declare a
// course_id parameter the model left out. Tools without that parameter
// and explicit model-chosen values pass through untouched.
func (a *Assistant) scopeArguments(name string, args json.RawMessage, courseID string) json.RawMessage {
	if courseID == "" {
		return args
	}
	t, ok := a.Registry.Lookup(name)
	if !ok {
		return args
	}
	properties, _ := t.Parameters()["properties"].(map[string]interface{})
	if _, declared := properties["course_id"]; !declared {
		return args
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return args
	}
	if parsed == nil {
		parsed = map[string]interface{}{}
	}
	if _, set := parsed["course_id"]; set {
		return args
	}
	parsed["course_id"] = courseID
	scoped, err := json.Marshal(parsed)
	if err != nil {
		return args
	}
	return scoped
}

// buildContext assembles the prompt: system instructions, retrieved
// course excerpts, then trailing history. When the token budget is
// exceeded the oldest history goes first; retrieved context is dropped
// only if history alone already overflows the budget.
func (a *Assistant) buildContext(ctx context.Context, req TurnRequest) ([]provider.Message, error) {
	budget := a.Config.ContextTokenBudget
	budget -= chunker.EstimateTokens(systemPrompt)
	budget -= chunker.EstimateTokens(req.Query)

	var contextBlock string
	if a.Retriever != nil {
		chunks, err := a.Retriever.Retrieve(ctx, req.Query, req.CourseID, 0)
		if err != nil {
			return nil, fmt.Errorf("retrieve context: %w", err)
		}
		for i, c := range chunks {
			contextBlock += fmt.Sprintf("[excerpt %d | doc %s #%d | score %.2f]\n%s\n\n", i+1, c.DocumentID, c.SequenceIndex, c.Score, c.Text)
		}
	}
	contextTokens := chunker.EstimateTokens(contextBlock)

	history, err := a.Store.ListChatMessages(ctx, req.SessionID, a.Config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	// the just-persisted user message is re-sent explicitly below
	if n := len(history); n > 0 && history[n-1].Role == store.RoleUser && history[n-1].Content == req.Query {
		history = history[:n-1]
	}

	// newest-first cost scan; everything that fits after reserving the
	// retrieval block survives
	available := budget - contextTokens
	total := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := chunker.EstimateTokens(history[i].Content)
		if total+cost > available {
			break
		}
		total += cost
		cut = i
	}
	kept := history[cut:]
	if contextTokens > budget {
		contextBlock = ""
	}

	messages := []provider.Message{{Role: "system", Content: systemPrompt}}
	if contextBlock != "" {
		messages = append(messages, provider.Message{Role: "system", Content: "Course material excerpts:\n\n" + contextBlock})
	}
	for _, m := range kept {
		if m.Role != store.RoleUser && m.Role != store.RoleAssistant {
			continue
		}
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, provider.Message{Role: "user", Content: req.Query})
	return messages, nil
}

// refuse persists and returns the refusal reply for a blocked request
// without calling the model.
func (a *Assistant) refuse(ctx context.Context, req TurnRequest, flagID string, verdict integrity.Verdict) (TurnResult, error) {
	result := TurnResult{
		SessionID: req.SessionID,
		Role:      store.RoleAssistant,
		Content:   refusalMessage,
		Refused:   true,
		FlagID:    flagID,
	}
	if err := a.persistAssistantMessage(ctx, req.SessionID, result); err != nil {
		return TurnResult{}, err
	}
	a.logger.Printf("session %s: blocked by rule %s", req.SessionID, verdict.Rule)
	turnCounter.WithLabelValues(string(verdict.Decision), "refused").Inc()
	return result, nil
}

func (a *Assistant) persistAssistantMessage(ctx context.Context, sessionID string, result TurnResult) error {
	if _, err := a.Store.AppendChatMessage(ctx, store.ChatMessageRecord{
		SessionID: sessionID,
		Role:      store.RoleAssistant,
		Content:   result.Content,
	}); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	return nil
}
