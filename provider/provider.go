package provider

import (
	"context"
	"errors"

	"github.com/studiumlabs/studium/config"
)

// Client represents different LLM providers.
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Message is one entry of a chat conversation in provider wire format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-initiated request to invoke a named function.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object
}

// ToolSpec declares a callable function to the model.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON schema
}

// ChatResponse is the model's answer to one chat-completion call.
// Either Content is set or ToolCalls is non-empty.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider is the interface all LLM implementations must satisfy.
// Embeddings are not guaranteed bit-stable across model upgrades;
// callers must not compare vectors produced by different model versions.
type Provider interface {
	// Embed converts texts into fixed-dimension vectors, preserving input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Chat runs one chat-completion call. When tools are supplied the model
	// may answer with tool calls instead of content.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatResponse, error)
}

// NewProvider creates an LLM client based on the supplied configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI, "":
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key not set")
		}
		return NewOpenAIClient(cfg), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
