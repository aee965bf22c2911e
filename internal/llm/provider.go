// Package llm defines the provider-agnostic interface to the language-model
// collaborator used for classification fallback and solution generation.
package llm

import "context"

// Provider is the abstraction over any LLM backend (Anthropic, OpenAI,
// Gemini, or an OpenAI-compatible local server).
type Provider interface {
	// Complete sends a conversation and returns the model's reply.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request is one conversation sent to the model.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64 // 0 = provider default.
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the model returns.
type Response struct {
	Content    string
	StopReason string // "end_turn", "max_tokens"
	Usage      Usage
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// UserTurn is a convenience for the common single-question request.
func UserTurn(system, content string, maxTokens int) *Request {
	return &Request{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: content}},
		MaxTokens:    maxTokens,
	}
}
