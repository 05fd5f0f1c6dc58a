// Package llm defines the provider abstraction used by the agent layer.
//
// A Provider turns a ChatRequest into a ChatResponse over some backend
// API. Implementations live under providers/ and are selected by
// configuration; the orchestration code only ever sees this interface.
package llm

import (
	"context"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Model string `json:"model"`
	// System is a dedicated system prompt. Providers that take the system
	// prompt out-of-band (Anthropic) use it directly; others prepend it
	// as a system-role message.
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Usage reports token consumption for a single completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is a provider-agnostic completion response.
type ChatResponse struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

// Provider is a backend capable of chat completion.
type Provider interface {
	// Name returns the provider identifier, e.g. "claude".
	Name() string

	// Completion performs a single chat completion. Implementations
	// classify transport and API failures with types error codes so the
	// retry layer can decide whether to retry.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}
