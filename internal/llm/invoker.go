// Package llm sends generation payloads to a generative-model endpoint.
// It is the only part of the generation path that performs network I/O.
package llm

import (
	"context"
	"fmt"
	"time"

	"vitafit/config"
)

// Role tags a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message of a chat conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Attachment is a single binary part sent alongside the instruction text.
type Attachment struct {
	MediaType string
	Data      []byte
}

// Payload is a fully assembled instruction for one model call.
type Payload struct {
	// System is the system instruction (persona and user context).
	System string
	// Text is the task instruction, including the output contract.
	Text string
	// Attachment, when set, must be sent in the same request as Text.
	Attachment *Attachment
	// JSON asks the backend for a JSON-only response where supported.
	JSON bool
}

// RawResponse is the unparsed model output.
type RawResponse struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Invoker performs exactly one model call per Invoke. It never retries and
// never truncates history; prior turns are sent in the order given.
type Invoker interface {
	Invoke(ctx context.Context, payload Payload, history []Turn) (*RawResponse, error)
}

// New builds the invoker for the configured provider.
func New(ctx context.Context, cfg config.LLMConfig) (Invoker, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIInvoker(cfg), nil
	case "gemini":
		return NewGeminiInvoker(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}
