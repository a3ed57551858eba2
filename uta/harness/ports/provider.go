package harnessports

import (
	"context"
)

// PromptMessage represents a single chat message used to build prompts.
type PromptMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // system instructions
	Messages []PromptMessage   // ordered chat history
	Meta     map[string]string // lightweight metadata for tracing/caching keys
}

// Options controls sampling, limits and determinism.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	Seed         int
	Stop         []string
	// JSONMode asks the provider for a JSON object response when supported.
	JSONMode bool
	// TimeoutMs applies to the provider call only.
	TimeoutMs int
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's response.
type Completion struct {
	Text   string
	Raw    any    // raw provider payload for debugging/telemetry
	Usage  *Usage // optional usage information
	Status int    // transport status code when the backend is remote
}

// Provider is the abstraction for chat-completion backends. Both the HTTP
// agent and the LLM judge sit on top of it.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}
