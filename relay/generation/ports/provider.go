package generationports

import (
	"context"
	"fmt"
)

// PromptMessage represents a single chat message sent to the provider.
type PromptMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // optional instructions, sent ahead of the history
	Messages []PromptMessage   // ordered chat history (already windowed)
	Meta     map[string]string // lightweight metadata for tracing
}

// Options controls the model and sampling.
type Options struct {
	Model        string
	MaxNewTokens int     // 0 leaves the provider default
	Temperature  float32 // 0 leaves the provider default
}

// Usage captures token accounting for telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text  string
	Usage *Usage // optional usage information
}

// Provider is the abstraction for chat completion backends.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}

// RejectedError is returned by providers that answered the request but did
// not produce a usable completion. Any other error is a transport failure.
type RejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("provider rejected request (status %d): %s", e.StatusCode, e.Detail)
}
