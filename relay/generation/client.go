// Package generation produces assistant replies for a transcript through a
// chat completion provider.
package generation

import (
	"context"
	"errors"
	"time"

	ports "github.com/ZanzyTHEbar/chatrelay/relay/generation/ports"
	"github.com/ZanzyTHEbar/chatrelay/relay/transcript"

	"github.com/rs/zerolog"
)

// Client requests one completion per call. It never touches the store.
type Client struct {
	provider ports.Provider
	builder  *PromptBuilder
	tracer   ports.Tracer
	options  ports.Options
	system   string
	timeout  time.Duration
	logger   zerolog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithOptions sets model and sampling options.
func WithOptions(opts ports.Options) ClientOption {
	return func(c *Client) {
		c.options = opts
	}
}

// WithSystemPrompt sends system ahead of every transcript. It is never stored.
func WithSystemPrompt(system string) ClientOption {
	return func(c *Client) {
		c.system = system
	}
}

// WithTimeout bounds each provider call. Zero means the caller's deadline only.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTracer sets the span tracer.
func WithTracer(t ports.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithClientLogger sets a custom logger.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client over provider.
func NewClient(provider ports.Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		builder:  NewPromptBuilder(),
		tracer:   &noOpTracer{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends history oldest-first and returns the top choice's text.
// Failures are returned as *CompletionError.
func (c *Client) Complete(ctx context.Context, history transcript.Transcript) (reply string, err error) {
	ctx, finish := c.tracer.StartSpan(ctx, "completion", map[string]any{
		"model": c.options.Model,
		"turns": len(history),
	})
	defer func() { finish(err) }()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	input := c.builder.Build(c.system, history, nil)
	completion, err := c.provider.Complete(ctx, input, c.options)
	if err != nil {
		cerr := classify(err)
		c.logger.Debug().Err(err).Str("kind", cerr.Kind.String()).Msg("Completion failed")
		return "", cerr
	}

	if completion.Usage != nil {
		c.tracer.Event(ctx, "usage", map[string]any{
			"prompt_tokens":     completion.Usage.PromptTokens,
			"completion_tokens": completion.Usage.CompletionTokens,
		})
	}
	return completion.Text, nil
}

func classify(err error) *CompletionError {
	var rejected *ports.RejectedError
	if errors.As(err, &rejected) {
		return &CompletionError{
			Kind:   KindProviderRejected,
			Status: rejected.StatusCode,
			Detail: rejected.Detail,
			Err:    err,
		}
	}
	return &CompletionError{Kind: KindTransport, Err: err}
}
