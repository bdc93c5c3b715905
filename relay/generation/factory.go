package generation

import (
	"context"
	"net/http"

	"github.com/ZanzyTHEbar/chatrelay/relay/config"
	"github.com/ZanzyTHEbar/chatrelay/relay/generation/adapters"
	ports "github.com/ZanzyTHEbar/chatrelay/relay/generation/ports"

	"github.com/rs/zerolog"
)

// Factory creates and wires generation components from configuration.
type Factory struct {
	provider config.ProviderConfig
	dispatch config.DispatchConfig
	logger   zerolog.Logger
}

// NewFactory creates a new generation factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{
		provider: cfg.Provider,
		dispatch: cfg.Dispatch,
		logger:   logger,
	}
}

// CreateClient creates a Client talking to the configured provider.
func (f *Factory) CreateClient() *Client {
	provider := adapters.NewChatCompletionsProvider(f.provider.BaseURL, f.provider.APIKey, &http.Client{})

	return NewClient(provider,
		WithOptions(ports.Options{
			Model:        f.provider.Model,
			MaxNewTokens: f.provider.MaxTokens,
			Temperature:  f.provider.Temperature,
		}),
		WithSystemPrompt(f.provider.SystemPrompt),
		WithTimeout(f.provider.Timeout),
		WithTracer(f.CreateTracer()),
		WithClientLogger(f.logger),
	)
}

// CreateRateLimiter creates the per-user limiter, or a no-op one when disabled.
func (f *Factory) CreateRateLimiter() ports.RateLimiter {
	if !f.dispatch.RateLimitEnabled || f.dispatch.RateLimitCapacity <= 0 {
		return &noOpRateLimiter{}
	}

	return adapters.NewTokenBucket(f.dispatch.RateLimitCapacity, f.dispatch.RateLimitRefill)
}

// CreateTracer creates a tracer adapter. Spans are only emitted when the
// logger is at debug level or below.
func (f *Factory) CreateTracer() ports.Tracer {
	if f.logger.GetLevel() > zerolog.DebugLevel {
		return &noOpTracer{}
	}

	return adapters.NewZerologTracer(f.logger.With().Str("component", "tracer").Logger())
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Allow(ctx context.Context, key string) error { return nil }

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
