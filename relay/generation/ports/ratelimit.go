package generationports

import "context"

// RateLimiter bounds how often a key may proceed.
type RateLimiter interface {
	// Allow consumes one permit for key or returns an error if none is left.
	Allow(ctx context.Context, key string) error
}
