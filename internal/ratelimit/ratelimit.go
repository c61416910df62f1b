// Package ratelimit provides per-tenant request throttling for the AI API
// routes. The in-memory token bucket is sufficient for a single instance;
// the Limiter interface is the seam for a shared store if the API tier ever
// scales out.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use. Errors are limiter
// malfunctions and should fail open.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
