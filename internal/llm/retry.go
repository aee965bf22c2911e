package llm

import (
	"context"
	"log/slog"
	"time"
)

const defaultRetryBackoff = 2 * time.Second

// RetryProvider retries a failed completion exactly once after a fixed
// backoff. More than one retry is not worth the added latency for an
// interactive bot; a provider that fails twice in a row is reported as
// unavailable instead.
type RetryProvider struct {
	inner   Provider
	backoff time.Duration
	logger  *slog.Logger
}

// NewRetryProvider wraps a provider with single-retry behavior.
// A non-positive backoff selects the default.
func NewRetryProvider(inner Provider, backoff time.Duration, logger *slog.Logger) *RetryProvider {
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &RetryProvider{inner: inner, backoff: backoff, logger: logger}
}

// Complete forwards to the wrapped provider, retrying once on failure.
func (r *RetryProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := r.inner.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	r.logger.WarnContext(ctx, "completion failed, retrying once",
		slog.String("provider", r.inner.Name()),
		slog.String("error", err.Error()),
		slog.Duration("backoff", r.backoff),
	)

	select {
	case <-time.After(r.backoff):
	case <-ctx.Done():
		return nil, err
	}
	return r.inner.Complete(ctx, req)
}

func (r *RetryProvider) Name() string { return r.inner.Name() }
