// Package gateway defines the interface for user-facing entry points.
package gateway

import (
	"context"

	"github.com/nextvibe/nextvibe/internal/domain"
)

// Gateway is a user-facing transport (CLI, HTTP, Telegram, WebSocket).
type Gateway interface {
	// Start launches the gateway's event loop and blocks until the gateway
	// exits or the context is canceled. Returns an error only on failure.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown. The context carries a deadline for
	// the grace period. In-flight requests should drain before returning.
	Stop(ctx context.Context) error
}

// Engine is the pipeline surface gateways talk to. Satisfied by
// engine.Engine; narrow so gateway tests can stub it.
type Engine interface {
	HandleRequest(ctx context.Context, identity, rawInput string, attachments []domain.Attachment) (*domain.TaskResult, error)
	History(ctx context.Context, identity string, limit int) ([]*domain.TaskResult, error)
	Result(ctx context.Context, taskID string) (*domain.TaskResult, error)
}
