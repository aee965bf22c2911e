// Package router maps task categories to pipeline handlers and enforces the
// one-in-flight-task-per-identity rule.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextvibe/nextvibe/internal/domain"
)

// ErrBusy is returned when an identity already has a task in flight.
// A second task is rejected rather than queued, bounding per-user resource
// usage and preventing interleaved sandbox runs for one user.
var ErrBusy = errors.New("a task is already in progress for this identity")

// Handler processes a classified task to completion.
type Handler interface {
	Handle(ctx context.Context, task *domain.Task) (*domain.TaskResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error)

func (f HandlerFunc) Handle(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
	return f(ctx, task)
}

// Dispatcher routes tasks to category handlers. In-flight tracking is keyed
// by identity; the flag is held only for the duration of the handler call and
// released on every exit path, including cancellation and handler panic.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[domain.Category]Handler
	fallback Handler // Used for categories with no registered handler.
	inflight map[string]struct{}
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher. Register handlers before use.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.Category]Handler),
		inflight: make(map[string]struct{}),
		logger:   logger,
	}
}

// Register binds a handler to a category. The General handler doubles as the
// fallback for unregistered categories.
func (d *Dispatcher) Register(category domain.Category, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[category] = h
	if category == domain.CategoryGeneral {
		d.fallback = h
	}
}

// Dispatch runs the task through its category handler. Returns ErrBusy when
// the identity already has an active pipeline.
func (d *Dispatcher) Dispatch(ctx context.Context, task *domain.Task) (result *domain.TaskResult, err error) {
	if err := d.acquire(task.Identity); err != nil {
		return nil, err
	}
	// Unconditional release — success, error, cancellation, and panic all
	// pass through here. A leaked flag would lock the identity out forever.
	defer func() {
		d.release(task.Identity)
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "handler panicked",
				slog.String("task_id", task.ID.String()),
				slog.String("category", string(task.Category)),
				slog.Any("panic", r),
			)
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	handler := d.handlerFor(task.Category)
	if handler == nil {
		return nil, fmt.Errorf("no handler registered for category %q", task.Category)
	}

	d.logger.DebugContext(ctx, "dispatching task",
		slog.String("task_id", task.ID.String()),
		slog.String("category", string(task.Category)),
	)
	return handler.Handle(ctx, task)
}

// InFlight reports whether the identity currently has an active task.
func (d *Dispatcher) InFlight(identity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[identity]
	return ok
}

func (d *Dispatcher) acquire(identity string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[identity]; ok {
		return ErrBusy
	}
	d.inflight[identity] = struct{}{}
	return nil
}

func (d *Dispatcher) release(identity string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, identity)
}

func (d *Dispatcher) handlerFor(category domain.Category) Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.handlers[category]; ok {
		return h
	}
	return d.fallback
}
