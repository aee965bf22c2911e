// Package storage defines the persistence interface for execution history.
// Backends live in the sqlite and postgres sub-packages; domain types stay
// ORM-free and all GORM usage is confined to the backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextvibe/nextvibe/internal/domain"
)

// Driver names for Store.Driver().
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a requested task result does not exist.
var ErrNotFound = errors.New("storage: result not found")

// Store persists completed task results. The history is append-only:
// results are written once when a task finishes and never updated.
type Store interface {
	// SaveResult appends a finished task result to the history.
	SaveResult(ctx context.Context, res *domain.TaskResult) error

	// Result returns a single result by task ID, or ErrNotFound.
	Result(ctx context.Context, taskID uuid.UUID) (*domain.TaskResult, error)

	// History returns the most recent results for one identity, newest
	// first. Limit defaults to 20 when non-positive.
	History(ctx context.Context, identity string, limit int) ([]*domain.TaskResult, error)

	// Prune deletes results created before the cutoff and reports how
	// many rows were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks the backend connection for readiness probes.
	Ping(ctx context.Context) error

	Close() error

	// Driver returns DriverSQLite or DriverPostgres.
	Driver() string
}
