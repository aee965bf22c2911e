// Package sqlite implements SQLite-backed execution history using GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite
// GORM driver.
//
// Key differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent reads
//   - No connection pooling (single file, WAL handles concurrency)
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/storage"
	pgstore "github.com/nextvibe/nextvibe/internal/storage/postgres"
)

const defaultHistoryLimit = 20

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// Store implements storage.Store backed by SQLite. It reuses the
// PostgreSQL backend's GORM models; the SQLite dialect handles the SQL
// differences transparently.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string
}

// Open creates a new SQLite-backed Store.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	// Build DSN with pragmas.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", journalMode),
	)
	return &Store{db: db, logger: slogger, path: cfg.Path}, nil
}

// Migrate creates or updates the task_results table.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(&pgstore.TaskResultModel{})
}

// SaveResult appends a finished task result.
func (s *Store) SaveResult(ctx context.Context, res *domain.TaskResult) error {
	model := pgstore.ToResultModel(res)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("saving task result: %w", err)
	}
	return nil
}

// Result returns a single result by task ID.
func (s *Store) Result(ctx context.Context, taskID uuid.UUID) (*domain.TaskResult, error) {
	var model pgstore.TaskResultModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task result: %w", err)
	}
	return pgstore.ToResultDomain(&model), nil
}

// History returns the most recent results for one identity, newest first.
func (s *Store) History(ctx context.Context, identity string, limit int) ([]*domain.TaskResult, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var models []pgstore.TaskResultModel
	err := s.db.WithContext(ctx).
		Where("identity = ?", identity).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("querying task history: %w", err)
	}

	results := make([]*domain.TaskResult, len(models))
	for i := range models {
		results[i] = pgstore.ToResultDomain(&models[i])
	}
	return results, nil
}

// Prune deletes results created before the cutoff.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("created_at < ?", olderThan).
		Delete(&pgstore.TaskResultModel{})
	if tx.Error != nil {
		return 0, fmt.Errorf("pruning task history: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}

// Ping checks the database connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
