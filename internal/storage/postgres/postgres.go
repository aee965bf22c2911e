// Package postgres implements PostgreSQL-backed execution history using GORM.
// All GORM usage is confined to this package — domain types remain ORM-free.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/storage"
)

const defaultHistoryLimit = 20

// Config configures the PostgreSQL connection and pool.
type Config struct {
	DSN             string
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 30m
}

func (c Config) maxOpen() int {
	if c.MaxOpenConns > 0 {
		return c.MaxOpenConns
	}
	return 25
}

func (c Config) maxIdle() int {
	if c.MaxIdleConns > 0 {
		return c.MaxIdleConns
	}
	return 5
}

func (c Config) maxLifetime() time.Duration {
	if c.ConnMaxLifetime > 0 {
		return c.ConnMaxLifetime
	}
	return 30 * time.Minute
}

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL and configures the connection pool.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	// Catch malformed DSNs here with a clear error instead of a cryptic
	// driver failure on first query.
	if _, err := pgx.ParseConfig(cfg.DSN); err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      gormLogger,
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpen())
	sqlDB.SetMaxIdleConns(cfg.maxIdle())
	sqlDB.SetConnMaxLifetime(cfg.maxLifetime())

	slogger.Info("postgres store connected",
		slog.Int("max_open_conns", cfg.maxOpen()),
		slog.Int("max_idle_conns", cfg.maxIdle()),
	)

	return &Store{db: db, logger: slogger}, nil
}

// Migrate creates or updates the task_results table.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(&TaskResultModel{})
}

// SaveResult appends a finished task result. Append-only: no update path
// exists on this type.
func (s *Store) SaveResult(ctx context.Context, res *domain.TaskResult) error {
	model := ToResultModel(res)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("saving task result: %w", err)
	}
	return nil
}

// Result returns a single result by task ID.
func (s *Store) Result(ctx context.Context, taskID uuid.UUID) (*domain.TaskResult, error) {
	var model TaskResultModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task result: %w", err)
	}
	return ToResultDomain(&model), nil
}

// History returns the most recent results for one identity, newest first.
func (s *Store) History(ctx context.Context, identity string, limit int) ([]*domain.TaskResult, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var models []TaskResultModel
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
		results[i] = ToResultDomain(&models[i])
	}
	return results, nil
}

// Prune deletes results created before the cutoff.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("created_at < ?", olderThan).
		Delete(&TaskResultModel{})
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

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
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
