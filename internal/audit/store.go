package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/vaultchat/internal/config"
)

// Store implements Recorder with GORM over SQLite or PostgreSQL.
// All GORM usage is confined to this file; Record stays ORM-free.
type Store struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
}

// runRecordModel maps to the "run_records" table.
// No UpdatedAt or DeletedAt: the log is append-only.
type runRecordModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	StartedAt     time.Time `gorm:"not null;index"`
	FinishedAt    time.Time
	Credential    string `gorm:"not null"`
	VaultURI      string `gorm:"not null"`
	SecretName    string `gorm:"not null;index"`
	SecretVersion string
	Endpoint      string
	Deployment    string
	Outcome       string `gorm:"not null;index"`
	FailureKind   string
	FailureStage  string
	StatusCode    int
	StreamChunks  int
}

func (runRecordModel) TableName() string { return "run_records" }

// Open connects to the configured backend and runs AutoMigrate.
func Open(cfg config.AuditConfig, slogger *slog.Logger) (*Store, error) {
	if slogger == nil {
		slogger = slog.Default()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("audit: postgres DSN is required")
		}
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("audit: sqlite path is required")
		}
		// Ensure parent directory exists.
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating audit directory %s: %w", dir, err)
		}
		dialector = sqlite.Open(fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", cfg.Path))
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", cfg.Driver)
	}

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening audit store (%s): %w", cfg.Driver, err)
	}

	if err := db.AutoMigrate(&runRecordModel{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("auto-migrating audit store: %w", err)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	slogger.Debug("audit store opened", slog.String("driver", driver))
	return &Store{db: db, driver: driver, logger: slogger}, nil
}

// Append inserts a single run record. Missing IDs and timestamps are filled in.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	model := toModel(rec)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending run record: %w", err)
	}
	return nil
}

// Recent returns run records, newest first. Limit defaults to 20.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var models []runRecordModel
	if err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying run records: %w", err)
	}
	records := make([]Record, len(models))
	for i := range models {
		records[i] = toDomain(&models[i])
	}
	return records, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(r *Record) runRecordModel {
	return runRecordModel{
		ID:            r.ID,
		StartedAt:     r.StartedAt.UTC(),
		FinishedAt:    r.FinishedAt.UTC(),
		Credential:    r.Credential,
		VaultURI:      r.VaultURI,
		SecretName:    r.SecretName,
		SecretVersion: r.SecretVersion,
		Endpoint:      r.Endpoint,
		Deployment:    r.Deployment,
		Outcome:       r.Outcome,
		FailureKind:   r.FailureKind,
		FailureStage:  r.FailureStage,
		StatusCode:    r.StatusCode,
		StreamChunks:  r.StreamChunks,
	}
}

func toDomain(m *runRecordModel) Record {
	return Record{
		ID:            m.ID,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
		Credential:    m.Credential,
		VaultURI:      m.VaultURI,
		SecretName:    m.SecretName,
		SecretVersion: m.SecretVersion,
		Endpoint:      m.Endpoint,
		Deployment:    m.Deployment,
		Outcome:       m.Outcome,
		FailureKind:   m.FailureKind,
		FailureStage:  m.FailureStage,
		StatusCode:    m.StatusCode,
		StreamChunks:  m.StreamChunks,
	}
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "audit"))
}

var _ Recorder = (*Store)(nil)
