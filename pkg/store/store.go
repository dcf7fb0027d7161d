// Package store persists scrape runs and per-case outcomes with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openpuc/scrapers/pkg/config"
)

// ErrRunNotFound is returned for an unknown run id
var ErrRunNotFound = errors.New("run not found")

// Store wraps the run database
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Connect opens the configured database and migrates the schema
func Connect(cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}

	var dialector gorm.Dialector
	switch cfg.GetDriver() {
	case "postgres":
		dsn, err := ResolveDSN(cfg.DSN, cfg.PgpassFile)
		if err != nil {
			return nil, fmt.Errorf("resolve dsn: %w", err)
		}
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return New(db, logger)
}

// New wraps an open gorm connection and migrates the schema
func New(db *gorm.DB, logger zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&ScrapeRun{}, &CaseRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, logger: logger.With().Str("component", "store").Logger()}, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases database resources
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun records a queued run
func (s *Store) CreateRun(ctx context.Context, scraper, mode string, after *time.Time, basePath string) (*ScrapeRun, error) {
	if mode == "" {
		mode = ModeAll
	}
	run := &ScrapeRun{
		ID:         uuid.New(),
		Scraper:    scraper,
		Mode:       mode,
		After:      after,
		BasePath:   basePath,
		Status:     StatusQueued,
		CasesTotal: -1,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	s.logger.Debug().Str("run_id", run.ID.String()).Str("scraper", scraper).Msg("run created")
	return run, nil
}

// MarkRunning moves a queued run to running
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return s.updateRun(ctx, id, map[string]interface{}{"status": StatusRunning})
}

// SetTotal records how many cases the run will process
func (s *Store) SetTotal(ctx context.Context, id uuid.UUID, total int) error {
	return s.updateRun(ctx, id, map[string]interface{}{"cases_total": total})
}

func (s *Store) updateRun(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&ScrapeRun{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update run %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RecordCase stores a case outcome and bumps the run counters in one
// transaction. It reports whether this was the last outstanding case.
func (s *Store) RecordCase(ctx context.Context, rec CaseRecord) (bool, error) {
	var complete bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}

		counter := "cases_done"
		if rec.Error != "" {
			counter = "cases_failed"
		}
		res := tx.Model(&ScrapeRun{}).Where("id = ?", rec.RunID).
			Update(counter, gorm.Expr(counter+" + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRunNotFound
		}

		var run ScrapeRun
		if err := tx.First(&run, "id = ?", rec.RunID).Error; err != nil {
			return err
		}
		complete = run.Complete() && !run.Status.Finished()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record case %s: %w", rec.CaseNumber, err)
	}
	return complete, nil
}

// FinishRun sets the final status once. It reports false when the run was
// already finished.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status Status, errMsg string) (bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&ScrapeRun{}).
		Where("id = ? AND status IN ?", id, []Status{StatusQueued, StatusRunning}).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       errMsg,
			"finished_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("finish run %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetRun returns one run
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*ScrapeRun, error) {
	var run ScrapeRun
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first, optionally for one scraper
func (s *Store) ListRuns(ctx context.Context, scraper string, limit int) ([]ScrapeRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if scraper != "" {
		q = q.Where("scraper = ?", scraper)
	}

	var runs []ScrapeRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// ListCases returns the case outcomes of a run
func (s *Store) ListCases(ctx context.Context, runID uuid.UUID) ([]CaseRecord, error) {
	var cases []CaseRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&cases).Error
	return cases, err
}

// LastSuccessfulRun returns the newest succeeded or partial run of scraper,
// nil when there is none
func (s *Store) LastSuccessfulRun(ctx context.Context, scraper string) (*ScrapeRun, error) {
	var run ScrapeRun
	err := s.db.WithContext(ctx).
		Where("scraper = ? AND status IN ?", scraper, []Status{StatusSucceeded, StatusPartial}).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ActiveBasePaths returns the object prefixes of the scraper's queued and
// running runs
func (s *Store) ActiveBasePaths(ctx context.Context, scraper string) ([]string, error) {
	var paths []string
	err := s.db.WithContext(ctx).Model(&ScrapeRun{}).
		Where("scraper = ? AND status IN ?", scraper, []Status{StatusQueued, StatusRunning}).
		Pluck("base_path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("active runs of %s: %w", scraper, err)
	}
	return paths, nil
}
