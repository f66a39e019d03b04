// Package index maintains a queryable database of submitted tests by
// periodically scanning the results tree. The index powers the recent
// test listing and the reconciliation sweep that re-enqueues tests
// stranded by a broker outage during submission.
package index

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/traceomatic/traceomatic/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Test is one indexed test job.
type Test struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	TestID     string `gorm:"not null;uniqueIndex" json:"id"`
	URL        string `json:"url"`
	Runs       int    `json:"runs"`
	CL         int    `json:"cl,omitempty"`
	NeedsBuild bool   `json:"needs_build"`

	// State is the resolved lifecycle state name at index time.
	State   string `gorm:"index" json:"state"`
	Message string `json:"message,omitempty"`

	// Acknowledged is true once any stage marker exists, meaning an
	// agent has seen the test.
	Acknowledged bool `json:"acknowledged"`

	// SubmittedAt is the intake metadata's modification time.
	SubmittedAt time.Time  `gorm:"index" json:"submitted_at"`
	IndexedAt   time.Time  `json:"indexed_at"`
	RequeuedAt  *time.Time `json:"requeued_at,omitempty"`
}

// Store provides persistence for the test index.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertTest(ctx context.Context, test *Test) error
	ListRecent(ctx context.Context, limit int) ([]Test, error)
	ListStranded(ctx context.Context, cutoff time.Time) ([]Test, error)
	MarkRequeued(ctx context.Context, testID string, at time.Time) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates an index Store backed by the configured database
// driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Test{}); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertTest inserts or updates a test record keyed by test id.
func (s *store) UpsertTest(ctx context.Context, test *Test) error {
	result := s.db.WithContext(ctx).
		Where("test_id = ?", test.TestID).
		Assign(test).
		FirstOrCreate(test)
	if result.Error != nil {
		return fmt.Errorf("upserting test: %w", result.Error)
	}

	return nil
}

// ListRecent returns the most recently submitted tests, newest first.
func (s *store) ListRecent(ctx context.Context, limit int) ([]Test, error) {
	var tests []Test
	if err := s.db.WithContext(ctx).
		Order("submitted_at DESC").
		Limit(limit).
		Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("listing recent tests: %w", err)
	}

	return tests, nil
}

// ListStranded returns pending tests submitted before cutoff that no
// agent has acknowledged and that have not been requeued yet.
func (s *store) ListStranded(
	ctx context.Context, cutoff time.Time,
) ([]Test, error) {
	var tests []Test
	if err := s.db.WithContext(ctx).
		Where("state = ?", "pending").
		Where("acknowledged = ?", false).
		Where("requeued_at IS NULL").
		Where("submitted_at < ?", cutoff).
		Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("listing stranded tests: %w", err)
	}

	return tests, nil
}

// MarkRequeued records that a stranded test was pushed back onto its
// queue so the sweep does not requeue it again.
func (s *store) MarkRequeued(
	ctx context.Context, testID string, at time.Time,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Test{}).
		Where("test_id = ?", testID).
		Update("requeued_at", at).Error; err != nil {
		return fmt.Errorf("marking test requeued: %w", err)
	}

	return nil
}
