// Package audit persists summaries of finished tasks to a relational archive.
// The archive holds only derived data produced after a task reaches a terminal
// state; provenance records themselves stay in-memory and task-scoped.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested task has no archived summary.
var ErrNotFound = errors.New("audit: task summary not found")

// TaskSummary is the archived outcome of one task.
type TaskSummary struct {
	TaskID         string    `gorm:"primaryKey" json:"task_id"`
	Subject        string    `json:"subject"`
	Status         string    `json:"status"`
	Components     int       `json:"components"`
	Records        int       `json:"records"`
	AcceptedCount  int       `json:"accepted_count"`
	RejectedCount  int       `json:"rejected_count"`
	RetriedCount   int       `json:"retried_count"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	DurationMillis int64     `json:"duration_millis"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConsensusDecision is the archived per-record consensus outcome.
type ConsensusDecision struct {
	ID               uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID           string  `gorm:"index" json:"task_id"`
	RecordID         string  `gorm:"index" json:"record_id"`
	AgentID          string  `json:"agent_id"`
	ComponentType    string  `json:"component_type"`
	Accepted         bool    `json:"accepted"`
	MeanScore        float64 `json:"mean_score"`
	StructuralPasses int     `json:"structural_passes"`
	TotalVerifiers   int     `json:"total_verifiers"`
	Degraded         bool    `json:"degraded"`
	CreatedAt        time.Time
}

// Config holds the archive configuration.
type Config struct {
	// Enabled switches archiving on. Disabled by default.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Path is the SQLite database path; ":memory:" for an in-memory archive.
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns a disabled archive writing to a local file when
// enabled.
func DefaultConfig() Config {
	return Config{Enabled: false, Path: "finstudio_audit.db"}
}

// Store is the SQLite-backed archive.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (or creates) the archive database and migrates its schema.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open audit database %q: %w", cfg.Path, err)
	}
	if err := db.AutoMigrate(&TaskSummary{}, &ConsensusDecision{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	logger.Info("audit archive opened", zap.String("path", cfg.Path))
	return &Store{db: db, logger: logger.With(zap.String("component", "audit_store"))}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ArchiveTask persists one task summary and its per-record decisions in a
// single transaction.
func (s *Store) ArchiveTask(ctx context.Context, summary *TaskSummary, decisions []*ConsensusDecision) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(summary).Error; err != nil {
			return err
		}
		for _, decision := range decisions {
			decision.TaskID = summary.TaskID
			if err := tx.Create(decision).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive task %s: %w", summary.TaskID, err)
	}
	s.logger.Debug("task archived",
		zap.String("task_id", summary.TaskID),
		zap.String("status", summary.Status),
		zap.Int("decisions", len(decisions)),
	)
	return nil
}

// GetTaskSummary reads one archived summary.
func (s *Store) GetTaskSummary(ctx context.Context, taskID string) (*TaskSummary, error) {
	var summary TaskSummary
	err := s.db.WithContext(ctx).First(&summary, "task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read task summary %s: %w", taskID, err)
	}
	return &summary, nil
}

// ListDecisions returns every archived decision of a task in insertion order.
func (s *Store) ListDecisions(ctx context.Context, taskID string) ([]*ConsensusDecision, error) {
	var decisions []*ConsensusDecision
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("id asc").
		Find(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("list decisions for %s: %w", taskID, err)
	}
	return decisions, nil
}

// ListTaskSummaries returns archived summaries, newest first, up to limit
// (limit <= 0 means no limit).
func (s *Store) ListTaskSummaries(ctx context.Context, limit int) ([]*TaskSummary, error) {
	query := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var summaries []*TaskSummary
	if err := query.Find(&summaries).Error; err != nil {
		return nil, fmt.Errorf("list task summaries: %w", err)
	}
	return summaries, nil
}
