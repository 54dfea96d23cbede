// Package audit keeps the append-only trail of every decision the engine
// makes: node insertions, edge updates, rejections, and alert outcomes.
// Records are totally ordered by the autoincrement id, which is what replay
// walks to reconstruct graph state.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Actions recorded in the trail. Replay consumes the first four; the rest
// exist so operators can tell a quiet day from a broken pipeline.
const (
	ActionAddNode             = "add_node"
	ActionEdgeUpserted        = "edge_upserted"
	ActionEdgePruned          = "edge_pruned"
	ActionSweep               = "sweep"
	ActionCandidatesProposed  = "candidates_proposed"
	ActionCandidateRejected   = "candidate_rejected"
	ActionJudgmentRejected    = "judgment_rejected"
	ActionJudgmentUnavailable = "judgment_unavailable"
	ActionEvaluationSkipped   = "evaluation_skipped"
	ActionBudgetSkip          = "budget_skip"
	ActionAlertEmitted        = "alert_emitted"
	ActionAlertSuppressed     = "alert_suppressed"
)

// Record is one audit row. Rows are written once and never updated.
type Record struct {
	ID      int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TS      int64          `gorm:"column:ts;index" json:"ts"`
	TraceID string         `gorm:"column:trace_id;index" json:"trace_id"`
	Action  string         `gorm:"column:action;index" json:"action"`
	Payload datatypes.JSON `gorm:"column:payload;type:TEXT" json:"payload"`
}

func (Record) TableName() string { return "audit_records" }

// Store is the append-only audit log over SQLite.
type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit store: sqlite path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Single writer; WAL still allows concurrent HTTP reads.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append writes one record. The write timestamp is taken here so the id and
// ts orders agree.
func (s *Store) Append(ctx context.Context, action, traceID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit payload marshal: %w", err)
	}
	rec := Record{
		TS:      time.Now().UTC().UnixNano(),
		TraceID: traceID,
		Action:  action,
		Payload: datatypes.JSON(raw),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// ListAfter returns up to limit records with id greater than afterID, in id
// order. Used by replay to page through the trail.
func (s *Store) ListAfter(ctx context.Context, afterID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 500
	}
	var out []Record
	err := s.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RecentByAction returns the newest records for one action, newest first.
func (s *Store) RecentByAction(ctx context.Context, action string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Record
	err := s.db.WithContext(ctx).
		Where("action = ?", action).
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
