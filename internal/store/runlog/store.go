// Package runlog persists one row per scheduler cycle in SQLite. The engine
// runs fine without it; the ledger stays the only durable store of record.
// The run log exists for operators: what did the keeper do overnight.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"drip/internal/logger"
	"drip/internal/scheduler"
)

// Record is one completed scheduler cycle.
type Record struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TraceID    string    `gorm:"column:trace_id;index" json:"trace_id"`
	StartedAt  time.Time `gorm:"column:started_at;index" json:"started_at"`
	DurationMS int64     `gorm:"column:duration_ms" json:"duration_ms"`
	Executed   bool      `gorm:"column:executed" json:"executed"`
	OrderCount int       `gorm:"column:order_count" json:"order_count"`
	Retries    int       `gorm:"column:retries" json:"retries"`
	Error      string    `gorm:"column:error" json:"error,omitempty"`
}

func (Record) TableName() string { return "run_log" }

// Store writes cycle records. Implements scheduler.Observer.
type Store struct {
	db *gorm.DB
}

var _ scheduler.Observer = (*Store)(nil)

// Open creates or migrates the run-log database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("runlog: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("runlog: creating directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("runlog: opening %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("runlog: migrating: %w", err)
	}
	return &Store{db: db}, nil
}

// ObserveCycle records a completed cycle. Write failures are logged, never
// propagated: the run log must not break the scheduler.
func (s *Store) ObserveCycle(r scheduler.CycleReport) {
	rec := Record{
		TraceID:    r.TraceID,
		StartedAt:  r.StartedAt.UTC(),
		DurationMS: r.Duration.Milliseconds(),
		Executed:   r.Executed,
		OrderCount: r.OrderCount,
		Retries:    r.Retries,
		Error:      r.Err,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		logger.Warnf("runlog: writing cycle %s failed: %v", r.TraceID, err)
	}
}

// Recent returns the latest n records, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	if n <= 0 {
		n = 50
	}
	var out []Record
	err := s.db.Order("started_at DESC").Limit(n).Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
