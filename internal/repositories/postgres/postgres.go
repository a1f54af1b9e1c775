// Package postgres implements the repositories package's contracts against
// PostgreSQL via gorm.
//
// Grounded in internal/database/client.go (gorm.Open against
// postgres.Open(dsn), a gorm/logger adapter writing through zap via
// zap.NewStdLog) and internal/storage/timescaledb/timescaledb.go (a
// gorm.DB-backed storage engine with its own New/connect/migrate flow).
// Hypertable/partitioning DDL is intentionally out of scope (§1); tables
// here are plain, indexed by their composite primary keys.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/windvane-labs/weathercore/internal/log"
	"github.com/windvane-labs/weathercore/internal/types"
)

// Store is one gorm connection backing every repository in this package.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	gormLog := gormlogger.New(
		stdLogger{},
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := db.AutoMigrate(&types.Entity{}, &types.Event{}, &types.ShortTermStat{}, &types.LongTermStat{}); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// stdLogger adapts the package logger to gorm's io.Writer-shaped Printf
// logger interface, matching the zap.NewStdLog(log.GetZapLogger())
// usage in internal/database/client.go.
type stdLogger struct{}

func (stdLogger) Printf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Ping checks connectivity with PingContext on gorm's underlying *sql.DB.
// It issues no SQL statement of its own and does not go through the
// lib/pq driver that this file blank-imports.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// RawDB exposes the underlying *sql.DB, e.g. for connection pool tuning at
// startup.
func (s *Store) RawDB() (*sql.DB, error) {
	return s.db.DB()
}

// Events is the EventRepo backed by Store.
type Events struct{ db *gorm.DB }

func NewEvents(s *Store) *Events { return &Events{db: s.db} }

func (r *Events) Save(ctx context.Context, e types.Event) error {
	return r.db.WithContext(ctx).Create(&e).Error
}

func (r *Events) InWindowForStats(ctx context.Context, entityID string, windowStart, windowEnd time.Time) ([]types.Event, error) {
	var events []types.Event
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND timestamp > ? AND timestamp <= ?", entityID, windowStart, windowEnd).
		Order("timestamp asc").
		Find(&events).Error
	return events, err
}

// ShortTermStats is the ShortTermRepo backed by Store.
type ShortTermStats struct{ db *gorm.DB }

func NewShortTermStats(s *Store) *ShortTermStats { return &ShortTermStats{db: s.db} }

func (r *ShortTermStats) Exists(ctx context.Context, windowStart time.Time, entityID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&types.ShortTermStat{}).
		Where("start_ts = ? AND entity_id = ?", windowStart, entityID).
		Count(&count).Error
	return count > 0, err
}

func (r *ShortTermStats) Save(ctx context.Context, row types.ShortTermStat) error {
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *ShortTermStats) Latest(ctx context.Context, entityID string) (*types.ShortTermStat, error) {
	var row types.ShortTermStat
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("start_ts desc").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *ShortTermStats) InRange(ctx context.Context, hourStart, hourEnd time.Time) ([]types.ShortTermStat, error) {
	var rows []types.ShortTermStat
	err := r.db.WithContext(ctx).
		Where("start_ts >= ? AND start_ts < ?", hourStart, hourEnd).
		Order("start_ts asc").
		Find(&rows).Error
	return rows, err
}

// LongTermStats is the LongTermRepo backed by Store.
type LongTermStats struct{ db *gorm.DB }

func NewLongTermStats(s *Store) *LongTermStats { return &LongTermStats{db: s.db} }

func (r *LongTermStats) Exists(ctx context.Context, windowStart time.Time, entityID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&types.LongTermStat{}).
		Where("start_ts = ? AND entity_id = ?", windowStart, entityID).
		Count(&count).Error
	return count > 0, err
}

func (r *LongTermStats) Save(ctx context.Context, row types.LongTermStat) error {
	return r.db.WithContext(ctx).Create(&row).Error
}

// Entities is the EntityRepo backed by Store.
type Entities struct{ db *gorm.DB }

func NewEntities(s *Store) *Entities { return &Entities{db: s.db} }

func (r *Entities) Upsert(ctx context.Context, e types.Entity) error {
	return r.db.WithContext(ctx).Save(&e).Error
}

func (r *Entities) All(ctx context.Context) ([]types.Entity, error) {
	var out []types.Entity
	err := r.db.WithContext(ctx).Find(&out).Error
	return out, err
}
