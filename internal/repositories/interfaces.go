// Package repositories defines the time-range and idempotency query
// contracts (§6) that the persister and aggregator consume. The one
// concrete gorm+postgres implementation of each lives in the postgres
// subpackage.
package repositories

import (
	"context"
	"time"

	"github.com/windvane-labs/weathercore/internal/types"
)

// EventRepo persists raw SensorReading events and serves the aggregator's
// per-window queries over them.
type EventRepo interface {
	// Save inserts one Event row. Called per-event, not batched, by the
	// persister.
	Save(ctx context.Context, e types.Event) error
	// InWindowForStats returns events for entityID with
	// windowStart < timestamp <= windowEnd, ordered by timestamp ascending.
	InWindowForStats(ctx context.Context, entityID string, windowStart, windowEnd time.Time) ([]types.Event, error)
}

// ShortTermRepo persists 5-minute rollup rows.
type ShortTermRepo interface {
	// Exists reports whether a row already exists for (windowStart, entityID).
	Exists(ctx context.Context, windowStart time.Time, entityID string) (bool, error)
	Save(ctx context.Context, row types.ShortTermStat) error
	// Latest returns the row with the latest window start for entityID, if
	// any.
	Latest(ctx context.Context, entityID string) (*types.ShortTermStat, error)
	// InRange returns every row with hourStart <= start_ts < hourEnd.
	InRange(ctx context.Context, hourStart, hourEnd time.Time) ([]types.ShortTermStat, error)
}

// LongTermRepo persists hourly rollup rows.
type LongTermRepo interface {
	Exists(ctx context.Context, windowStart time.Time, entityID string) (bool, error)
	Save(ctx context.Context, row types.LongTermStat) error
}

// EntityRepo persists the entity catalog.
type EntityRepo interface {
	// Upsert writes e, replacing any existing row with the same entity_id.
	Upsert(ctx context.Context, e types.Entity) error
	All(ctx context.Context) ([]types.Entity, error)
}

// Ping reports repository connectivity. postgres.Store implements it and
// App.HealthCheck calls it; the health HTTP surface does not.
type Ping interface {
	Ping(ctx context.Context) error
}
