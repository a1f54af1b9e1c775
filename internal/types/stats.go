package types

import (
	"time"

	"github.com/jackc/pgtype"
)

// ShortTermStat is one 5-minute-window summary row per (window_start,
// entity_id). count == 0 denotes a gap-filled row (no events fell in the
// window; the last known value is carried forward).
type ShortTermStat struct {
	WindowStart time.Time    `gorm:"column:start_ts;primaryKey" json:"window_start"`
	EntityID    string       `gorm:"column:entity_id;primaryKey" json:"entity_id"`
	Mean        *float64     `gorm:"column:mean" json:"mean,omitempty"`
	Min         *float64     `gorm:"column:min" json:"min,omitempty"`
	Max         *float64     `gorm:"column:max" json:"max,omitempty"`
	Last        *float64     `gorm:"column:last" json:"last,omitempty"`
	Sum         *float64     `gorm:"column:sum" json:"sum,omitempty"`
	Count       int          `gorm:"column:count" json:"count"`
	Attributes  pgtype.JSONB `gorm:"column:attributes;type:jsonb" json:"attributes,omitempty"`
}

// TableName implements the GORM Tabler interface.
func (ShortTermStat) TableName() string { return "statistics_short_term" }

// LongTermStat is one hourly rollup row per (window_start, entity_id),
// carrying everything ShortTermStat does plus the representative State
// scalar chosen by the entity's aggregation method.
type LongTermStat struct {
	WindowStart time.Time    `gorm:"column:start_ts;primaryKey" json:"window_start"`
	EntityID    string       `gorm:"column:entity_id;primaryKey" json:"entity_id"`
	Mean        *float64     `gorm:"column:mean" json:"mean,omitempty"`
	Min         *float64     `gorm:"column:min" json:"min,omitempty"`
	Max         *float64     `gorm:"column:max" json:"max,omitempty"`
	Last        *float64     `gorm:"column:last" json:"last,omitempty"`
	Sum         *float64     `gorm:"column:sum" json:"sum,omitempty"`
	Count       int          `gorm:"column:count" json:"count"`
	State       *float64     `gorm:"column:state" json:"state,omitempty"`
	Attributes  pgtype.JSONB `gorm:"column:attributes;type:jsonb" json:"attributes,omitempty"`
}

// TableName implements the GORM Tabler interface.
func (LongTermStat) TableName() string { return "statistics" }

// StatisticsComputed is published on the bus once per completed 5-minute
// window. A window that also ran the hourly rollup still produces exactly
// one event.
type StatisticsComputed struct {
	WindowEnd time.Time
}
