package types

import (
	"time"

	"github.com/jackc/pgtype"
)

// SensorReading is the event published on the bus for every decoded
// measurement. The persistent flag distinguishes high-frequency live
// readings (LOOP, visible to subscribers but not stored) from archive
// readings (stored and used as aggregation triggers).
type SensorReading struct {
	Timestamp  time.Time    `gorm:"column:timestamp" json:"timestamp"`
	Source     string       `gorm:"-" json:"source"`
	EntityID   string       `gorm:"column:entity_id" json:"entity_id"`
	Value      *float64     `gorm:"column:value" json:"value,omitempty"`
	Attributes pgtype.JSONB `gorm:"column:attributes;type:jsonb" json:"attributes,omitempty"`
	Persistent bool         `gorm:"-" json:"persistent"`
}

// Event is the persisted row corresponding to a persistent SensorReading.
// PK (timestamp, entity_id).
type Event struct {
	Timestamp  time.Time    `gorm:"column:timestamp;primaryKey" json:"timestamp"`
	EntityID   string       `gorm:"column:entity_id;primaryKey" json:"entity_id"`
	Value      *float64     `gorm:"column:value" json:"value,omitempty"`
	Attributes pgtype.JSONB `gorm:"column:attributes;type:jsonb" json:"attributes,omitempty"`
}

// TableName implements the GORM Tabler interface.
func (Event) TableName() string { return "events" }

// ToEvent projects a persistent SensorReading down to its storage row.
func (r SensorReading) ToEvent() Event {
	return Event{
		Timestamp:  r.Timestamp,
		EntityID:   r.EntityID,
		Value:      r.Value,
		Attributes: r.Attributes,
	}
}

// HasValue reports whether the reading carries a numeric value.
func (r SensorReading) HasValue() bool { return r.Value != nil }
