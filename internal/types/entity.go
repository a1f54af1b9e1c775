// Package types defines the core data model shared across adapters, the
// event bus, the aggregator, and the repositories: entities, readings, and
// the rolled-up statistics rows.
//
// Adapted from internal/types/weather.go, which defines a
// single wide Reading struct with one column per possible measurement.
// This system instead identifies measurements by entity_id (each raw
// weatherstations/davis adapter value becomes one Entity, named
// "sensor.davis_<field>"), so a single SensorReading/Entity pair replaces
// an entire struct field.
package types

// AggregationMethod is the policy used to collapse a window of raw events
// into one representative scalar.
type AggregationMethod string

const (
	AggregationMean  AggregationMethod = "mean"
	AggregationMax   AggregationMethod = "max"
	AggregationMin   AggregationMethod = "min"
	AggregationSum   AggregationMethod = "sum"
	AggregationLast  AggregationMethod = "last"
	AggregationCount AggregationMethod = "count"
	AggregationNone  AggregationMethod = "none"
)

// Entity identifies one measurement channel. Created once, at process
// start, from an adapter's entity catalog; never mutated thereafter.
type Entity struct {
	EntityID          string            `gorm:"column:entity_id;primaryKey" json:"entity_id"`
	FriendlyName      string            `gorm:"column:friendly_name" json:"friendly_name"`
	Source            string            `gorm:"column:source" json:"source"`
	Unit              string            `gorm:"column:unit" json:"unit"`
	DeviceClass       string            `gorm:"column:device_class" json:"device_class"`
	StateClass        string            `gorm:"column:state_class" json:"state_class"`
	AggregationMethod AggregationMethod `gorm:"column:aggregation_method" json:"aggregation_method"`
}

// TableName implements the GORM Tabler interface.
func (Entity) TableName() string { return "entities" }
