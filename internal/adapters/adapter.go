// Package adapters defines the contract every ingestion source implements
// and the shared RecoveryHandle type adapters hand back from recovery
// requests.
//
// Grounded in internal/weatherstations.WeatherStation
// interface (StartWeatherStation/StopWeatherStation/StationName/
// Capabilities); this widens that surface to the entity-catalog and health
// model this core requires and adds the optional recovery hooks that were
// never implemented.
package adapters

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/windvane-labs/weathercore/internal/types"
)

// Adapter is the common surface every ingestion source implements. Name,
// DisplayName, Version, and ProvidedEntities are pure metadata queried once
// at startup; Start/Stop are lifecycle hooks called exactly once each by
// the host.
type Adapter interface {
	Name() string
	DisplayName() string
	Version() string

	// ProvidedEntities is called once at startup to populate the entity
	// registry. The returned catalog never changes afterward.
	ProvidedEntities() []types.Entity

	Health() types.HealthStatus

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RecoverableAdapter is implemented by adapters that can replay a time
// range on demand (currently only the Davis adapter, via archive downloads).
type RecoverableAdapter interface {
	Adapter
	SupportsRecovery() bool
	// RequestRecovery schedules replay of records from 'from' onward. 'to'
	// is advisory only: most protocols (including Davis DMPAFT) emit every
	// record strictly after 'from' with no natural upper bound.
	RequestRecovery(from, to time.Time) (RecoveryHandle, error)
}

// RecoveryHandle identifies one in-flight or completed recovery request.
type RecoveryHandle struct {
	ID   uuid.UUID
	From time.Time
	To   time.Time
}

// NewRecoveryHandle mints a handle for a newly scheduled recovery request.
func NewRecoveryHandle(from, to time.Time) RecoveryHandle {
	return RecoveryHandle{ID: uuid.New(), From: from, To: to}
}
