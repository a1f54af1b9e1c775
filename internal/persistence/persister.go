// Package persistence subscribes to persistent sensor readings and writes
// them to the event repository, one row per reading.
//
// Grounded on internal/storage/utils.go's ProcessReadings: a
// channel-consume loop that writes every incoming reading to a storage
// engine and logs, rather than propagates, write failures.
package persistence

import (
	"context"
	"fmt"

	"github.com/windvane-labs/weathercore/internal/errkind"
	"github.com/windvane-labs/weathercore/internal/eventbus"
	"github.com/windvane-labs/weathercore/internal/log"
	"github.com/windvane-labs/weathercore/internal/repositories"
	"github.com/windvane-labs/weathercore/internal/types"
)

// Persister writes every persistent SensorReading it observes to an
// EventRepo. Insertion is per-event, not batched, to keep latency low; a
// failed write is logged and dropped rather than retried or propagated.
type Persister struct {
	events repositories.EventRepo
}

// New constructs a Persister backed by events.
func New(events repositories.EventRepo) *Persister {
	return &Persister{events: events}
}

// Attach subscribes the persister to bus, filtering for persistent
// readings. The subscription's handler runs on the bus's own worker
// goroutine, so a slow or failing write never stalls the publisher.
func (p *Persister) Attach(bus *eventbus.Bus) {
	bus.Subscribe("persister", func(ev eventbus.Event) bool {
		r, ok := ev.(types.SensorReading)
		return ok && r.Persistent
	}, func(ev eventbus.Event) {
		r := ev.(types.SensorReading)
		if err := p.events.Save(context.Background(), r.ToEvent()); err != nil {
			log.Errorf("%v", errkind.WrapRepository(fmt.Sprintf("persister: save %s at %s", r.EntityID, r.Timestamp), err))
		}
	})
}
