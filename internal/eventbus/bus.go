// Package eventbus implements the in-process pub/sub distribution layer
// between adapters and their consumers (the persister, the aggregator, and
// any export subscribers of StatisticsComputed).
//
// Grounded in internal/storage/utils.go's ProcessReadings
// (channel-consumer loop with a context-cancellation exit) and
// internal/managers/storage.go startReadingDistributor (fan-out of one
// producer channel to several consumer channels); this generalizes both
// into a typed multi-producer/multi-subscriber bus with bounded buffering
// and an explicit backpressure error instead of a single fixed
// Reading channel.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/windvane-labs/weathercore/internal/log"
)

// ErrBackpressure is returned by Publish/PublishBatch when the bus's
// ingress buffer is full. The caller (an adapter) must log and drop rather
// than block its I/O thread.
var ErrBackpressure = errors.New("eventbus: buffer full, event dropped")

const defaultBufferSize = 10000

// Event is any value published on the bus. In practice this is always a
// types.SensorReading or a types.StatisticsComputed.
type Event interface{}

// Filter reports whether a subscriber wants to see event.
type Filter func(event Event) bool

// Handler processes one event delivered to a subscriber.
type Handler func(event Event)

type subscription struct {
	filter  Filter
	handler Handler
	ch      chan Event
	name    string
}

// Bus is the bounded, FIFO-per-publisher in-process event distributor.
type Bus struct {
	ingress chan Event

	mu   sync.RWMutex
	subs []*subscription

	wg sync.WaitGroup
}

// New returns a Bus with the given ingress buffer size (0 selects the
// default of 10 000, per §6's "buffer_size" configuration option).
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{ingress: make(chan Event, bufferSize)}
}

// Run starts the bus's dispatcher. It returns once ctx is cancelled and all
// subscriber workers have drained their queues.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case ev := <-b.ingress:
			b.dispatch(ev)
		case <-ctx.Done():
			b.drain()
			b.wg.Wait()
			return
		}
	}
}

// drain delivers whatever is still sitting in the ingress buffer after
// cancellation, then closes every subscriber channel so their workers exit.
func (b *Bus) drain() {
	for {
		select {
		case ev := <-b.ingress:
			b.dispatch(ev)
		default:
			b.mu.RLock()
			subs := append([]*subscription(nil), b.subs...)
			b.mu.RUnlock()
			for _, s := range subs {
				close(s.ch)
			}
			return
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		s.ch <- ev
	}
}

// Publish enqueues event. Non-blocking: if the ingress buffer is full it
// returns ErrBackpressure immediately rather than block the caller's
// thread (typically a serial reader callback).
func (b *Bus) Publish(event Event) error {
	select {
	case b.ingress <- event:
		return nil
	default:
		return ErrBackpressure
	}
}

// PublishBatch publishes events in order, stopping at the first one that
// would block (preserving FIFO order for the remainder instead of
// reordering around a full buffer).
func (b *Bus) PublishBatch(events []Event) error {
	for i, ev := range events {
		if err := b.Publish(ev); err != nil {
			return fmt.Errorf("eventbus: published %d of %d events before backpressure: %w", i, len(events), err)
		}
	}
	return nil
}

// Subscribe registers handler for events matching filter (nil matches
// everything). Subscribers are delivered events from a bus-owned worker,
// never the publishing thread, in the order they were published.
func (b *Bus) Subscribe(name string, filter Filter, handler Handler) {
	s := &subscription{filter: filter, handler: handler, ch: make(chan Event, defaultBufferSize), name: name}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range s.ch {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Errorf("eventbus subscriber %q panicked: %v", s.name, r)
					}
				}()
				s.handler(ev)
			}()
		}
	}()
}

// SubscribeAll registers handler for every event on the bus.
func (b *Bus) SubscribeAll(name string, handler Handler) {
	b.Subscribe(name, nil, handler)
}
