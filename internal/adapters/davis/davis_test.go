package davis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/windvane-labs/weathercore/internal/davisproto"
	"github.com/windvane-labs/weathercore/internal/eventbus"
	"github.com/windvane-labs/weathercore/internal/types"
)

func newTestAdapter(t *testing.T) (*Adapter, *eventbus.Bus, func()) {
	t.Helper()
	bus := eventbus.New(100)
	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)

	a := New(Config{Name: "test", SerialPort: "SIMULATED"}, bus)
	return a, bus, cancel
}

func TestOnLoopPublishesTemperature(t *testing.T) {
	a, bus, cancel := newTestAdapter(t)
	defer cancel()

	var mu sync.Mutex
	var got []types.SensorReading
	done := make(chan struct{})

	bus.SubscribeAll("collector", func(ev eventbus.Event) {
		r := ev.(types.SensorReading)
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
		if r.EntityID == "sensor.davis_temp_out" {
			close(done)
		}
	})

	tempOut := 22.2
	a.onLoop(&davisproto.LoopRecord{TempOut: &tempOut})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for temp_out reading")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, r := range got {
		if r.EntityID == "sensor.davis_temp_out" {
			if r.Persistent {
				t.Fatalf("LOOP reading should not be persistent")
			}
			if r.Value == nil || *r.Value != 22.2 {
				t.Fatalf("value = %v, want 22.2", r.Value)
			}
			return
		}
	}
	t.Fatalf("no sensor.davis_temp_out reading published")
}

func TestOnLoopSuppressesInvalidHumidity(t *testing.T) {
	a, bus, cancel := newTestAdapter(t)
	defer cancel()

	var mu sync.Mutex
	var got []types.SensorReading
	done := make(chan struct{})

	bus.SubscribeAll("collector", func(ev eventbus.Event) {
		r := ev.(types.SensorReading)
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
		if r.EntityID == "sensor.davis_temp_out" {
			close(done)
		}
	})

	tempOut := 22.2
	humidityOut := 0.0 // parser already nils 0xFF; here simulate an
	// out-of-range decoded value (e.g. 0) to exercise adapter-level
	// suppression independent of the parser's own sentinel handling.
	a.onLoop(&davisproto.LoopRecord{TempOut: &tempOut, HumidityOut: &humidityOut})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, r := range got {
		if r.EntityID == "sensor.davis_humidity_out" {
			t.Fatalf("expected humidity_out suppressed, got reading %+v", r)
		}
	}
}

func TestProvidedEntitiesAllNamedAfterSource(t *testing.T) {
	a, _, cancel := newTestAdapter(t)
	defer cancel()

	for _, e := range a.ProvidedEntities() {
		if e.Source != sourceName {
			t.Fatalf("entity %s has source %q, want %q", e.EntityID, e.Source, sourceName)
		}
	}
}

func TestHealthUnknownBeforeStart(t *testing.T) {
	a, _, cancel := newTestAdapter(t)
	defer cancel()

	h := a.Health()
	if h.State != types.HealthUnknown {
		t.Fatalf("state = %v, want %v", h.State, types.HealthUnknown)
	}
}
