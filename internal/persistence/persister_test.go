package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/windvane-labs/weathercore/internal/eventbus"
	"github.com/windvane-labs/weathercore/internal/types"
)

type fakeEventRepo struct {
	mu     sync.Mutex
	saved  []types.Event
	failOn string // EntityID that should fail Save once
}

func (f *fakeEventRepo) Save(ctx context.Context, e types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && e.EntityID == f.failOn {
		f.failOn = ""
		return errors.New("boom")
	}
	f.saved = append(f.saved, e)
	return nil
}

func (f *fakeEventRepo) InWindowForStats(ctx context.Context, entityID string, windowStart, windowEnd time.Time) ([]types.Event, error) {
	return nil, nil
}

func TestPersisterSavesOnlyPersistentReadings(t *testing.T) {
	repo := &fakeEventRepo{}
	p := New(repo)
	bus := eventbus.New(100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)
	p.Attach(bus)

	v := 1.0
	persistent := types.SensorReading{EntityID: "sensor.davis_temp_out", Value: &v, Persistent: true, Timestamp: time.Now()}
	live := types.SensorReading{EntityID: "sensor.davis_temp_out", Value: &v, Persistent: false, Timestamp: time.Now()}

	if err := bus.Publish(persistent); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(live); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		repo.mu.Lock()
		n := len(repo.saved)
		repo.mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for save")
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.saved) != 1 {
		t.Fatalf("saved = %d rows, want exactly 1 (non-persistent reading must be ignored)", len(repo.saved))
	}
}

func TestPersisterSaveFailureDoesNotPropagate(t *testing.T) {
	repo := &fakeEventRepo{failOn: "sensor.davis_temp_out"}
	p := New(repo)
	bus := eventbus.New(100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)
	p.Attach(bus)

	v := 1.0
	r1 := types.SensorReading{EntityID: "sensor.davis_temp_out", Value: &v, Persistent: true, Timestamp: time.Now()}
	r2 := types.SensorReading{EntityID: "sensor.davis_temp_out", Value: &v, Persistent: true, Timestamp: time.Now().Add(time.Minute)}

	if err := bus.Publish(r1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(r2); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		repo.mu.Lock()
		n := len(repo.saved)
		repo.mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out: failed save must not block subsequent saves")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
