package healthapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/windvane-labs/weathercore/internal/adapters"
	"github.com/windvane-labs/weathercore/internal/aggregator"
	"github.com/windvane-labs/weathercore/internal/entities"
	"github.com/windvane-labs/weathercore/internal/eventbus"
	"github.com/windvane-labs/weathercore/internal/types"
)

type fakeAdapter struct {
	name   string
	health types.HealthStatus
}

func (a *fakeAdapter) Name() string                     { return a.name }
func (a *fakeAdapter) DisplayName() string               { return a.name }
func (a *fakeAdapter) Version() string                   { return "test" }
func (a *fakeAdapter) ProvidedEntities() []types.Entity   { return nil }
func (a *fakeAdapter) Health() types.HealthStatus         { return a.health }
func (a *fakeAdapter) Start(ctx context.Context) error    { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error     { return nil }

type nopEvents struct{}

func (nopEvents) Save(ctx context.Context, e types.Event) error { return nil }
func (nopEvents) InWindowForStats(ctx context.Context, entityID string, windowStart, windowEnd time.Time) ([]types.Event, error) {
	return nil, nil
}

type nopShortTerm struct{}

func (nopShortTerm) Exists(ctx context.Context, windowStart time.Time, entityID string) (bool, error) {
	return false, nil
}
func (nopShortTerm) Save(ctx context.Context, row types.ShortTermStat) error { return nil }
func (nopShortTerm) Latest(ctx context.Context, entityID string) (*types.ShortTermStat, error) {
	return nil, nil
}
func (nopShortTerm) InRange(ctx context.Context, hourStart, hourEnd time.Time) ([]types.ShortTermStat, error) {
	return nil, nil
}

type nopLongTerm struct{}

func (nopLongTerm) Exists(ctx context.Context, windowStart time.Time, entityID string) (bool, error) {
	return false, nil
}
func (nopLongTerm) Save(ctx context.Context, row types.LongTermStat) error { return nil }

func TestHandleAdaptersReportsEachAdapter(t *testing.T) {
	a := &fakeAdapter{name: "davis-serial", health: types.HealthStatus{State: types.HealthHealthy}}
	s := New("127.0.0.1:0", []adapters.Adapter{a}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz/adapters", nil)
	rec := httptest.NewRecorder()
	s.handleAdapters(rec, req)

	var got []AdapterStatus
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Name != "davis-serial" {
		t.Fatalf("got %+v, want one entry named davis-serial", got)
	}
}

func TestHandleAggregatorReportsSnapshot(t *testing.T) {
	reg := entities.NewRegistry()
	bus := eventbus.New(10)
	agg := aggregator.New(reg, nopEvents{}, nopShortTerm{}, nopLongTerm{}, bus, "")

	s := New("127.0.0.1:0", nil, agg)

	req := httptest.NewRequest(http.MethodGet, "/healthz/aggregator", nil)
	rec := httptest.NewRecorder()
	s.handleAggregator(rec, req)

	var got aggregator.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CacheSize != 0 {
		t.Fatalf("cache size = %d, want 0", got.CacheSize)
	}
}
