package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/windvane-labs/weathercore/internal/entities"
	"github.com/windvane-labs/weathercore/internal/types"
)

type fakeEvents struct {
	byEntity map[string][]types.Event
}

func newFakeEvents() *fakeEvents { return &fakeEvents{byEntity: make(map[string][]types.Event)} }

func (f *fakeEvents) Save(ctx context.Context, e types.Event) error {
	f.byEntity[e.EntityID] = append(f.byEntity[e.EntityID], e)
	return nil
}

func (f *fakeEvents) InWindowForStats(ctx context.Context, entityID string, windowStart, windowEnd time.Time) ([]types.Event, error) {
	var out []types.Event
	for _, e := range f.byEntity[entityID] {
		if e.Timestamp.After(windowStart) && !e.Timestamp.After(windowEnd) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeShortTerm struct {
	rows []types.ShortTermStat
}

func (f *fakeShortTerm) Exists(ctx context.Context, windowStart time.Time, entityID string) (bool, error) {
	for _, r := range f.rows {
		if r.WindowStart.Equal(windowStart) && r.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeShortTerm) Save(ctx context.Context, row types.ShortTermStat) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeShortTerm) Latest(ctx context.Context, entityID string) (*types.ShortTermStat, error) {
	var latest *types.ShortTermStat
	for i := range f.rows {
		r := f.rows[i]
		if r.EntityID != entityID {
			continue
		}
		if latest == nil || r.WindowStart.After(latest.WindowStart) {
			latest = &r
		}
	}
	return latest, nil
}

func (f *fakeShortTerm) InRange(ctx context.Context, hourStart, hourEnd time.Time) ([]types.ShortTermStat, error) {
	var out []types.ShortTermStat
	for _, r := range f.rows {
		if !r.WindowStart.Before(hourStart) && r.WindowStart.Before(hourEnd) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeLongTerm struct {
	rows []types.LongTermStat
}

func (f *fakeLongTerm) Exists(ctx context.Context, windowStart time.Time, entityID string) (bool, error) {
	for _, r := range f.rows {
		if r.WindowStart.Equal(windowStart) && r.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLongTerm) Save(ctx context.Context, row types.LongTermStat) error {
	f.rows = append(f.rows, row)
	return nil
}

func testRegistry(method types.AggregationMethod) *entities.Registry {
	return entities.NewRegistry([]types.Entity{
		{EntityID: "sensor.davis_temp_out", Source: "davis-serial", AggregationMethod: method},
	})
}

func ptr(v float64) *float64 { return &v }

func mkEvent(entityID string, t time.Time, v float64) types.Event {
	return types.Event{Timestamp: t, EntityID: entityID, Value: ptr(v)}
}

// TestAggregationFourSamples exercises scenario: four events with the same
// value v in a window produce mean=min=max=last=v, sum=v*4, count=4.
func TestAggregationFourSamples(t *testing.T) {
	windowEnd := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-windowSize)

	ev := newFakeEvents()
	for i := 0; i < 4; i++ {
		ts := windowStart.Add(time.Duration(i+1) * time.Minute)
		ev.Save(context.Background(), mkEvent("sensor.davis_temp_out", ts, 20.0))
	}

	st := &fakeShortTerm{}
	lt := &fakeLongTerm{}
	a := New(testRegistry(types.AggregationMean), ev, st, lt, nil, "")

	a.onTrigger(windowEnd)

	if len(st.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(st.rows))
	}
	row := st.rows[0]
	if row.Count != 4 {
		t.Fatalf("count = %d, want 4", row.Count)
	}
	if *row.Mean != 20.0 || *row.Min != 20.0 || *row.Max != 20.0 || *row.Last != 20.0 {
		t.Fatalf("row = %+v, want mean=min=max=last=20", row)
	}
	if *row.Sum != 80.0 {
		t.Fatalf("sum = %v, want 80", *row.Sum)
	}
}

// TestIdempotentRetrigger ensures a second trigger for the same aligned
// window produces no new row.
func TestIdempotentRetrigger(t *testing.T) {
	windowEnd := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-windowSize)

	ev := newFakeEvents()
	ev.Save(context.Background(), mkEvent("sensor.davis_temp_out", windowStart.Add(time.Minute), 20.0))

	st := &fakeShortTerm{}
	lt := &fakeLongTerm{}
	a := New(testRegistry(types.AggregationMean), ev, st, lt, nil, "")

	a.onTrigger(windowEnd)
	a.onTrigger(windowEnd.Add(10 * time.Second)) // still aligns to the same window

	if len(st.rows) != 1 {
		t.Fatalf("rows = %d, want 1 (idempotent re-trigger must not write a second row)", len(st.rows))
	}
}

// TestGapFillCarriesForwardCachedValue exercises the gap-fill path: no
// events fall in the window, but a cached last value exists.
func TestGapFillCarriesForwardCachedValue(t *testing.T) {
	w1End := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	w1Start := w1End.Add(-windowSize)
	w2End := w1End.Add(windowSize)

	ev := newFakeEvents()
	ev.Save(context.Background(), mkEvent("sensor.davis_temp_out", w1Start.Add(time.Minute), 15.5))

	st := &fakeShortTerm{}
	lt := &fakeLongTerm{}
	a := New(testRegistry(types.AggregationMean), ev, st, lt, nil, "")

	a.onTrigger(w1End)
	a.onTrigger(w2End) // no events in (w1End, w2End]: must gap-fill from cache

	if len(st.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(st.rows))
	}
	gapRow := st.rows[1]
	if gapRow.Count != 0 {
		t.Fatalf("gap-fill count = %d, want 0", gapRow.Count)
	}
	if gapRow.Mean == nil || *gapRow.Mean != 15.5 {
		t.Fatalf("gap-fill mean = %v, want 15.5", gapRow.Mean)
	}
	if *gapRow.Min != 15.5 || *gapRow.Max != 15.5 || *gapRow.Last != 15.5 {
		t.Fatalf("gap-fill row = %+v, want all fields 15.5", gapRow)
	}
}

// TestGapFillFallsBackToRepositoryLatest covers the cache-miss branch: the
// aggregator consults ShortTermRepo.Latest when its in-memory cache has
// nothing for the entity (e.g. after a restart).
func TestGapFillFallsBackToRepositoryLatest(t *testing.T) {
	windowEnd := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-windowSize)

	ev := newFakeEvents()
	st := &fakeShortTerm{rows: []types.ShortTermStat{
		{WindowStart: windowStart.Add(-windowSize), EntityID: "sensor.davis_temp_out", Last: ptr(9.0)},
	}}
	lt := &fakeLongTerm{}
	a := New(testRegistry(types.AggregationMean), ev, st, lt, nil, "")

	a.onTrigger(windowEnd)

	if len(st.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(st.rows))
	}
	row := st.rows[1]
	if row.Mean == nil || *row.Mean != 9.0 {
		t.Fatalf("gap-fill from repository latest = %v, want 9.0", row.Mean)
	}
}

// TestHourlyRollupSumAggregation exercises the hourly rollup path for a
// sum-aggregated entity across twelve constituent 5-minute rows.
func TestHourlyRollupSumAggregation(t *testing.T) {
	hourEnd := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	hourStart := hourEnd.Add(-hourSize)

	st := &fakeShortTerm{}
	var wantCount int
	for i := 0; i < 12; i++ {
		ws := hourStart.Add(time.Duration(i) * windowSize)
		v := 1.0
		st.rows = append(st.rows, types.ShortTermStat{
			WindowStart: ws,
			EntityID:    "sensor.davis_rain",
			Mean:        &v,
			Min:         &v,
			Max:         &v,
			Last:        &v,
			Sum:         &v,
			Count:       1,
		})
		wantCount++
	}

	reg := entities.NewRegistry([]types.Entity{
		{EntityID: "sensor.davis_rain", Source: "davis-serial", AggregationMethod: types.AggregationSum},
	})
	ev := newFakeEvents()
	lt := &fakeLongTerm{}
	a := New(reg, ev, st, lt, nil, "")

	a.onTrigger(hourEnd)

	if len(lt.rows) != 1 {
		t.Fatalf("long-term rows = %d, want 1", len(lt.rows))
	}
	row := lt.rows[0]
	if row.Count != wantCount {
		t.Fatalf("count = %d, want %d", row.Count, wantCount)
	}
	if row.Sum == nil || *row.Sum != 12.0 {
		t.Fatalf("sum = %v, want 12.0", row.Sum)
	}
	if row.State == nil || *row.State != 12.0 {
		t.Fatalf("state = %v, want 12.0 (sum-selected)", row.State)
	}
	if row.Min == nil || *row.Min != 1.0 || row.Max == nil || *row.Max != 1.0 {
		t.Fatalf("min/max = %v/%v, want 1.0/1.0", row.Min, row.Max)
	}
}

// TestAggregationNoneSkipsEmptyWindow covers the non-numeric path: an
// empty window produces no row at all (no gap-fill for non-numeric
// entities).
func TestAggregationNoneSkipsEmptyWindow(t *testing.T) {
	windowEnd := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)

	ev := newFakeEvents()
	st := &fakeShortTerm{}
	lt := &fakeLongTerm{}
	a := New(testRegistry(types.AggregationNone), ev, st, lt, nil, "")

	a.onTrigger(windowEnd)

	if len(st.rows) != 0 {
		t.Fatalf("rows = %d, want 0 (no gap-fill for aggregation=none)", len(st.rows))
	}
}
