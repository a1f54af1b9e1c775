// Package aggregator rolls raw events up into 5-minute and hourly
// statistics rows. It is the most intricate component in the system: it
// owns window alignment, idempotency, gap-fill, and the hourly weighted
// rollup.
//
// This core has no prior statistics layer to draw on directly -- storage
// elsewhere in this codebase only ever writes raw events -- so this
// package follows the window-alignment and per-entity procedure using the
// same small-struct-holding-repository-handles-plus-subscribe-and-react
// shape as internal/persistence and internal/adapters/davis.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/windvane-labs/weathercore/internal/entities"
	"github.com/windvane-labs/weathercore/internal/errkind"
	"github.com/windvane-labs/weathercore/internal/eventbus"
	"github.com/windvane-labs/weathercore/internal/log"
	"github.com/windvane-labs/weathercore/internal/repositories"
	"github.com/windvane-labs/weathercore/internal/types"
)

const (
	windowSize = 5 * time.Minute
	hourSize   = time.Hour
)

// Aggregator computes statistics_short_term and statistics rows triggered
// by persistent Davis readings.
type Aggregator struct {
	registry  *entities.Registry
	events    repositories.EventRepo
	shortTerm repositories.ShortTermRepo
	longTerm  repositories.LongTermRepo
	bus       *eventbus.Bus

	mu                  sync.Mutex
	lastProcessedWindow time.Time
	haveLastWindow      bool
	lastHourlyRollup    time.Time
	haveHourlyRollup    bool
	lastValueCache      map[string]float64

	snapshotPath string
}

// New constructs an Aggregator. registry supplies the entity catalog the
// per-window and per-hour procedures iterate. snapshotPath, if non-empty,
// is best-effort loaded now to pre-seed lastValueCache and is rewritten at
// the close of every 5-minute window thereafter; an empty path disables
// snapshotting.
func New(registry *entities.Registry, events repositories.EventRepo, shortTerm repositories.ShortTermRepo, longTerm repositories.LongTermRepo, bus *eventbus.Bus, snapshotPath string) *Aggregator {
	cache := loadSnapshot(snapshotPath)
	if cache == nil {
		cache = make(map[string]float64)
	}
	return &Aggregator{
		registry:       registry,
		events:         events,
		shortTerm:      shortTerm,
		longTerm:       longTerm,
		bus:            bus,
		lastValueCache: cache,
		snapshotPath:   snapshotPath,
	}
}

// Attach subscribes the aggregator to bus, triggering on persistent
// davis-serial readings only — the archive record at the close of each
// 5-minute interval is the system's canonical wall-clock heartbeat.
func (a *Aggregator) Attach(bus *eventbus.Bus) {
	bus.Subscribe("aggregator", func(ev eventbus.Event) bool {
		r, ok := ev.(types.SensorReading)
		return ok && r.Persistent && entityIsDavis(r)
	}, func(ev eventbus.Event) {
		r := ev.(types.SensorReading)
		a.onTrigger(r.Timestamp)
	})
}

// entityIsDavis reports whether r originated from the davis-serial source.
// SensorReading carries that provenance on its (non-persisted) Source
// field, set by the adapter at publish time.
func entityIsDavis(r types.SensorReading) bool {
	return r.Source == "davis-serial"
}

// onTrigger aligns t to its closing 5-minute window and, unless that
// window was already processed, runs the per-window procedure followed by
// the hourly rollup when the window closes an hour.
func (a *Aggregator) onTrigger(t time.Time) {
	windowEnd := alignDown(t, windowSize)
	windowStart := windowEnd.Add(-windowSize)

	a.mu.Lock()
	if a.haveLastWindow && a.lastProcessedWindow.Equal(windowEnd) {
		a.mu.Unlock()
		return
	}
	a.lastProcessedWindow = windowEnd
	a.haveLastWindow = true
	a.mu.Unlock()

	ctx := context.Background()
	a.processWindow(ctx, windowStart, windowEnd)
	a.snapshotCache()

	if windowEnd.Unix()%int64(hourSize/time.Second) == 0 {
		a.processHourlyRollup(ctx, windowEnd.Add(-hourSize), windowEnd)
		a.mu.Lock()
		a.lastHourlyRollup = windowEnd
		a.haveHourlyRollup = true
		a.mu.Unlock()
	}

	if a.bus != nil {
		if err := a.bus.Publish(types.StatisticsComputed{WindowEnd: windowEnd}); err != nil {
			log.Warnf("aggregator: publish StatisticsComputed(%s): %v", windowEnd, err)
		}
	}
}

// Snapshot is a point-in-time view of the aggregator's internal state, for
// the health HTTP surface's GET /healthz/aggregator.
type Snapshot struct {
	LastProcessedWindow time.Time `json:"last_processed_window,omitempty"`
	LastHourlyRollup    time.Time `json:"last_hourly_rollup,omitempty"`
	CacheSize           int       `json:"cache_size"`
}

// Status returns the aggregator's current Snapshot.
func (a *Aggregator) Status() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{CacheSize: len(a.lastValueCache)}
	if a.haveLastWindow {
		s.LastProcessedWindow = a.lastProcessedWindow
	}
	if a.haveHourlyRollup {
		s.LastHourlyRollup = a.lastHourlyRollup
	}
	return s
}

// alignDown floors t to the nearest preceding multiple of size, in UTC.
func alignDown(t time.Time, size time.Duration) time.Time {
	u := t.UTC()
	sec := u.Unix()
	aligned := (sec / int64(size/time.Second)) * int64(size/time.Second)
	return time.Unix(aligned, 0).UTC()
}

// processWindow runs the per-entity 5-minute procedure for every entity in
// the registry. A failure on one entity is logged and does not block the
// others.
func (a *Aggregator) processWindow(ctx context.Context, windowStart, windowEnd time.Time) {
	for _, e := range a.registry.All() {
		if err := a.processEntityWindow(ctx, e, windowStart, windowEnd); err != nil {
			log.Errorf("%v", errkind.WrapRepository(fmt.Sprintf("aggregator: entity %s window [%s, %s]", e.EntityID, windowStart, windowEnd), err))
		}
	}
}

func (a *Aggregator) processEntityWindow(ctx context.Context, e types.Entity, windowStart, windowEnd time.Time) error {
	exists, err := a.shortTerm.Exists(ctx, windowStart, e.EntityID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	evs, err := a.events.InWindowForStats(ctx, e.EntityID, windowStart, windowEnd)
	if err != nil {
		return err
	}

	if e.AggregationMethod == types.AggregationNone {
		if len(evs) == 0 {
			return nil
		}
		row := types.ShortTermStat{
			WindowStart: windowStart,
			EntityID:    e.EntityID,
			Count:       len(evs),
			Attributes:  evs[len(evs)-1].Attributes,
		}
		return a.shortTerm.Save(ctx, row)
	}

	if len(evs) == 0 {
		lastValue, ok := a.cachedLastValue(e.EntityID)
		if !ok {
			latest, err := a.shortTerm.Latest(ctx, e.EntityID)
			if err != nil {
				return err
			}
			if latest == nil || latest.Last == nil {
				return nil
			}
			lastValue = *latest.Last
		}
		row := types.ShortTermStat{
			WindowStart: windowStart,
			EntityID:    e.EntityID,
			Mean:        &lastValue,
			Min:         &lastValue,
			Max:         &lastValue,
			Last:        &lastValue,
			Sum:         &lastValue,
			Count:       0,
		}
		return a.shortTerm.Save(ctx, row)
	}

	mean, min, max, last, sum, count := summarize(evs)
	row := types.ShortTermStat{
		WindowStart: windowStart,
		EntityID:    e.EntityID,
		Mean:        mean,
		Min:         min,
		Max:         max,
		Last:        last,
		Sum:         sum,
		Count:       count,
		Attributes:  evs[len(evs)-1].Attributes,
	}
	if last != nil {
		a.setCachedLastValue(e.EntityID, *last)
	}
	return a.shortTerm.Save(ctx, row)
}

// summarize computes mean/min/max/last/sum/count over evs, skipping events
// with a nil value. last is the value of the chronologically last event
// (nil if that event itself carries no value), independent of count, which
// counts only the non-nil values folded into mean/min/max/sum.
func summarize(evs []types.Event) (mean, min, max, last, sum *float64, count int) {
	var total float64
	for _, e := range evs {
		if e.Value == nil {
			continue
		}
		v := *e.Value
		total += v
		count++
		if min == nil || v < *min {
			vv := v
			min = &vv
		}
		if max == nil || v > *max {
			vv := v
			max = &vv
		}
	}
	if count > 0 {
		m := total / float64(count)
		mean = &m
		s := total
		sum = &s
	}
	last = evs[len(evs)-1].Value
	return mean, min, max, last, sum, count
}

func (a *Aggregator) cachedLastValue(entityID string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.lastValueCache[entityID]
	return v, ok
}

func (a *Aggregator) setCachedLastValue(entityID string, v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastValueCache[entityID] = v
}

// snapshotCache best-effort persists lastValueCache. Called once per
// processed window; a no-op if snapshotPath is empty.
func (a *Aggregator) snapshotCache() {
	if a.snapshotPath == "" {
		return
	}
	a.mu.Lock()
	values := make(map[string]float64, len(a.lastValueCache))
	for k, v := range a.lastValueCache {
		values[k] = v
	}
	a.mu.Unlock()
	saveSnapshot(a.snapshotPath, values)
}

// processHourlyRollup groups the hour's short-term rows by entity and
// writes one long-term row per entity not already committed. A failure on
// one entity is logged and does not block the others or the next
// 5-minute window.
func (a *Aggregator) processHourlyRollup(ctx context.Context, hourStart, hourEnd time.Time) {
	rows, err := a.shortTerm.InRange(ctx, hourStart, hourEnd)
	if err != nil {
		log.Errorf("%v", errkind.WrapRepository(fmt.Sprintf("aggregator: hourly rollup [%s, %s]: in_range", hourStart, hourEnd), err))
		return
	}

	byEntity := make(map[string][]types.ShortTermStat)
	for _, r := range rows {
		byEntity[r.EntityID] = append(byEntity[r.EntityID], r)
	}

	for entityID, group := range byEntity {
		e, ok := a.registry.Get(entityID)
		if !ok {
			continue
		}
		if err := a.processEntityRollup(ctx, e, hourStart, group); err != nil {
			log.Errorf("%v", errkind.WrapRepository(fmt.Sprintf("aggregator: hourly rollup entity %s", entityID), err))
		}
	}
}

func (a *Aggregator) processEntityRollup(ctx context.Context, e types.Entity, hourStart time.Time, group []types.ShortTermStat) error {
	exists, err := a.longTerm.Exists(ctx, hourStart, e.EntityID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	lastRow := group[len(group)-1]

	if e.AggregationMethod == types.AggregationNone {
		var totalCount int
		for _, row := range group {
			totalCount += row.Count
		}
		row := types.LongTermStat{
			WindowStart: hourStart,
			EntityID:    e.EntityID,
			Count:       totalCount,
			Attributes:  lastRow.Attributes,
		}
		return a.longTerm.Save(ctx, row)
	}

	var weightedXs, weightedWs, allMeans []float64
	var totalCount int
	var min, max, sum *float64

	for _, row := range group {
		if row.Mean != nil {
			allMeans = append(allMeans, *row.Mean)
			if row.Count > 0 {
				weightedXs = append(weightedXs, *row.Mean)
				weightedWs = append(weightedWs, float64(row.Count))
				totalCount += row.Count
			}
		}
		if row.Min != nil && (min == nil || *row.Min < *min) {
			v := *row.Min
			min = &v
		}
		if row.Max != nil && (max == nil || *row.Max > *max) {
			v := *row.Max
			max = &v
		}
		if row.Sum != nil {
			s := *row.Sum
			if sum == nil {
				sum = &s
			} else {
				*sum += s
			}
		}
	}

	if len(allMeans) == 0 {
		// Nothing numeric to roll up this hour for this entity.
		return nil
	}

	var mean float64
	if totalCount > 0 {
		mean = stat.Mean(weightedXs, weightedWs)
	} else {
		mean = stat.Mean(allMeans, nil)
	}

	row := types.LongTermStat{
		WindowStart: hourStart,
		EntityID:    e.EntityID,
		Mean:        &mean,
		Min:         min,
		Max:         max,
		Sum:         sum,
		Last:        lastRow.Last,
		Count:       totalCount,
		Attributes:  lastRow.Attributes,
	}
	row.State = selectState(e.AggregationMethod, &mean, sum, max, min, lastRow.Last, totalCount)

	return a.longTerm.Save(ctx, row)
}

// selectState picks the long-term row's representative scalar according
// to the entity's aggregation method.
func selectState(method types.AggregationMethod, mean, sum, max, min, last *float64, totalCount int) *float64 {
	switch method {
	case types.AggregationMean:
		return mean
	case types.AggregationSum:
		return sum
	case types.AggregationMax:
		return max
	case types.AggregationMin:
		return min
	case types.AggregationLast:
		return last
	case types.AggregationCount:
		c := float64(totalCount)
		return &c
	default:
		return mean
	}
}
