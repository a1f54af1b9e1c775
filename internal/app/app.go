// Package app wires together everything a weathercore process owns: the
// configuration provider, the Postgres-backed repositories, the entity
// registry, the event bus, the Davis adapter, the persister, the
// aggregator, and the health HTTP surface. It mirrors
// internal/app.App in shape (New, then a blocking Run that installs signal
// handling and waits on a WaitGroup) but wires a single fixed pipeline
// instead of a pluggable manager layer, since this core has
// exactly one adapter family and a fixed set of consumers.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/windvane-labs/weathercore/internal/adapters"
	"github.com/windvane-labs/weathercore/internal/adapters/davis"
	"github.com/windvane-labs/weathercore/internal/aggregator"
	"github.com/windvane-labs/weathercore/internal/entities"
	"github.com/windvane-labs/weathercore/internal/errkind"
	"github.com/windvane-labs/weathercore/internal/eventbus"
	"github.com/windvane-labs/weathercore/internal/healthapi"
	"github.com/windvane-labs/weathercore/internal/log"
	"github.com/windvane-labs/weathercore/internal/persistence"
	"github.com/windvane-labs/weathercore/internal/repositories/postgres"
	"github.com/windvane-labs/weathercore/pkg/config"
)

// App owns the fully wired pipeline for one weathercore process.
type App struct {
	configProvider config.ConfigProvider

	store      *postgres.Store
	registry   *entities.Registry
	bus        *eventbus.Bus
	davis      *davis.Adapter
	persister  *persistence.Persister
	aggregator *aggregator.Aggregator
	health     *healthapi.Server
}

// New creates an application instance. The pipeline itself isn't built
// until Run, since it needs the loaded configuration.
func New(configProvider config.ConfigProvider) *App {
	return &App{configProvider: configProvider}
}

// Run loads configuration, wires the pipeline, starts every component, and
// blocks until a shutdown signal or ctx is cancelled. It then stops every
// component in reverse dependency order and waits for in-flight work to
// drain before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return errkind.WrapConfig("app: load configuration", err)
	}

	store, err := postgres.Open(cfg.Storage.PostgresDSN)
	if err != nil {
		return errkind.WrapRepository("app: open storage", err)
	}
	a.store = store

	events := postgres.NewEvents(store)
	shortTerm := postgres.NewShortTermStats(store)
	longTerm := postgres.NewLongTermStats(store)
	entityRepo := postgres.NewEntities(store)

	davisCfg := davis.Config{
		Name:             cfg.Davis.Name,
		SerialPort:       cfg.Davis.SerialPort,
		BaudRate:         cfg.Davis.BaudRate,
		Latitude:         cfg.Davis.Latitude,
		Longitude:        cfg.Davis.Longitude,
		Altitude:         cfg.Davis.Altitude,
		LoopCount:        cfg.Davis.LoopCount,
		WakeupTimeoutMs:  cfg.Davis.WakeupTimeoutMs,
		ReconnectDelayMs: cfg.Davis.ReconnectDelayMs,
	}

	bus := eventbus.New(cfg.Bus.BufferSize)
	a.bus = bus

	davisAdapter := davis.New(davisCfg, bus)
	a.davis = davisAdapter

	catalog := davisAdapter.ProvidedEntities()
	registry := entities.NewRegistry(catalog)
	a.registry = registry

	for _, e := range catalog {
		if err := entityRepo.Upsert(ctx, e); err != nil {
			log.Errorf("app: persist entity catalog entry %s: %v", e.EntityID, err)
		}
	}

	p := persistence.New(events)
	p.Attach(bus)
	a.persister = p

	agg := aggregator.New(registry, events, shortTerm, longTerm, bus, cfg.Aggregator.WithDefaults().SnapshotPath)
	agg.Attach(bus)
	a.aggregator = agg

	healthAddr := cfg.HealthAPI.ListenAddr
	if healthAddr == "" {
		healthAddr = ":8090"
	}
	health := healthapi.New(healthAddr, []adapters.Adapter{davisAdapter}, agg)
	a.health = health

	var wg sync.WaitGroup
	health.Start()

	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := davisAdapter.Start(ctx); err != nil {
			log.Errorf("app: davis adapter start: %v", err)
		}
	}()

	log.Info("weathercore started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	cancel()
	a.shutdown()

	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

// shutdown stops every component in reverse dependency order. Each step
// logs and continues on error rather than aborting the rest of shutdown.
func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.health != nil {
		if err := a.health.Stop(shutdownCtx); err != nil {
			log.Errorf("app: health API shutdown: %v", err)
		}
	}
	if a.davis != nil {
		if err := a.davis.Stop(shutdownCtx); err != nil {
			log.Errorf("app: davis adapter stop: %v", err)
		}
	}
	if a.configProvider != nil {
		if err := a.configProvider.Close(); err != nil {
			log.Errorf("app: config provider close: %v", err)
		}
	}
	if a.store != nil {
		if db, err := a.store.RawDB(); err == nil {
			if err := db.Close(); err != nil {
				log.Errorf("app: storage close: %v", err)
			}
		}
	}
}

// HealthCheck reports whether storage is reachable. The store is opened by
// Run, so HealthCheck returns an error until Run has done so.
func (a *App) HealthCheck(ctx context.Context) error {
	if a.store == nil {
		return fmt.Errorf("app: storage not initialized")
	}
	return a.store.Ping(ctx)
}
