// Package config defines the configuration surface this core consumes
// (§6) and a cached wrapper around any concrete provider.
//
// Narrowed from pkg/config.ConfigProvider, which covers an
// entire multi-device, multi-website, multi-controller deployment. This
// core has exactly one adapter family (Davis) and a fixed set of ambient
// settings, so the interface shrinks to a single LoadConfig plus the
// lifecycle Close, and ConfigData shrinks to five sections (Davis, Bus,
// Storage, HealthAPI, Aggregator). The caching wrapper (CachedConfigProvider) is kept because
// config is re-read by cmd/weathercore at most once at startup, same as
// the underlying provider.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/windvane-labs/weathercore/internal/errkind"
)

// ConfigProvider is the interface the core's bootstrap consumes.
type ConfigProvider interface {
	LoadConfig() (*ConfigData, error)
	Close() error
}

// ConfigData is the complete configuration surface consumed by the core.
type ConfigData struct {
	Davis      DavisData      `json:"davis"`
	Bus        BusData        `json:"bus"`
	Storage    StorageData    `json:"storage"`
	HealthAPI  HealthAPIData  `json:"health_api"`
	Aggregator AggregatorData `json:"aggregator"`
}

// DavisData configures the Davis adapter (§4.5, §6).
type DavisData struct {
	Name             string  `json:"name"`
	SerialPort       string  `json:"serial_port"`
	BaudRate         int     `json:"baud_rate"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Altitude         float64 `json:"altitude"`
	LoopCount        int     `json:"loop_count"`
	WakeupTimeoutMs  int     `json:"wakeup_timeout_ms"`
	ReconnectDelayMs int     `json:"reconnect_delay_ms"`
}

// BusData configures the event bus (§4.7).
type BusData struct {
	BufferSize int `json:"buffer_size"`
}

// StorageData configures the Postgres repository backend (§10.6).
type StorageData struct {
	PostgresDSN string `json:"postgres_dsn"`
}

// HealthAPIData configures the health HTTP surface (§10.4).
type HealthAPIData struct {
	ListenAddr string `json:"listen_addr"`
}

// AggregatorData configures the aggregator's warm-restart cache snapshot
// (§10.5).
type AggregatorData struct {
	// SnapshotPath is where last_value_cache is msgpack-encoded every
	// 5-minute window. Empty disables snapshotting entirely.
	SnapshotPath string `json:"snapshot_path"`
}

// CachedConfigProvider wraps a ConfigProvider with a simple time-based
// cache, grounded on pkg/config.CachedConfigProvider.
type CachedConfigProvider struct {
	provider    ConfigProvider
	cacheExpiry time.Duration

	mu         sync.RWMutex
	cache      *ConfigData
	lastLoaded time.Time
}

// NewCachedProvider wraps provider with a cache that expires after
// cacheExpiry (30s if zero).
func NewCachedProvider(provider ConfigProvider, cacheExpiry time.Duration) *CachedConfigProvider {
	if cacheExpiry == 0 {
		cacheExpiry = 30 * time.Second
	}
	return &CachedConfigProvider{provider: provider, cacheExpiry: cacheExpiry}
}

// LoadConfig returns the cached configuration, reloading from the
// underlying provider when the cache is empty or expired.
func (c *CachedConfigProvider) LoadConfig() (*ConfigData, error) {
	c.mu.RLock()
	if c.cache != nil && time.Since(c.lastLoaded) < c.cacheExpiry {
		defer c.mu.RUnlock()
		return c.cache, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil && time.Since(c.lastLoaded) < c.cacheExpiry {
		return c.cache, nil
	}

	cfg, err := c.provider.LoadConfig()
	if err != nil {
		return nil, errkind.WrapConfig("config: load", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, errkind.WrapConfig("config: validate", err)
	}
	c.cache = cfg
	c.lastLoaded = time.Now()
	return cfg, nil
}

// Close releases the underlying provider's resources.
func (c *CachedConfigProvider) Close() error {
	return c.provider.Close()
}

// Validate checks that the Davis serial port and the Postgres DSN are set.
// A failure here fails CachedConfigProvider.LoadConfig, and App.Run then
// returns the error, so the whole process stops; the failure is not
// confined to the Davis adapter.
func Validate(cfg *ConfigData) error {
	if cfg.Davis.SerialPort == "" {
		return fmt.Errorf("davis.serial_port is required")
	}
	if cfg.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required")
	}
	return nil
}

// WithDefaults returns a copy of d with zero-valued fields set to the
// defaults §6 specifies.
func (d DavisData) WithDefaults() DavisData {
	if d.BaudRate == 0 {
		d.BaudRate = 19200
	}
	if d.LoopCount == 0 {
		d.LoopCount = 200
	}
	if d.WakeupTimeoutMs == 0 {
		d.WakeupTimeoutMs = 3000
	}
	if d.ReconnectDelayMs == 0 {
		d.ReconnectDelayMs = 5000
	}
	return d
}

// WithDefaults returns a copy of b with BufferSize defaulted to 10000.
func (b BusData) WithDefaults() BusData {
	if b.BufferSize == 0 {
		b.BufferSize = 10000
	}
	return b
}

// WithDefaults returns a copy of a with SnapshotPath defaulted to
// aggregator_cache.msgpack in the working directory.
func (a AggregatorData) WithDefaults() AggregatorData {
	if a.SnapshotPath == "" {
		a.SnapshotPath = "aggregator_cache.msgpack"
	}
	return a
}
