package config

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteProvider implements ConfigProvider over an embedded SQLite
// database, opened via modernc.org/sqlite (pure Go, no cgo) exactly as
// pkg/config.SQLiteProvider does for its own, much larger,
// configuration surface.
type SQLiteProvider struct {
	db *sql.DB
}

// NewSQLiteProvider opens (creating if necessary) the SQLite database at
// dbPath and ensures its schema exists.
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	connStr := fmt.Sprintf("%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("config: ping sqlite database: %w", err)
	}

	p := &SQLiteProvider{db: db}
	if err := p.initializeSchemaIfNeeded(); err != nil {
		db.Close()
		return nil, fmt.Errorf("config: initialize schema: %w", err)
	}
	return p, nil
}

func (s *SQLiteProvider) initializeSchemaIfNeeded() error {
	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='core_config'").Scan(&name)
	if err == sql.ErrNoRows {
		return s.initializeSchema()
	}
	return err
}

// initializeSchema creates the single-row core_config table. One row
// (id = 1) holds every field this core consumes; there is exactly one
// Davis device and one storage/health-api configuration per process.
func (s *SQLiteProvider) initializeSchema() error {
	const schema = `
CREATE TABLE core_config (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	davis_name          TEXT NOT NULL DEFAULT 'davis',
	serial_port         TEXT NOT NULL DEFAULT 'SIMULATED',
	baud_rate           INTEGER NOT NULL DEFAULT 19200,
	latitude            REAL NOT NULL DEFAULT 0,
	longitude           REAL NOT NULL DEFAULT 0,
	altitude            REAL NOT NULL DEFAULT 0,
	loop_count          INTEGER NOT NULL DEFAULT 200,
	wakeup_timeout_ms   INTEGER NOT NULL DEFAULT 3000,
	reconnect_delay_ms  INTEGER NOT NULL DEFAULT 5000,
	bus_buffer_size     INTEGER NOT NULL DEFAULT 10000,
	postgres_dsn        TEXT NOT NULL DEFAULT '',
	health_api_addr     TEXT NOT NULL DEFAULT ':8090',
	aggregator_snapshot_path TEXT NOT NULL DEFAULT 'aggregator_cache.msgpack',
	created_at          DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at          DATETIME DEFAULT CURRENT_TIMESTAMP
);
INSERT INTO core_config (id) VALUES (1);
`
	_, err := s.db.Exec(schema)
	return err
}

// LoadConfig reads the single core_config row.
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	row := s.db.QueryRow(`
		SELECT davis_name, serial_port, baud_rate, latitude, longitude, altitude,
		       loop_count, wakeup_timeout_ms, reconnect_delay_ms,
		       bus_buffer_size, postgres_dsn, health_api_addr, aggregator_snapshot_path
		FROM core_config WHERE id = 1`)

	var cfg ConfigData
	err := row.Scan(
		&cfg.Davis.Name, &cfg.Davis.SerialPort, &cfg.Davis.BaudRate,
		&cfg.Davis.Latitude, &cfg.Davis.Longitude, &cfg.Davis.Altitude,
		&cfg.Davis.LoopCount, &cfg.Davis.WakeupTimeoutMs, &cfg.Davis.ReconnectDelayMs,
		&cfg.Bus.BufferSize, &cfg.Storage.PostgresDSN, &cfg.HealthAPI.ListenAddr,
		&cfg.Aggregator.SnapshotPath,
	)
	if err != nil {
		return nil, fmt.Errorf("config: scan core_config: %w", err)
	}
	return &cfg, nil
}

// UpdateDavis writes new Davis adapter settings to the single config row.
func (s *SQLiteProvider) UpdateDavis(d DavisData) error {
	_, err := s.db.Exec(`
		UPDATE core_config SET
			davis_name = ?, serial_port = ?, baud_rate = ?,
			latitude = ?, longitude = ?, altitude = ?,
			loop_count = ?, wakeup_timeout_ms = ?, reconnect_delay_ms = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`,
		d.Name, d.SerialPort, d.BaudRate, d.Latitude, d.Longitude, d.Altitude,
		d.LoopCount, d.WakeupTimeoutMs, d.ReconnectDelayMs,
	)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}
