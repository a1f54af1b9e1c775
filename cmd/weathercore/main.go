// Package main provides the weathercore binary: a Davis Vantage Pro
// ingestion core that persists sensor readings and rolls them up into
// short- and long-term statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/windvane-labs/weathercore/internal/app"
	"github.com/windvane-labs/weathercore/internal/constants"
	"github.com/windvane-labs/weathercore/internal/log"
	"github.com/windvane-labs/weathercore/pkg/config"
)

func main() {
	cfgFile := flag.String("config", "weathercore.db", "Path to SQLite configuration database")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("weathercore %s (%s/%s)\n", constants.Version, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if err := log.Init(*debug); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	configProvider, err := createConfigProvider(*cfgFile)
	if err != nil {
		log.Errorf("failed to create config provider: %v", err)
		os.Exit(1)
	}
	defer configProvider.Close()

	application := app.New(configProvider)
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("application error: %v", err)
		os.Exit(1)
	}
}

// createConfigProvider opens the SQLite-backed config store at cfgFile,
// creating it with its default schema if it doesn't exist yet, and wraps
// it with a 30-second cache.
func createConfigProvider(cfgFile string) (config.ConfigProvider, error) {
	filename, err := filepath.Abs(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		log.Infof("configuration database does not exist, creating one at: %s", filename)
	}

	provider, err := config.NewSQLiteProvider(filename)
	if err != nil {
		return nil, fmt.Errorf("error creating SQLite provider: %w", err)
	}

	if _, err := provider.LoadConfig(); err != nil {
		return nil, fmt.Errorf("error reading config database: %w", err)
	}

	return config.NewCachedProvider(provider, 30*time.Second), nil
}
