package aggregator

import (
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/windvane-labs/weathercore/internal/log"
)

// cacheSnapshot is the on-disk shape of a last_value_cache checkpoint.
type cacheSnapshot struct {
	Values map[string]float64 `msgpack:"values"`
}

// loadSnapshot best-effort reads path and returns its cache values. A
// missing or corrupt file is not an error: it only means gap-fill starts
// cold, same as a fresh install.
func loadSnapshot(path string) map[string]float64 {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("aggregator: read cache snapshot %s: %v", path, err)
		}
		return nil
	}
	var snap cacheSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		log.Warnf("aggregator: decode cache snapshot %s: %v", path, err)
		return nil
	}
	return snap.Values
}

// saveSnapshot best-effort msgpack-encodes values to path. Writes go to a
// temp file first and are renamed into place so a crash mid-write never
// leaves a truncated snapshot for the next loadSnapshot to trip over.
func saveSnapshot(path string, values map[string]float64) {
	if path == "" {
		return
	}
	data, err := msgpack.Marshal(cacheSnapshot{Values: values})
	if err != nil {
		log.Warnf("aggregator: encode cache snapshot: %v", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warnf("aggregator: write cache snapshot %s: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Warnf("aggregator: install cache snapshot %s: %v", path, err)
	}
}
