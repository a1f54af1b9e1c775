package aggregator

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.msgpack")
	want := map[string]float64{"davis-serial.temperature": 21.5, "davis-serial.humidity": 44}

	saveSnapshot(path, want)
	got := loadSnapshot(path)

	if len(got) != len(want) {
		t.Fatalf("loadSnapshot returned %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("loadSnapshot[%q] = %v, want %v", k, got[k], v)
		}
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.msgpack")
	if got := loadSnapshot(path); got != nil {
		t.Errorf("loadSnapshot(missing) = %v, want nil", got)
	}
}

func TestLoadSnapshotEmptyPathDisabled(t *testing.T) {
	if got := loadSnapshot(""); got != nil {
		t.Errorf("loadSnapshot(\"\") = %v, want nil", got)
	}
}

func TestLoadSnapshotCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.msgpack")
	if err := os.WriteFile(path, []byte("not msgpack"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if got := loadSnapshot(path); got != nil {
		t.Errorf("loadSnapshot(corrupt) = %v, want nil", got)
	}
}

func TestSnapshotCacheNoopWithoutPath(t *testing.T) {
	a := New(nil, nil, nil, nil, nil, "")
	a.lastValueCache["x"] = 1
	a.snapshotCache() // must not panic or attempt to write
}
