package solver

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/solverlab/rtcfr/internal/randutil"
)

func populatedStore(t *testing.T) *StrategyStore {
	t.Helper()
	store := NewStrategyStore(DefaultExplorationFloor)
	rng := randutil.New(3)
	for i := 0; i < 200; i++ {
		key := InfoSetKey{
			Street:     Street(rng.IntN(4)),
			CardBucket: rng.IntN(64),
			Position:   rng.IntN(6),
			SPRBucket:  rng.IntN(20),
		}
		store.ApplyRegretDelta(key, ActionID(rng.IntN(int(actionCount))), rng.Float64()*10)
		store.AccumulateStrategy(key, Strategy{ActionCall: 0.6, ActionFold: 0.4})
	}
	return store
}

func TestSnapshotRoundTripIdentical(t *testing.T) {
	store := populatedStore(t)
	path := filepath.Join(t.TempDir(), "state.snap.gz")

	manifest := Manifest{Archives: []string{"a.gz", "b.gz"}, TotalBytes: 4096}
	snap := BuildSnapshot(store, DefaultAbstraction(), 12345, manifest, time.Now())
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if loaded.Iteration != 12345 {
		t.Fatalf("iteration mismatch: %d", loaded.Iteration)
	}
	if !reflect.DeepEqual(loaded.Manifest, manifest) {
		t.Fatalf("manifest mismatch: %+v", loaded.Manifest)
	}
	if !reflect.DeepEqual(loaded.Tables, snap.Tables) {
		t.Fatal("tables did not survive the round trip bit-identical")
	}

	restored := NewStrategyStore(DefaultExplorationFloor)
	restored.Restore(loaded.Tables)
	if restored.Len() != store.Len() {
		t.Fatalf("restored %d info sets, want %d", restored.Len(), store.Len())
	}
	if !reflect.DeepEqual(restored.Export(), store.Export()) {
		t.Fatal("restored store diverges from original")
	}
}

func TestReadSnapshotRejectsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.snap.gz")
	if err := os.WriteFile(path, []byte("not a snapshot"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
}

func TestReadSnapshotRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.snap.gz")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(`{"version": 999, "tables": {}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	if _, err := ReadSnapshot(path); err == nil {
		t.Fatal("expected version error")
	}
}

func TestWriteSnapshotLeavesNoTempOnSuccess(t *testing.T) {
	dir := t.TempDir()
	store := populatedStore(t)
	path := filepath.Join(dir, "state.snap.gz")

	snap := BuildSnapshot(store, DefaultAbstraction(), 1, Manifest{}, time.Now())
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.snap.gz" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}
