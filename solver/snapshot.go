package solver

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

const snapshotFileVersion = 1

// EntrySnapshot is the serialized form of one information set.
type EntrySnapshot struct {
	Regrets     map[ActionID]float64 `json:"regrets"`
	StrategySum map[ActionID]float64 `json:"strategy_sum"`
	Visits      float64              `json:"visits"`
}

// Manifest describes the archive inventory at snapshot time, so a
// restored engine knows which cold data the tables were trained from.
type Manifest struct {
	Archives   []string `json:"archives"`
	TotalBytes int64    `json:"total_bytes"`
}

// Snapshot is the single persistence artifact: the full learned state
// plus enough metadata to validate and resume.
type Snapshot struct {
	Version     int                      `json:"version"`
	CreatedAt   time.Time                `json:"created_at"`
	Iteration   int                      `json:"iteration"`
	Abstraction AbstractionConfig        `json:"abstraction"`
	Tables      map[string]EntrySnapshot `json:"tables"`
	Manifest    Manifest                 `json:"manifest"`
}

// Export captures the full store contents. The per-entry lock is held
// only long enough to copy one entry, so a concurrent trainer is slowed
// but never blocked wholesale.
func (s *StrategyStore) Export() map[string]EntrySnapshot {
	out := make(map[string]EntrySnapshot, s.Len())
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		keys := make([]string, 0, len(shard.entries))
		for k := range shard.entries {
			keys = append(keys, k)
		}
		shard.mu.RUnlock()

		for _, k := range keys {
			e, ok := s.lookup(k)
			if !ok {
				continue
			}
			e.mu.Lock()
			snap := EntrySnapshot{
				Regrets:     make(map[ActionID]float64, len(e.regrets)),
				StrategySum: make(map[ActionID]float64, len(e.strategySum)),
				Visits:      e.visits,
			}
			for a, v := range e.regrets {
				snap.Regrets[a] = v
			}
			for a, v := range e.strategySum {
				snap.StrategySum[a] = v
			}
			e.mu.Unlock()
			out[k] = snap
		}
	}
	return out
}

// Restore replaces the store contents with the snapshot tables. Callers
// must have stopped training first; the swap itself is per-shard atomic.
func (s *StrategyStore) Restore(tables map[string]EntrySnapshot) {
	fresh := make([]map[string]*regretEntry, storeShardCount)
	for i := range fresh {
		fresh[i] = make(map[string]*regretEntry)
	}
	for key, snap := range tables {
		e := newRegretEntry()
		for a, v := range snap.Regrets {
			if v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
				e.regrets[a] = v
			}
		}
		for a, v := range snap.StrategySum {
			if v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
				e.strategySum[a] = v
			}
		}
		e.visits = snap.Visits
		fresh[fnv32(key)&storeShardMask][key] = e
	}
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		shard.entries = fresh[i]
		shard.mu.Unlock()
	}
}

// BuildSnapshot assembles the persistence artifact from live state.
func BuildSnapshot(store *StrategyStore, abs AbstractionConfig, iteration int, manifest Manifest, now time.Time) *Snapshot {
	return &Snapshot{
		Version:     snapshotFileVersion,
		CreatedAt:   now.UTC(),
		Iteration:   iteration,
		Abstraction: abs,
		Tables:      store.Export(),
		Manifest:    manifest,
	}
}

// WriteSnapshot persists the snapshot as gzip-compressed JSON via a temp
// file and rename, so a crash mid-write never leaves a torn artifact.
func WriteSnapshot(path string, snap *Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}

	zw := gzip.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close()
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot temp: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes and validates a snapshot file completely before
// returning it; no partial state escapes on error.
func ReadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeSnapshot(f)
}

func decodeSnapshot(r io.Reader) (*Snapshot, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	defer zr.Close()

	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if snap.Version != snapshotFileVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSnapshotVersion, snap.Version, snapshotFileVersion)
	}
	if err := snap.Abstraction.Validate(); err != nil {
		return nil, fmt.Errorf("%w: abstraction: %v", ErrSnapshotCorrupt, err)
	}
	if snap.Tables == nil {
		snap.Tables = make(map[string]EntrySnapshot)
	}
	return &snap, nil
}
