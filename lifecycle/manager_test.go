package lifecycle

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/solverlab/rtcfr/solver"
)

func testSettings(t *testing.T) StorageSettings {
	t.Helper()
	s := DefaultStorageSettings(t.TempDir())
	s.MaxMemoryItems = 100
	s.MaxDiskBytes = 1 << 20
	return s
}

func newTestManager(t *testing.T, settings StorageSettings) *Manager {
	t.Helper()
	m, err := NewManager(settings, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func makeSituations(n int, potBase float64) []solver.Situation {
	out := make([]solver.Situation, n)
	for i := range out {
		out[i] = solver.Situation{
			PotSize:   potBase + float64(i),
			Stack:     1000,
			Players:   6,
			Position:  i % 6,
			FacingBet: float64(i%3) * 10,
		}
	}
	return out
}

func TestStorageSettingsValidate(t *testing.T) {
	if err := DefaultStorageSettings("x").Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	bad := DefaultStorageSettings("")
	if err := bad.Validate(); err == nil {
		t.Fatal("empty dir should fail")
	}
	bad = DefaultStorageSettings("x")
	bad.CompressionLevel = 42
	if err := bad.Validate(); err == nil {
		t.Fatal("bad compression level should fail")
	}
}

func TestAddArchivesAtHighOccupancy(t *testing.T) {
	settings := testSettings(t)
	m := newTestManager(t, settings)

	// Below the 80% watermark nothing is archived.
	if err := m.Add(makeSituations(70, 0)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if st := m.Status(); st.ArchiveCount != 0 || st.InMemory != 70 {
		t.Fatalf("unexpected status before watermark: %+v", st)
	}

	// Crossing it archives the oldest half.
	if err := m.Add(makeSituations(15, 100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	st := m.Status()
	if st.ArchiveCount != 1 {
		t.Fatalf("expected one archive, got %d", st.ArchiveCount)
	}
	if st.InMemory != 85-85/2 {
		t.Fatalf("expected oldest half archived, %d left in memory", st.InMemory)
	}
	if st.Archived != int64(85/2) {
		t.Fatalf("expected %d archived, got %d", 85/2, st.Archived)
	}
	if st.DiskBytes <= 0 {
		t.Fatal("archive should occupy disk")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	settings := testSettings(t)
	m := newTestManager(t, settings)

	original := makeSituations(80, 500)
	if err := m.Add(original); err != nil {
		t.Fatalf("add: %v", err)
	}

	archives, err := m.Archives()
	if err != nil {
		t.Fatalf("archives: %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("expected one archive, got %d", len(archives))
	}

	loaded, err := LoadArchive(archives[0].Path)
	if err != nil {
		t.Fatalf("load archive: %v", err)
	}
	if len(loaded) != 40 {
		t.Fatalf("expected 40 archived situations, got %d", len(loaded))
	}
	for i, sit := range loaded {
		if sit.PotSize != original[i].PotSize || sit.Position != original[i].Position {
			t.Fatalf("situation %d did not survive the round trip: %+v vs %+v", i, sit, original[i])
		}
	}
}

func TestCleanupEnforcesQuota(t *testing.T) {
	settings := testSettings(t)
	settings.MaxDiskBytes = 1 // everything is over quota
	m := newTestManager(t, settings)

	for i := 0; i < 3; i++ {
		if err := m.Add(makeSituations(85, float64(i)*1000)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if st := m.Status(); st.ArchiveCount == 0 {
		t.Fatal("setup should have produced archives")
	}

	m.Cleanup()
	st := m.Status()
	if st.DiskBytes > settings.MaxDiskBytes {
		t.Fatalf("disk usage %d exceeds quota %d after cleanup", st.DiskBytes, settings.MaxDiskBytes)
	}
	if st.LastCleanup.IsZero() {
		t.Fatal("cleanup time not recorded")
	}
}

func TestCleanupExpiresOldArchives(t *testing.T) {
	settings := testSettings(t)
	m := newTestManager(t, settings)

	if err := m.Add(makeSituations(85, 0)); err != nil {
		t.Fatalf("add: %v", err)
	}
	archives, err := m.Archives()
	if err != nil || len(archives) != 1 {
		t.Fatalf("expected one archive, got %d (err %v)", len(archives), err)
	}

	// Age the segment past the retention window.
	old := time.Now().Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(archives[0].Path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	m.Cleanup()
	if st := m.Status(); st.ArchiveCount != 0 {
		t.Fatalf("expired archive not removed, %d remain", st.ArchiveCount)
	}
}

func TestEmergencyCleanupHalvesFootprint(t *testing.T) {
	settings := testSettings(t)
	m := newTestManager(t, settings)

	for i := 0; i < 4; i++ {
		if err := m.Add(makeSituations(85, float64(i)*1000)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	before := m.Status()
	if before.ArchiveCount < 2 {
		t.Fatalf("setup needs at least two archives, got %d", before.ArchiveCount)
	}

	m.EmergencyCleanup()
	after := m.Status()
	if after.ArchiveCount != before.ArchiveCount-before.ArchiveCount/2 {
		t.Fatalf("expected oldest half deleted: %d -> %d", before.ArchiveCount, after.ArchiveCount)
	}
	if after.InMemory > settings.MaxMemoryItems/2 {
		t.Fatalf("memory not halved: %d", after.InMemory)
	}
}

func TestManifestMatchesArchives(t *testing.T) {
	settings := testSettings(t)
	m := newTestManager(t, settings)

	if err := m.Add(makeSituations(85, 0)); err != nil {
		t.Fatalf("add: %v", err)
	}
	mf := m.Manifest()
	st := m.Status()
	if len(mf.Archives) != st.ArchiveCount {
		t.Fatalf("manifest lists %d archives, status says %d", len(mf.Archives), st.ArchiveCount)
	}
	if mf.TotalBytes != st.DiskBytes {
		t.Fatalf("manifest bytes %d != status bytes %d", mf.TotalBytes, st.DiskBytes)
	}
}

func TestRecentReturnsNewest(t *testing.T) {
	settings := testSettings(t)
	m := newTestManager(t, settings)

	if err := m.Add(makeSituations(10, 0)); err != nil {
		t.Fatalf("add: %v", err)
	}
	recent := m.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3, got %d", len(recent))
	}
	if recent[2].PotSize != 9 {
		t.Fatalf("expected newest situation last, got pot %v", recent[2].PotSize)
	}
	if got := m.Recent(100); len(got) != 10 {
		t.Fatalf("oversized request should clamp, got %d", len(got))
	}
}

func TestCleanupLoopRuns(t *testing.T) {
	settings := testSettings(t)
	settings.CleanupInterval = 10 * time.Millisecond
	m := newTestManager(t, settings)

	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Status().LastCleanup.IsZero() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cleanup loop never ran")
}
