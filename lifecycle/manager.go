// Package lifecycle bounds the memory and disk footprint of the
// training corpus: a ring of recent situations in memory, gzip segments
// on disk, and a periodic cleanup that enforces retention and quota.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/solverlab/rtcfr/solver"
)

// StorageSettings tunes the lifecycle manager.
type StorageSettings struct {
	Dir              string
	MaxMemoryItems   int
	MaxDiskBytes     int64
	CompressionLevel int
	RetentionWindow  time.Duration
	CleanupInterval  time.Duration
}

// DefaultStorageSettings keeps a week of archives under a 500MB quota.
func DefaultStorageSettings(dir string) StorageSettings {
	return StorageSettings{
		Dir:              dir,
		MaxMemoryItems:   100000,
		MaxDiskBytes:     500 << 20,
		CompressionLevel: 6,
		RetentionWindow:  7 * 24 * time.Hour,
		CleanupInterval:  180 * time.Second,
	}
}

// Validate rejects settings the manager cannot operate with.
func (s StorageSettings) Validate() error {
	if s.Dir == "" {
		return errors.New("storage dir required")
	}
	if s.MaxMemoryItems <= 0 {
		return errors.New("max memory items must be positive")
	}
	if s.MaxDiskBytes <= 0 {
		return errors.New("max disk bytes must be positive")
	}
	if s.CompressionLevel < 1 || s.CompressionLevel > 9 {
		return errors.New("compression level must be in [1,9]")
	}
	if s.RetentionWindow <= 0 {
		return errors.New("retention window must be positive")
	}
	if s.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	return nil
}

// StorageStatus is a point-in-time view of the managed footprint.
type StorageStatus struct {
	InMemory     int
	Archived     int64
	ArchiveCount int
	DiskBytes    int64
	LastCleanup  time.Time
}

// Manager owns the situation corpus. Add is the hot path; the cleanup
// loop and emergency path keep both bounds honest.
type Manager struct {
	settings StorageSettings
	clock    quartz.Clock
	logger   zerolog.Logger

	mu          sync.Mutex
	buf         []solver.Situation
	archived    int64
	lastCleanup time.Time
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewManager wires the lifecycle manager; clock may be nil for the real
// clock.
func NewManager(settings StorageSettings, clock quartz.Clock, logger zerolog.Logger) (*Manager, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("storage settings: %w", err)
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	if err := os.MkdirAll(settings.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Manager{
		settings: settings,
		clock:    clock,
		logger:   logger.With().Str("component", "lifecycle").Logger(),
		buf:      make([]solver.Situation, 0, settings.MaxMemoryItems),
	}, nil
}

// Start launches the periodic cleanup loop. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.cleanupLoop(stopCh)
}

// Stop halts the cleanup loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}

// Add appends situations to the hot buffer, archiving the oldest half
// when occupancy crosses 80%. A full disk triggers emergency cleanup
// before the write is accepted rather than rejecting it.
func (m *Manager) Add(batch []solver.Situation) error {
	if len(batch) == 0 {
		return nil
	}

	if over, err := m.overQuota(); err == nil && over {
		m.EmergencyCleanup()
	}

	m.mu.Lock()
	m.buf = append(m.buf, batch...)
	needArchive := len(m.buf) >= m.settings.MaxMemoryItems*8/10
	m.mu.Unlock()

	if needArchive {
		if err := m.archiveOldest(); err != nil {
			m.logger.Error().Err(err).Msg("archiving failed")
			m.trimMemoryToCap()
		}
	} else {
		m.trimMemoryToCap()
	}
	return nil
}

// Recent copies up to n of the newest buffered situations, newest last.
func (m *Manager) Recent(n int) []solver.Situation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.buf) {
		n = len(m.buf)
	}
	out := make([]solver.Situation, n)
	copy(out, m.buf[len(m.buf)-n:])
	return out
}

// archiveOldest moves the oldest half of the buffer into a gzip segment.
func (m *Manager) archiveOldest() error {
	m.mu.Lock()
	n := len(m.buf) / 2
	if n == 0 {
		m.mu.Unlock()
		return nil
	}
	oldest := make([]solver.Situation, n)
	copy(oldest, m.buf[:n])
	m.buf = append(m.buf[:0], m.buf[n:]...)
	m.mu.Unlock()

	info, err := writeArchive(m.settings.Dir, m.settings.CompressionLevel, oldest, m.clock.Now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.archived += int64(n)
	m.mu.Unlock()
	m.logger.Info().Int("count", n).Int64("bytes", info.SizeBytes).Msg("archived oldest situations")
	return nil
}

// trimMemoryToCap drops oldest entries when the hard cap is exceeded,
// e.g. after an archive failure.
func (m *Manager) trimMemoryToCap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if excess := len(m.buf) - m.settings.MaxMemoryItems; excess > 0 {
		m.buf = append(m.buf[:0], m.buf[excess:]...)
	}
}

func (m *Manager) overQuota() (bool, error) {
	infos, err := listArchives(m.settings.Dir)
	if err != nil {
		return false, err
	}
	return totalArchiveBytes(infos) >= m.settings.MaxDiskBytes, nil
}

// EmergencyCleanup deletes the oldest half of the archives and halves
// the memory buffer. Invoked when the disk quota is exhausted at write
// time; cheap enough to run opportunistically.
func (m *Manager) EmergencyCleanup() {
	infos, err := listArchives(m.settings.Dir)
	if err != nil {
		m.logger.Error().Err(err).Msg("emergency cleanup could not list archives")
		return
	}
	for _, info := range infos[:len(infos)/2] {
		if err := os.Remove(info.Path); err != nil {
			m.logger.Error().Err(err).Str("archive", info.Path).Msg("delete failed")
			continue
		}
		m.logger.Warn().Str("archive", info.Path).Msg("emergency deleted archive")
	}

	m.mu.Lock()
	if target := m.settings.MaxMemoryItems / 2; len(m.buf) > target {
		m.buf = append(m.buf[:0], m.buf[len(m.buf)-target:]...)
	}
	m.mu.Unlock()
}

func (m *Manager) cleanupLoop(stopCh chan struct{}) {
	defer m.wg.Done()
	for {
		fired := make(chan struct{})
		timer := m.clock.AfterFunc(m.settings.CleanupInterval, func() { close(fired) })
		select {
		case <-fired:
			m.Cleanup()
		case <-stopCh:
			timer.Stop()
			return
		}
	}
}

// Cleanup enforces retention and the disk quota, and archives eagerly
// when the buffer is nearly full. Runs on the cleanup cadence but is
// safe to invoke directly.
func (m *Manager) Cleanup() {
	now := m.clock.Now()

	infos, err := listArchives(m.settings.Dir)
	if err != nil {
		m.logger.Error().Err(err).Msg("cleanup could not list archives")
		return
	}

	// Retention window first, then LRU-by-creation until under quota.
	cutoff := now.Add(-m.settings.RetentionWindow)
	kept := infos[:0]
	for _, info := range infos {
		if info.CreatedAt.Before(cutoff) {
			if err := os.Remove(info.Path); err != nil {
				m.logger.Error().Err(err).Str("archive", info.Path).Msg("retention delete failed")
				kept = append(kept, info)
				continue
			}
			m.logger.Info().Str("archive", info.Path).Msg("expired archive removed")
			continue
		}
		kept = append(kept, info)
	}

	total := totalArchiveBytes(kept)
	for len(kept) > 0 && total > m.settings.MaxDiskBytes {
		victim := kept[0]
		if err := os.Remove(victim.Path); err != nil {
			m.logger.Error().Err(err).Str("archive", victim.Path).Msg("quota delete failed")
			break
		}
		m.logger.Info().Str("archive", victim.Path).Msg("quota evicted archive")
		total -= victim.SizeBytes
		kept = kept[1:]
	}

	m.mu.Lock()
	needArchive := len(m.buf) >= m.settings.MaxMemoryItems*9/10
	m.lastCleanup = now
	m.mu.Unlock()

	if needArchive {
		if err := m.archiveOldest(); err != nil {
			m.logger.Error().Err(err).Msg("cleanup archiving failed")
		}
	}
}

// Status reports the current footprint.
func (m *Manager) Status() StorageStatus {
	infos, err := listArchives(m.settings.Dir)
	if err != nil {
		m.logger.Error().Err(err).Msg("status could not list archives")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return StorageStatus{
		InMemory:     len(m.buf),
		Archived:     m.archived,
		ArchiveCount: len(infos),
		DiskBytes:    totalArchiveBytes(infos),
		LastCleanup:  m.lastCleanup,
	}
}

// Manifest summarizes the archive inventory for snapshot embedding.
func (m *Manager) Manifest() solver.Manifest {
	infos, err := listArchives(m.settings.Dir)
	if err != nil {
		return solver.Manifest{}
	}
	mf := solver.Manifest{Archives: make([]string, 0, len(infos))}
	for _, info := range infos {
		mf.Archives = append(mf.Archives, info.Path)
		mf.TotalBytes += info.SizeBytes
	}
	return mf
}

// Archives lists segments oldest first for batch replay.
func (m *Manager) Archives() ([]ArchiveInfo, error) {
	return listArchives(m.settings.Dir)
}
