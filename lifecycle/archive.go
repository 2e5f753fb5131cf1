package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/solverlab/rtcfr/solver"
)

const archiveSuffix = ".jsonl.gz"

// ArchiveInfo describes one cold segment on disk.
type ArchiveInfo struct {
	Path      string
	SizeBytes int64
	CreatedAt time.Time
	Count     int // situations in the segment, -1 when unknown
}

// writeArchive persists situations as a gzip JSON segment via temp file
// and rename.
func writeArchive(dir string, level int, sits []solver.Situation, now time.Time) (ArchiveInfo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ArchiveInfo{}, fmt.Errorf("create archive dir: %w", err)
	}

	name := fmt.Sprintf("situations_%d%s", now.UnixNano(), archiveSuffix)
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("create archive temp: %w", err)
	}

	zw, err := gzip.NewWriterLevel(tmp, level)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return ArchiveInfo{}, fmt.Errorf("gzip level: %w", err)
	}
	enc := json.NewEncoder(zw)
	for i := range sits {
		if err := enc.Encode(&sits[i]); err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(tmp.Name())
			return ArchiveInfo{}, fmt.Errorf("encode archive: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return ArchiveInfo{}, fmt.Errorf("compress archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return ArchiveInfo{}, fmt.Errorf("close archive temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return ArchiveInfo{}, fmt.Errorf("persist archive: %w", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return ArchiveInfo{}, err
	}
	return ArchiveInfo{Path: path, SizeBytes: st.Size(), CreatedAt: now, Count: len(sits)}, nil
}

// LoadArchive reads a segment back so archived situations can re-enter
// training batches.
func LoadArchive(path string) ([]solver.Situation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", filepath.Base(path), err)
	}
	defer zr.Close()

	var out []solver.Situation
	dec := json.NewDecoder(zr)
	for dec.More() {
		var sit solver.Situation
		if err := dec.Decode(&sit); err != nil {
			return nil, fmt.Errorf("decode archive %s: %w", filepath.Base(path), err)
		}
		out = append(out, sit)
	}
	return out, nil
}

// listArchives enumerates segments oldest first.
func listArchives(dir string) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	infos := make([]ArchiveInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, ArchiveInfo{
			Path:      filepath.Join(dir, e.Name()),
			SizeBytes: fi.Size(),
			CreatedAt: fi.ModTime(),
			Count:     -1,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos, nil
}

func totalArchiveBytes(infos []ArchiveInfo) int64 {
	var total int64
	for _, in := range infos {
		total += in.SizeBytes
	}
	return total
}
