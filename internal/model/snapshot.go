package model

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SnapshotVersion is bumped whenever the serialized model state changes shape.
const SnapshotVersion = 1

const (
	snapshotPrefix = "model-"
	snapshotSuffix = ".gob"
)

// snapshotFile is the on-disk layout: a small header followed by the three
// model states. The file itself is an opaque blob to everything but this
// package; consumers only rely on names sorting by creation time.
type snapshotFile struct {
	Version   int
	CreatedAt time.Time
	Regressor *PARegressor
	Outlier   *HalfSpaceTrees
	Drift     *ADWIN
}

// Save serializes the bundle into a new timestamped snapshot under dir and
// returns its path. An existing file is never overwritten; a same-second
// collision fails and the caller retries on the next cycle.
func Save(dir string, b *Bundle) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create models dir: %w", err)
	}

	now := time.Now().UTC()
	name := snapshotPrefix + now.Format("20060102150405") + snapshotSuffix
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot %s: %w", name, err)
	}
	defer f.Close()

	snap := snapshotFile{
		Version:   SnapshotVersion,
		CreatedAt: now,
		Regressor: b.Regressor,
		Outlier:   b.Outlier,
		Drift:     b.Drift,
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return path, nil
}

// LoadLatest restores the bundle from the lexicographically greatest snapshot
// in dir. Returns (nil, false) when the directory is absent, holds no
// snapshots, or the newest one cannot be decoded; the caller falls back to a
// fresh bundle.
func LoadLatest(dir string) (*Bundle, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, snapshotPrefix) && strings.HasSuffix(name, snapshotSuffix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, false
	}
	sort.Strings(names)
	path := filepath.Join(dir, names[len(names)-1])

	f, err := os.Open(path)
	if err != nil {
		log.Printf("Model: failed to open snapshot %s: %v", path, err)
		return nil, false
	}
	defer f.Close()

	var snap snapshotFile
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		log.Printf("Model: failed to decode snapshot %s: %v", path, err)
		return nil, false
	}
	if snap.Version != SnapshotVersion {
		log.Printf("Model: snapshot %s has unsupported version %d", path, snap.Version)
		return nil, false
	}
	if snap.Regressor == nil || snap.Outlier == nil || snap.Drift == nil {
		log.Printf("Model: snapshot %s is incomplete", path)
		return nil, false
	}

	return &Bundle{Regressor: snap.Regressor, Outlier: snap.Outlier, Drift: snap.Drift}, true
}
