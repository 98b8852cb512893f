package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devbackup/devbackup/utils"
)

// List returns every committed snapshot under the destination, oldest first.
// in_progress_* staging directories are never included (spec §4.4.4).
func (e *Engine) List(_ context.Context) ([]Info, error) {
	if _, err := os.Stat(e.destination); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &SnapshotError{Op: "list", Reason: err}
	}

	var infos []Info
	for _, name := range utils.ScanSubdirs(e.destination) {
		if strings.HasPrefix(name, inProgressPrefix) {
			continue
		}
		ts, err := parseName(strippedCollisionSuffix(name))
		if err != nil {
			continue // not a snapshot directory
		}
		path := filepath.Join(e.destination, name)
		manifest, err := loadManifest(path)
		if err != nil {
			continue
		}
		var total int64
		for _, fe := range manifest {
			total += fe.Size
		}
		infos = append(infos, Info{Name: name, Path: path, CreatedAt: ts, FileCount: len(manifest), TotalSize: total})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Lookup resolves a single committed snapshot by name.
func (e *Engine) Lookup(ctx context.Context, name string) (*Info, error) {
	infos, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].Name == name {
			return &infos[i], nil
		}
	}
	return nil, &SnapshotError{Op: "lookup", Name: name, Reason: fmt.Errorf("not found")}
}

// latest returns the most recently committed snapshot, or nil if none exist.
func (e *Engine) latest(ctx context.Context) (*Info, error) {
	infos, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return &infos[len(infos)-1], nil
}

// strippedCollisionSuffix removes a trailing "_N" collision suffix (added by
// uniqueName) so the remaining prefix can be parsed as a timestamp.
func strippedCollisionSuffix(name string) string {
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return name
	}
	if _, err := parseName(name[:idx]); err == nil {
		return name[:idx]
	}
	return name
}

// loadManifest reads and parses the manifest file inside a committed snapshot directory.
func loadManifest(snapshotPath string) (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(snapshotPath, manifestName)) //nolint:gosec // internal metadata
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return manifest, nil
}

// loadManifestIndex loads a snapshot's manifest keyed by file path for O(1) lookups.
func loadManifestIndex(snapshotPath string) (map[string]*FileEntry, error) {
	manifest, err := loadManifest(snapshotPath)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*FileEntry, len(manifest))
	for i := range manifest {
		index[manifest[i].Path] = &manifest[i]
	}
	return index, nil
}
