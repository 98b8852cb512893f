package snapshot

import (
	"context"
	"path/filepath"
	"strings"
)

// SearchResult is one manifest hit for a search pattern.
type SearchResult struct {
	Snapshot string
	FileEntry
}

// Search looks for files matching pattern across every committed snapshot,
// newest first (spec §4.4.6). A manifest entry matches when pattern is a glob
// matching the file's base name, or when pattern occurs as a substring of the
// entry's path. When snapshotName is non-empty, the search is scoped to that
// one snapshot.
func (e *Engine) Search(ctx context.Context, pattern, snapshotName string) ([]SearchResult, error) {
	var infos []Info
	if snapshotName != "" {
		snap, err := e.Lookup(ctx, snapshotName)
		if err != nil {
			return nil, &SnapshotError{Op: "search", Name: snapshotName, Reason: err}
		}
		infos = []Info{*snap}
	} else {
		var err error
		infos, err = e.List(ctx)
		if err != nil {
			return nil, &SnapshotError{Op: "search", Reason: err}
		}
	}

	var results []SearchResult
	for i := len(infos) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}
		manifest, err := loadManifest(infos[i].Path)
		if err != nil {
			continue
		}
		for _, fe := range manifest {
			if ok, _ := filepath.Match(pattern, filepath.Base(fe.Path)); ok || strings.Contains(fe.Path, pattern) {
				results = append(results, SearchResult{Snapshot: infos[i].Name, FileEntry: fe})
			}
		}
	}
	return results, nil
}
