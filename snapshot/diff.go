package snapshot

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devbackup/devbackup/space"
)

// DiffResult is the set of changes between a snapshot and the live source tree.
type DiffResult struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Diff compares the named snapshot's manifest against the live source tree
// (spec §4.4.3): Added is present live but absent from the snapshot, Removed
// is present in the snapshot but absent live, Modified is present in both but
// differs in size or mtime. Excludes apply to the live side. subPath, if
// non-empty, scopes the comparison to that relative path under each source.
func (e *Engine) Diff(ctx context.Context, name, subPath string) (*DiffResult, error) {
	snap, err := e.Lookup(ctx, name)
	if err != nil {
		return nil, &SnapshotError{Op: "diff", Name: name, Reason: err}
	}
	snapIndex, err := loadManifestIndex(snap.Path)
	if err != nil {
		return nil, &SnapshotError{Op: "diff", Name: name, Reason: err}
	}
	liveIndex, err := e.walkLive(ctx)
	if err != nil {
		return nil, &SnapshotError{Op: "diff", Name: name, Reason: err}
	}

	prefixes := e.subPathPrefixes(subPath)
	result := &DiffResult{}
	for path, live := range liveIndex {
		if !matchesPrefixes(path, prefixes) {
			continue
		}
		entry, existed := snapIndex[path]
		switch {
		case !existed:
			result.Added = append(result.Added, path)
		case entry.Size != live.Size || !entry.ModTime.Equal(live.ModTime):
			result.Modified = append(result.Modified, path)
		}
	}
	for path := range snapIndex {
		if !matchesPrefixes(path, prefixes) {
			continue
		}
		if _, stillLive := liveIndex[path]; !stillLive {
			result.Removed = append(result.Removed, path)
		}
	}

	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Modified)
	return result, nil
}

// walkLive walks every source tree live, applying excludes the same way
// populate does, and returns a path->FileEntry index keyed exactly as the
// manifest is (so the two are directly comparable).
func (e *Engine) walkLive(ctx context.Context) (map[string]FileEntry, error) {
	index := make(map[string]FileEntry)
	for _, src := range e.sources {
		srcAbs, err := filepath.Abs(src)
		if err != nil {
			return nil, fmt.Errorf("resolve source %s: %w", src, err)
		}

		err = filepath.WalkDir(srcAbs, func(path string, d fs.DirEntry, walkErr error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if walkErr != nil {
				return nil //nolint:nilerr // unreadable entries are skipped, not fatal
			}
			if path == srcAbs {
				return nil
			}
			if space.MatchExclude(d.Name(), d.IsDir(), e.excludes) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil //nolint:nilerr
			}
			if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
				return nil
			}

			rel := strings.TrimPrefix(filepath.ToSlash(path), "/")
			index[rel] = FileEntry{Path: rel, Size: info.Size(), ModTime: info.ModTime()}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", srcAbs, err)
		}
	}
	return index, nil
}

// subPathPrefixes resolves subPath against every source into the absolute,
// slash-form prefixes diff entries must fall under. An empty subPath matches
// everything.
func (e *Engine) subPathPrefixes(subPath string) []string {
	if subPath == "" {
		return nil
	}
	var prefixes []string
	for _, src := range e.sources {
		srcAbs, err := filepath.Abs(src)
		if err != nil {
			continue
		}
		full := filepath.Join(srcAbs, filepath.FromSlash(subPath))
		prefixes = append(prefixes, strings.TrimPrefix(filepath.ToSlash(full), "/"))
	}
	return prefixes
}

func matchesPrefixes(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
