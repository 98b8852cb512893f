// Package space implements the Space Validator (spec §4.3): pre-flight
// estimation of a backup's working-set size against destination free space,
// before any staging directory is created.
package space

import (
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultBuffer and DefaultMinFree match spec §4.3's defaults.
const (
	DefaultBuffer  = 0.1
	DefaultMinFree = 1 << 30 // 1 GiB
)

// SpaceError indicates the destination lacks room for the estimated backup
// (spec §7).
type SpaceError struct {
	Available int64
	Required  int64
}

func (e *SpaceError) Error() string {
	return fmt.Sprintf("insufficient space: need %d bytes, have %d available", e.Required, e.Available)
}

// Result is the outcome of a successful ValidateSpace call.
type Result struct {
	Available int64
	Required  int64
	// Warning is set (non-fatal) when Available is below the minimum free
	// threshold even though it covers Required.
	Warning string
}

// EstimateBackupSize walks each source without following symlinks, summing
// the size of every regular file not matched by excludes. Unreadable entries
// are skipped silently (spec §4.3).
func EstimateBackupSize(sources, excludes []string) (int64, error) {
	var total int64
	for _, src := range sources {
		err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil //nolint:nilerr // unreadable entries are silently skipped
			}
			if path == src {
				return nil
			}
			if matchExclude(d.Name(), d.IsDir(), excludes) {
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
			if info.Mode()&os.ModeSymlink != 0 {
				return nil // symlinks contribute zero (spec §4.3)
			}
			if info.Mode().IsRegular() {
				total += info.Size()
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("walk %s: %w", src, err)
		}
	}
	return total, nil
}

// MatchExclude reports whether name (a path component) matches any exclude
// pattern. Shared with the Snapshot Engine so discovery walks and backup
// walks apply exclude_patterns identically.
func MatchExclude(name string, isDir bool, excludes []string) bool {
	return matchExclude(name, isDir, excludes)
}

// matchExclude reports whether name (a path component) matches any exclude
// pattern. A trailing "/" restricts the pattern to directory names.
func matchExclude(name string, isDir bool, excludes []string) bool {
	for _, pattern := range excludes {
		dirOnly := strings.HasSuffix(pattern, "/")
		pat := strings.TrimSuffix(pattern, "/")
		if dirOnly && !isDir {
			continue
		}
		if ok, err := filepath.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidateSpace pre-flights free space at destination against the estimated
// size of sources (honoring excludes), before any staging directory exists.
func ValidateSpace(destination string, sources, excludes []string, buffer float64, minFree int64) (*Result, error) {
	estimated, err := EstimateBackupSize(sources, excludes)
	if err != nil {
		return nil, err
	}
	required := int64(math.Ceil(float64(estimated) * (1 + buffer)))

	available, _, err := FreeSpace(nearestExistingAncestor(destination))
	if err != nil {
		return nil, fmt.Errorf("query free space: %w", err)
	}

	if available < required {
		return nil, &SpaceError{Available: available, Required: required}
	}

	result := &Result{Available: available, Required: required}
	if available < minFree {
		result.Warning = fmt.Sprintf("low free space: %d bytes available (below %d byte minimum)", available, minFree)
	}
	return result, nil
}

// nearestExistingAncestor walks up from path until it finds a directory that
// exists, for statvfs-style queries against a destination that may not have
// been created yet (spec §4.3).
func nearestExistingAncestor(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

// FreeSpace returns the available and total bytes on the filesystem holding path.
func FreeSpace(path string) (available, total int64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	available = int64(st.Bavail) * int64(st.Bsize) //nolint:unconvert
	total = int64(st.Blocks) * int64(st.Bsize)      //nolint:unconvert
	return available, total, nil
}
