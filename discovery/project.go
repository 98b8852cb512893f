// Package discovery implements Auto-Discovery (spec §4.5): finding developer
// projects worth backing up, and candidate backup destinations.
package discovery

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/devbackup/devbackup/space"
)

// ProjectType is the developer-project classification assigned by the first
// matching marker set in projectTypes (spec §4.5, §3).
type ProjectType string

// The set of project types Auto-Discovery can classify (spec §3).
const (
	ProjectTypePython  ProjectType = "python"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypeRust    ProjectType = "rust"
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeXcode   ProjectType = "xcode"
	ProjectTypeGeneric ProjectType = "generic"
)

// typeMarkers is one project type's marker set: exact filenames, or, for
// bundle-style markers like Xcode's, name suffixes.
type typeMarkers struct {
	projectType ProjectType
	names       []string
	suffixes    []string
}

// projectTypes is checked in order; the first type with any marker present
// in a directory wins (spec §4.5: "first match wins").
var projectTypes = []typeMarkers{
	{projectType: ProjectTypePython, names: []string{"pyproject.toml", "setup.py", "requirements.txt", "Pipfile"}},
	{projectType: ProjectTypeNode, names: []string{"package.json"}},
	{projectType: ProjectTypeRust, names: []string{"Cargo.toml"}},
	{projectType: ProjectTypeGo, names: []string{"go.mod"}},
	{projectType: ProjectTypeXcode, suffixes: []string{".xcodeproj", ".xcworkspace"}},
	{projectType: ProjectTypeGeneric, names: []string{".git"}},
}

// DefaultMaxDepth bounds how many directories deep DiscoverProjects descends
// from its root before giving up on an unmarked subtree.
const DefaultMaxDepth = 6

// Project is one discovered developer project.
type Project struct {
	Path          string
	Name          string
	ProjectType   ProjectType
	Markers       []string
	EstimatedSize int64
}

// cachedSize memoizes a size estimate against the mtime it was computed for,
// so repeated discovery runs on the same Discoverer don't re-walk an
// unchanged project tree (spec §4.5 supplement).
type cachedSize struct {
	size    int64
	modTime time.Time
}

// Discoverer runs project and destination discovery, memoizing per-project
// size estimates across calls.
type Discoverer struct {
	sizes sync.Map // path -> cachedSize
}

// New creates a Discoverer.
func New() *Discoverer {
	return &Discoverer{}
}

// DiscoverProjects walks root to depth maxDepth looking for marker files,
// skipping excluded directory names. It never follows symlinks and tracks
// visited inodes to terminate on cycles (spec §4.5).
func (d *Discoverer) DiscoverProjects(root string, excludes []string, maxDepth int) ([]Project, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	visited := map[[2]uint64]struct{}{}
	var projects []Project

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		lst, err := os.Lstat(dir)
		if err != nil || lst.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if ino, ok := inode(lst); ok {
			if _, seen := visited[ino]; seen {
				return nil
			}
			visited[ino] = struct{}{}
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}

		if markers, ptype, ok := classifyProject(entries); ok {
			projects = append(projects, Project{
				Path:          dir,
				Name:          filepath.Base(dir),
				ProjectType:   ptype,
				Markers:       markers,
				EstimatedSize: d.estimateSize(dir, excludes),
			})
			return nil // a project root's contents are backed up as a unit, not recursed into
		}

		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if space.MatchExclude(e.Name(), true, excludes) {
				continue
			}
			if err := walk(filepath.Join(dir, e.Name()), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, 0); err != nil {
		return nil, err
	}
	return projects, nil
}

// estimateSize returns a memoized EstimateBackupSize for path, recomputing
// only when the directory's mtime has changed since the cached value.
func (d *Discoverer) estimateSize(path string, excludes []string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if cached, ok := d.sizes.Load(path); ok {
		c := cached.(cachedSize) //nolint:errcheck,forcetypeassert // only this type is ever stored
		if c.modTime.Equal(info.ModTime()) {
			return c.size
		}
	}
	size, err := space.EstimateBackupSize([]string{path}, excludes)
	if err != nil {
		return 0
	}
	d.sizes.Store(path, cachedSize{size: size, modTime: info.ModTime()})
	return size
}

// DedupeAgainstWorkspaces drops any discovered project that falls inside one
// of the user's explicit workspace_path entries, since that whole tree is
// already covered as a single source rather than per-project (spec §4.5
// supplement: "workspace_path takes precedence over discovery").
func DedupeAgainstWorkspaces(projects []Project, workspacePaths []string) []Project {
	if len(workspacePaths) == 0 {
		return projects
	}
	var out []Project
	for _, p := range projects {
		covered := false
		for _, ws := range workspacePaths {
			if p.Path == ws || within(ws, p.Path) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}

// within reports whether child is ws itself or nested under it.
func within(ws, child string) bool {
	rel, err := filepath.Rel(ws, child)
	return err == nil && rel != ".." && !filepathHasDotDotPrefix(rel)
}

func filepathHasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

// classifyProject checks entries against projectTypes in priority order,
// returning the matched marker names and the type of the first set that has
// any marker present (spec §4.5).
func classifyProject(entries []os.DirEntry) ([]string, ProjectType, bool) {
	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		names[e.Name()] = struct{}{}
	}

	for _, tm := range projectTypes {
		var matched []string
		for _, n := range tm.names {
			if _, ok := names[n]; ok {
				matched = append(matched, n)
			}
		}
		for name := range names {
			for _, suffix := range tm.suffixes {
				if strings.HasSuffix(name, suffix) {
					matched = append(matched, name)
				}
			}
		}
		if len(matched) > 0 {
			return matched, tm.projectType, true
		}
	}
	return nil, "", false
}

func inode(info os.FileInfo) ([2]uint64, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return [2]uint64{}, false
	}
	return [2]uint64{uint64(st.Dev), st.Ino}, true //nolint:unconvert // Dev is not uint64 on every platform
}
