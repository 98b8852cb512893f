package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/devbackup/devbackup/logging"
	"github.com/devbackup/devbackup/progress"
	"github.com/devbackup/devbackup/space"
	"github.com/devbackup/devbackup/utils"
)

// inProgressTracker is the subset of signalhandler.Handler the engine needs,
// kept as a narrow interface so Create works with or without one registered.
type inProgressTracker interface {
	SetInProgress(path string)
}

// Engine is the Snapshot Engine for one backup destination (spec §4.4).
type Engine struct {
	destination string
	sources     []string
	excludes    []string
}

// New creates an Engine rooted at destination, backing up sources while
// honoring excludes (glob patterns, spec §3).
func New(destination string, sources, excludes []string) *Engine {
	return &Engine{destination: destination, sources: sources, excludes: excludes}
}

// Create produces one new snapshot: stage under in_progress_<name>, hard-link
// every file unchanged since the prior snapshot, copy (and hash) everything
// else, write the manifest, then atomically rename into place (spec §4.4.1-3).
//
// sigTracker, if non-nil, is updated with the staging path so a concurrent
// termination signal can remove it (spec §4.2); it is cleared again before
// Create returns. progressTracker, if non-nil, receives Event updates as
// files are copied; pass progress.Nop when the caller doesn't need them.
func (e *Engine) Create(ctx context.Context, sigTracker inProgressTracker, progressTracker progress.Tracker) (*Info, error) {
	logger := logging.WithFunc("snapshot.Create")
	if progressTracker == nil {
		progressTracker = progress.Nop
	}
	progressTracker.OnEvent(progress.Event{Phase: progress.PhaseValidating})

	if swept, errs := e.sweepStaleStaging(ctx); swept > 0 || len(errs) > 0 {
		logger.Infof(ctx, "swept %d leftover staging director(ies)", swept)
		if len(errs) > 0 {
			logger.Warnf(ctx, "sweep stale staging: %v", errs[0])
		}
	}

	prior, err := e.latest(ctx)
	if err != nil {
		return nil, &SnapshotError{Op: "create", Reason: err}
	}

	name := uniqueName(e.destination, time.Now().UTC().Format(nameFormat))
	staging := filepath.Join(e.destination, inProgressPrefix+name)
	final := filepath.Join(e.destination, name)

	if err := utils.EnsureDirs(staging); err != nil {
		return nil, &SnapshotError{Op: "create", Name: name, Reason: err}
	}
	if sigTracker != nil {
		sigTracker.SetInProgress(staging)
		defer sigTracker.SetInProgress("")
	}

	progressTracker.OnEvent(progress.Event{Phase: progress.PhaseScanning})
	manifest, err := e.populate(ctx, staging, prior, progressTracker)
	if err != nil {
		_ = os.RemoveAll(staging)
		return nil, &SnapshotError{Op: "create", Name: name, Reason: err}
	}

	progressTracker.OnEvent(progress.Event{Phase: progress.PhaseManifest, FilesDone: len(manifest), FilesTotal: len(manifest)})
	if err := utils.AtomicWriteJSON(filepath.Join(staging, manifestName), manifest); err != nil {
		_ = os.RemoveAll(staging)
		return nil, &SnapshotError{Op: "create", Name: name, Reason: fmt.Errorf("write manifest: %w", err)}
	}
	if err := utils.SyncParentDir(staging); err != nil {
		logger.Warnf(ctx, "sync staging dir %s: %v", staging, err)
	}

	progressTracker.OnEvent(progress.Event{Phase: progress.PhaseCommitting})
	if err := os.Rename(staging, final); err != nil {
		_ = os.RemoveAll(staging)
		return nil, &SnapshotError{Op: "create", Name: name, Reason: fmt.Errorf("commit: %w", err)}
	}
	if err := utils.SyncParentDir(e.destination); err != nil {
		logger.Warnf(ctx, "sync destination %s: %v", e.destination, err)
	}

	var total int64
	for _, fe := range manifest {
		total += fe.Size
	}
	logger.Infof(ctx, "committed snapshot %s: %d files, %d bytes", name, len(manifest), total)
	progressTracker.OnEvent(progress.Event{Phase: progress.PhaseDone, FilesDone: len(manifest), FilesTotal: len(manifest), BytesDone: total, BytesTotal: total})
	return &Info{Name: name, Path: final, CreatedAt: time.Now().UTC(), FileCount: len(manifest), TotalSize: total}, nil
}

// populate walks every source into staging, hard-linking from prior where
// the file is unchanged (same size and mtime) and copying (while hashing)
// otherwise. Unreadable source entries are skipped, matching the Space
// Validator's estimate walk (spec §4.3/§4.4).
func (e *Engine) populate(ctx context.Context, staging string, prior *Info, tracker progress.Tracker) (Manifest, error) {
	var manifest Manifest
	var priorIndex map[string]*FileEntry
	if prior != nil {
		var err error
		priorIndex, err = loadManifestIndex(prior.Path)
		if err != nil {
			return nil, fmt.Errorf("read prior manifest: %w", err)
		}
	}

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
			if info.Mode()&os.ModeSymlink != 0 {
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}

			rel := strings.TrimPrefix(filepath.ToSlash(path), "/")
			destPath := filepath.Join(staging, filepath.FromSlash(rel))
			if err := utils.EnsureDirs(filepath.Dir(destPath)); err != nil {
				return fmt.Errorf("mkdir for %s: %w", rel, err)
			}

			var priorPath string
			if prior != nil {
				priorPath = filepath.Join(prior.Path, filepath.FromSlash(rel))
			}
			entry, err := materialize(path, destPath, priorPath, rel, info, priorIndex)
			if err != nil {
				return fmt.Errorf("copy %s: %w", rel, err)
			}
			manifest = append(manifest, entry)
			tracker.OnEvent(progress.Event{Phase: progress.PhaseCopying, CurrentFile: rel, FilesDone: len(manifest), BytesDone: entry.Size})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", srcAbs, err)
		}
	}

	sort.Slice(manifest, func(i, j int) bool { return manifest[i].Path < manifest[j].Path })
	return manifest, nil
}

// materialize produces destPath in the new snapshot for one source file,
// reusing the prior snapshot's copy via a hard link when size and mtime
// match (spec §4.4.2: "unchanged files are never recopied").
func materialize(srcPath, destPath, priorPath, rel string, info fs.FileInfo, priorIndex map[string]*FileEntry) (FileEntry, error) {
	if prior, err := utils.LookupCopy(priorIndex, rel); err == nil && priorPath != "" &&
		prior.Size == info.Size() && prior.ModTime.Equal(info.ModTime()) {
		if err := os.Link(priorPath, destPath); err == nil {
			return FileEntry{Path: rel, Size: prior.Size, ModTime: prior.ModTime, SHA256: prior.SHA256}, nil
		}
		// Hard link failed (cross-device, or prior file vanished): fall through to a full copy.
	}
	return copyAndHash(srcPath, destPath, rel, info)
}

func copyAndHash(srcPath, destPath, rel string, info fs.FileInfo) (FileEntry, error) {
	src, err := os.Open(srcPath) //nolint:gosec // walked source path
	if err != nil {
		return FileEntry{}, err
	}
	defer src.Close() //nolint:errcheck

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return FileEntry{}, err
	}
	defer dst.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(dst, io.TeeReader(src, h)); err != nil {
		return FileEntry{}, err
	}
	if err := dst.Sync(); err != nil {
		return FileEntry{}, err
	}

	return FileEntry{
		Path:    rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		SHA256:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// sweepStaleStaging unconditionally removes every pre-existing in_progress_*
// directory under the destination at the start of every Create — leftovers
// from a run that was signalled or crashed before it could rename its
// staging directory into place (spec §4.4.1 step 2: "remove any pre-existing
// staging directories ...; count them and report"). The count it returns is
// logged by the caller regardless of whether any errors occurred.
func (e *Engine) sweepStaleStaging(ctx context.Context) (int, []error) {
	isStaging := func(entry os.DirEntry) bool {
		return entry.IsDir() && strings.HasPrefix(entry.Name(), inProgressPrefix)
	}

	entries, err := os.ReadDir(e.destination)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, []error{fmt.Errorf("read %s: %w", e.destination, err)}
	}
	var count int
	for _, entry := range entries {
		if isStaging(entry) {
			count++
		}
	}

	return count, utils.RemoveMatching(ctx, e.destination, isStaging)
}

// uniqueName appends a numeric suffix if base already exists under destination
// (spec §4.4: two commits in the same second collide on name).
func uniqueName(destination, base string) string {
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(destination, name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}
