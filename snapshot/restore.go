package snapshot

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/devbackup/devbackup/utils"
)

// Restore copies relPath out of the named snapshot to destDir (or, if empty,
// the default recovery folder), returning the final on-disk path. If relPath
// names a directory, its whole subtree is recreated under destDir rather than
// copying a single file (spec §4.4.5: "directory restores recreate the tree").
//
// relPath is validated to stay within the snapshot: any input that resolves
// outside it (via "..", a symlink, or an absolute path) is refused rather
// than silently clamped, per spec §4.4.7's path-safety invariant.
func (e *Engine) Restore(ctx context.Context, snapshotName, relPath, destDir string) (string, error) {
	snap, err := e.Lookup(ctx, snapshotName)
	if err != nil {
		return "", &SnapshotError{Op: "restore", Name: snapshotName, Reason: err}
	}

	srcPath, err := safeJoin(snap.Path, relPath)
	if err != nil {
		return "", &SnapshotError{Op: "restore", Name: snapshotName, Reason: err}
	}
	info, err := os.Lstat(srcPath)
	if err != nil {
		return "", &SnapshotError{Op: "restore", Name: snapshotName, Reason: fmt.Errorf("%s: %w", relPath, err)}
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", &SnapshotError{Op: "restore", Name: snapshotName, Reason: fmt.Errorf("%s: not a regular file or directory", relPath)}
	}

	if destDir == "" {
		destDir, err = defaultRecoveryDir()
		if err != nil {
			return "", &SnapshotError{Op: "restore", Name: snapshotName, Reason: err}
		}
	}
	if err := utils.EnsureDirs(destDir); err != nil {
		return "", &SnapshotError{Op: "restore", Name: snapshotName, Reason: err}
	}

	destPath := uniqueFilePath(destDir, filepath.Base(relPath))
	if info.IsDir() {
		if err := restoreTree(ctx, srcPath, destPath); err != nil {
			return "", &SnapshotError{Op: "restore", Name: snapshotName, Reason: err}
		}
		return destPath, nil
	}
	if !info.Mode().IsRegular() {
		return "", &SnapshotError{Op: "restore", Name: snapshotName, Reason: fmt.Errorf("%s: not a regular file or directory", relPath)}
	}
	if err := copyFile(srcPath, destPath, info); err != nil {
		return "", &SnapshotError{Op: "restore", Name: snapshotName, Reason: err}
	}
	return destPath, nil
}

// restoreTree walks srcDir and recreates its structure under destDir, copying
// every regular file it contains (spec §4.4.5).
func restoreTree(ctx context.Context, srcDir, destDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)
		if d.IsDir() {
			return utils.EnsureDirs(target)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
			return nil
		}
		if err := utils.EnsureDirs(filepath.Dir(target)); err != nil {
			return err
		}
		return copyFile(path, target, info)
	})
}

// safeJoin joins base and rel, refusing any result that escapes base.
func safeJoin(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative: %s", rel)
	}
	joined := filepath.Join(base, rel)
	cleanBase := filepath.Clean(base)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes snapshot: %s", rel)
	}
	return joined, nil
}

// defaultRecoveryDir is spec §4.4.7's default restore destination.
func defaultRecoveryDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, "Desktop", "Recovered Files"), nil
}

// uniqueFilePath appends "_1", "_2", ... before the extension if name already
// exists under dir (spec §4.4.7: restore never overwrites).
func uniqueFilePath(dir, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}

func copyFile(srcPath, destPath string, info os.FileInfo) error {
	src, err := os.Open(srcPath) //nolint:gosec // validated via safeJoin
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer dst.Close() //nolint:errcheck

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Sync()
}
