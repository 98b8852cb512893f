package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbackup/devbackup/progress"
	"github.com/devbackup/devbackup/snapshot"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCreateFirstSnapshotHasNoPrior(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "hello")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	info, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)
	assert.Equal(t, 1, info.FileCount)
	assert.EqualValues(t, len("hello"), info.TotalSize)
}

func TestCreateSecondSnapshotHardlinksUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "hello")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	first, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	second, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)
	assert.NotEqual(t, first.Name, second.Name)

	infos, err := e.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)

	results, err := e.Search(context.Background(), "a.txt", "")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var firstPath, secondPath string
	for _, r := range results {
		switch r.Snapshot {
		case first.Name:
			firstPath = filepath.Join(first.Path, filepath.FromSlash(r.Path))
		case second.Name:
			secondPath = filepath.Join(second.Path, filepath.FromSlash(r.Path))
		}
	}
	require.NotEmpty(t, firstPath)
	require.NotEmpty(t, secondPath)

	fi1, err := os.Stat(firstPath)
	require.NoError(t, err)
	fi2, err := os.Stat(secondPath)
	require.NoError(t, err)
	assert.True(t, os.SameFile(fi1, fi2), "unchanged file should be hard-linked across snapshots")
}

func TestCreateRecopiesChangedFiles(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	target := filepath.Join(src, "a.txt")
	writeFile(t, target, "version one")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	first, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	// mtime must change for the engine to treat the file as modified.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(target, []byte("version two, longer"), 0o600))
	require.NoError(t, os.Chtimes(target, future, future))

	second, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	diff, err := e.Diff(context.Background(), first.Name, "")
	require.NoError(t, err)
	assert.NotEmpty(t, diff.Modified)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

func TestDiffDetectsAddedAndRemoved(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "keep.txt"), "stays")
	writeFile(t, filepath.Join(src, "gone.txt"), "removed later")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	first, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(src, "gone.txt")))
	writeFile(t, filepath.Join(src, "new.txt"), "added later")

	_, err = e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	diff, err := e.Diff(context.Background(), first.Name, "")
	require.NoError(t, err)
	assert.Len(t, diff.Added, 1)
	assert.Len(t, diff.Removed, 1)
}

func TestVerifyDetectsTamperedFile(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "original content")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	info, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	result, err := e.Verify(context.Background(), info.Name, "")
	require.NoError(t, err)
	assert.True(t, result.OK())

	results, err := e.Search(context.Background(), "a.txt", "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	onDisk := filepath.Join(info.Path, filepath.FromSlash(results[0].Path))
	require.NoError(t, os.WriteFile(onDisk, []byte("tampered!!"), 0o600))

	result, err = e.Verify(context.Background(), info.Name, "")
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.NotEmpty(t, result.Mismatch)
}

func TestRestoreRefusesPathEscape(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "data")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	info, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	_, err = e.Restore(context.Background(), info.Name, "../../etc/passwd", t.TempDir())
	require.Error(t, err)
}

func TestRestoreCopiesToDestDir(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "restore me")
	dest := filepath.Join(root, "dest")
	recovered := filepath.Join(root, "recovered")

	e := snapshot.New(dest, []string{src}, nil)
	info, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "a.txt", "")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	restoredPath, err := e.Restore(context.Background(), info.Name, results[0].Path, recovered)
	require.NoError(t, err)
	content, err := os.ReadFile(restoredPath) //nolint:gosec
	require.NoError(t, err)
	assert.Equal(t, "restore me", string(content))
}

func TestDiffSubPathScopesComparison(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "included", "a.txt"), "stays")
	writeFile(t, filepath.Join(src, "other", "b.txt"), "stays too")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	first, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	writeFile(t, filepath.Join(src, "included", "new.txt"), "added later")
	writeFile(t, filepath.Join(src, "other", "new.txt"), "also added later")

	diff, err := e.Diff(context.Background(), first.Name, "included")
	require.NoError(t, err)
	assert.Len(t, diff.Added, 1)
	assert.Contains(t, diff.Added[0], "included/new.txt")
}

func TestRestoreRecreatesDirectoryTree(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "sub", "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "sub", "nested", "b.txt"), "beta")
	dest := filepath.Join(root, "dest")
	recovered := filepath.Join(root, "recovered")

	e := snapshot.New(dest, []string{src}, nil)
	info, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "a.txt", "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	subDir := filepath.Dir(results[0].Path)

	restoredTo, err := e.Restore(context.Background(), info.Name, subDir, recovered)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(restoredTo, "a.txt")) //nolint:gosec
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(content))

	content, err = os.ReadFile(filepath.Join(restoredTo, "nested", "b.txt")) //nolint:gosec
	require.NoError(t, err)
	assert.Equal(t, "beta", string(content))
}

func TestListSkipsStagingDirectories(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "x")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	_, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dest, "in_progress_leftover"), 0o750))

	infos, err := e.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
}

func TestVerifyPatternRestrictsCheckedEntries(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "b.log"), "beta")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	info, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	result, err := e.Verify(context.Background(), info.Name, "*.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.True(t, result.OK())
}

func TestVerifyReportsUnreadableEntryAsError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("test cannot run as root (chmod restrictions bypassed)")
	}
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "alpha")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	info, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "a.txt", "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	onDisk := filepath.Join(info.Path, filepath.FromSlash(results[0].Path))
	require.NoError(t, os.Chmod(onDisk, 0o000))
	defer os.Chmod(onDisk, 0o600) //nolint:errcheck

	result, err := e.Verify(context.Background(), info.Name, "")
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Empty(t, result.Missing)
	assert.NotEmpty(t, result.Errors)
}

func TestSearchScopesToOneSnapshot(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "v1")
	dest := filepath.Join(root, "dest")

	e := snapshot.New(dest, []string{src}, nil)
	first, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	writeFile(t, filepath.Join(src, "a.txt"), "v2 longer")
	_, err = e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "a.txt", first.Name)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, first.Name, results[0].Snapshot)
}
