package space_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbackup/devbackup/space"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
}

func TestEstimateBackupSizeSumsRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 10)
	writeFile(t, filepath.Join(root, "sub", "b.txt"), 20)

	total, err := space.EstimateBackupSize([]string{root}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 30, total)
}

func TestEstimateBackupSizeHonorsExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), 10)
	writeFile(t, filepath.Join(root, "node_modules", "dep.js"), 999)

	total, err := space.EstimateBackupSize([]string{root}, []string{"node_modules/"})
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)
}

func TestEstimateBackupSizeSkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real.txt"), 50)
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")))

	total, err := space.EstimateBackupSize([]string{root}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 50, total)
}

func TestMatchExcludeDirOnlySuffix(t *testing.T) {
	assert.True(t, space.MatchExclude(".git", true, []string{".git/"}))
	assert.False(t, space.MatchExclude(".git", false, []string{".git/"}))
	assert.True(t, space.MatchExclude("foo.tmp", false, []string{"*.tmp"}))
}

func TestValidateSpaceInsufficient(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "big.bin"), 100)
	dest := filepath.Join(root, "dest")

	// A buffer this large puts the required size (about 1e18 bytes) above any
	// filesystem's free space, so available < required.
	_, err := space.ValidateSpace(dest, []string{src}, nil, 1e16, 0) //nolint:mnd
	require.Error(t, err)
	var spaceErr *space.SpaceError
	require.ErrorAs(t, err, &spaceErr)
}

func TestValidateSpaceSufficient(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "small.bin"), 100)
	dest := filepath.Join(root, "dest")

	result, err := space.ValidateSpace(dest, []string{src}, nil, space.DefaultBuffer, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Available, result.Required)
}
