package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbackup/devbackup/config"
	"github.com/devbackup/devbackup/gc"
	"github.com/devbackup/devbackup/lock/flock"
	"github.com/devbackup/devbackup/progress"
	"github.com/devbackup/devbackup/snapshot"
)

// fakeLocker always grants the lock; retention tests don't exercise contention.
type fakeLocker struct{}

func (fakeLocker) Lock(context.Context) error          { return nil }
func (fakeLocker) Unlock(context.Context) error         { return nil }
func (fakeLocker) TryLock(context.Context) (bool, error) { return true, nil }

func TestRetentionResolverKeepsNewestHourly(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "dest")
	require.NoError(t, os.MkdirAll(dest, 0o750))

	names := []string{"2026-01-01-000000", "2026-01-01-010000", "2026-01-01-020000"}
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(dest, n), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dest, n, ".devbackup-manifest"), []byte("[]"), 0o600))
	}

	e := snapshot.New(dest, nil, nil)
	locker := fakeLocker{}
	module := e.GCModule(locker)

	policy := config.RetentionConfig{Hourly: 2, Daily: 0, Weekly: 0}
	orch := gc.New(snapshot.RetentionResolver(policy))
	orch.Register(module)
	require.NoError(t, orch.Run(context.Background()))

	infos, err := e.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	var kept []string
	for _, i := range infos {
		kept = append(kept, i.Name)
	}
	assert.Contains(t, kept, "2026-01-01-010000")
	assert.Contains(t, kept, "2026-01-01-020000")
	assert.NotContains(t, kept, "2026-01-01-000000")
}

func TestRetentionResolverNoTargetsWhenWithinPolicy(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "dest")
	require.NoError(t, os.MkdirAll(dest, 0o750))
	name := "2026-01-01-000000"
	require.NoError(t, os.MkdirAll(filepath.Join(dest, name), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dest, name, ".devbackup-manifest"), []byte("[]"), 0o600))

	e := snapshot.New(dest, nil, nil)
	orch := gc.New(snapshot.RetentionResolver(config.RetentionConfig{Hourly: 24, Daily: 7, Weekly: 4})) //nolint:mnd
	orch.Register(e.GCModule(fakeLocker{}))
	require.NoError(t, orch.Run(context.Background()))

	infos, err := e.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestSweepStaleStagingRemovesOldInProgressDirs(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "data")
	dest := filepath.Join(root, "dest")
	require.NoError(t, os.MkdirAll(dest, 0o750))

	stale := filepath.Join(dest, "in_progress_2000-01-01-000000")
	require.NoError(t, os.MkdirAll(stale, 0o750))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	e := snapshot.New(dest, []string{src}, nil)
	_, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr), "stale staging directory should have been swept")
}

func TestSweepStaleStagingRemovesFreshInProgressDirs(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "data")
	dest := filepath.Join(root, "dest")
	require.NoError(t, os.MkdirAll(dest, 0o750))

	// A staging directory left only seconds ago (e.g. by a signalled run)
	// must still be swept on the very next Create, with no age grace period.
	fresh := filepath.Join(dest, "in_progress_2026-01-01-000000")
	require.NoError(t, os.MkdirAll(fresh, 0o750))

	e := snapshot.New(dest, []string{src}, nil)
	_, err := e.Create(context.Background(), nil, progress.Nop)
	require.NoError(t, err)

	_, statErr := os.Stat(fresh)
	assert.True(t, os.IsNotExist(statErr), "fresh staging directory should have been swept unconditionally")
}

func TestRetentionGCRunsAgainstLiveFlockFile(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "dest")
	require.NoError(t, os.MkdirAll(dest, 0o750))
	names := []string{"2026-01-01-000000", "2026-01-01-010000"}
	for _, name := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(dest, name), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dest, name, ".devbackup-manifest"), []byte("[]"), 0o600))
	}

	e := snapshot.New(dest, nil, nil)
	locker := flock.New(filepath.Join(root, "devbackup.lock"))
	orch := gc.New(snapshot.RetentionResolver(config.RetentionConfig{Hourly: 0, Daily: 0, Weekly: 0}))
	orch.Register(e.GCModule(locker))
	require.NoError(t, orch.Run(context.Background()))

	// A {0,0,0} policy still retains the single newest snapshot (Testable
	// Property 10: "the most recent snapshot is always retained").
	infos, err := e.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "2026-01-01-010000", infos[0].Name)
}
