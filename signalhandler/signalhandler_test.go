package signalhandler_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbackup/devbackup/signalhandler"
)

type fakeLocker struct {
	released bool
}

func (f *fakeLocker) Release() error {
	f.released = true
	return nil
}

func TestCleanupRemovesInProgressDirAndReleasesLock(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "in_progress_x")
	require.NoError(t, os.MkdirAll(staging, 0o750))

	locker := &fakeLocker{}
	h := signalhandler.New()
	h.Register(staging, locker)
	defer h.Unregister()

	h.Cleanup(context.Background())

	_, err := os.Stat(staging)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, locker.released)
}

func TestCleanupToleratesNoInProgressPath(t *testing.T) {
	locker := &fakeLocker{}
	h := signalhandler.New()
	h.Register("", locker)
	defer h.Unregister()

	h.Cleanup(context.Background())
	assert.True(t, locker.released)
}

func TestSetInProgressUpdatesCleanupTarget(t *testing.T) {
	first := filepath.Join(t.TempDir(), "in_progress_first")
	second := filepath.Join(t.TempDir(), "in_progress_second")
	require.NoError(t, os.MkdirAll(first, 0o750))
	require.NoError(t, os.MkdirAll(second, 0o750))

	h := signalhandler.New()
	h.Register(first, &fakeLocker{})
	defer h.Unregister()
	h.SetInProgress(second)

	h.Cleanup(context.Background())

	_, errFirst := os.Stat(first)
	assert.NoError(t, errFirst, "first staging dir was superseded and should remain")
	_, errSecond := os.Stat(second)
	assert.True(t, os.IsNotExist(errSecond))
}

func TestRegisterMarksMainSafe(t *testing.T) {
	h := signalhandler.New()
	assert.False(t, h.IsMainRegistered())
	h.Register("", &fakeLocker{})
	defer h.Unregister()
	assert.True(t, h.IsMainRegistered())
}
