package json_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonstore "github.com/devbackup/devbackup/storage/json"
)

type doc struct {
	Count int               `json:"count"`
	Tags  map[string]string `json:"tags"`
}

func (d *doc) Init() {
	if d.Tags == nil {
		d.Tags = make(map[string]string)
	}
}

func TestWithYieldsZeroValueWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	store := jsonstore.New[doc](filepath.Join(dir, "store.lock"), filepath.Join(dir, "store.json"))

	var seen doc
	require.NoError(t, store.With(context.Background(), func(d *doc) error {
		seen = *d
		return nil
	}))
	assert.Equal(t, 0, seen.Count)
	assert.NotNil(t, seen.Tags, "Init should have run on the zero value")
}

func TestUpdatePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "store.lock")
	dataPath := filepath.Join(dir, "store.json")

	store := jsonstore.New[doc](lockPath, dataPath)
	require.NoError(t, store.Update(context.Background(), func(d *doc) error {
		d.Count = 5
		d.Tags["k"] = "v"
		return nil
	}))

	reopened := jsonstore.New[doc](lockPath, dataPath)
	var got doc
	require.NoError(t, reopened.With(context.Background(), func(d *doc) error {
		got = *d
		return nil
	}))
	assert.Equal(t, 5, got.Count)
	assert.Equal(t, "v", got.Tags["k"])
}

func TestUpdateDoesNotPersistOnError(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "store.lock")
	dataPath := filepath.Join(dir, "store.json")
	store := jsonstore.New[doc](lockPath, dataPath)

	require.NoError(t, store.Update(context.Background(), func(d *doc) error {
		d.Count = 1
		return nil
	}))

	err := store.Update(context.Background(), func(d *doc) error {
		d.Count = 999 //nolint:mnd
		return assert.AnError
	})
	require.Error(t, err)

	var got doc
	require.NoError(t, store.With(context.Background(), func(d *doc) error {
		got = *d
		return nil
	}))
	assert.Equal(t, 1, got.Count)
}
