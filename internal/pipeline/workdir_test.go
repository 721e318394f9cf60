package pipeline

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkDirectoryRelease(t *testing.T) {
	calls := 0
	wd := NewWorkDirectory("/tmp/x", func() error {
		calls++
		return errors.New("busy")
	})
	assert.Error(t, wd.Release())
	assert.NoError(t, wd.Release(), "released once")
	assert.Equal(t, 1, calls)

	kept := NewWorkDirectory("/tmp/y", func() error {
		t.Fatal("kept directory released")
		return nil
	})
	kept.Keep()
	assert.NoError(t, kept.Release())
}

func TestTempWorkDirFactory(t *testing.T) {
	fx := newFixture(t)
	fx.register("convert", nil, newStub("a"))
	job, err := fx.svc.NewJob("convert", BackgroundInfo{}, t.TempDir(), nil)
	require.NoError(t, err)

	root := t.TempDir()
	f := &TempWorkDirFactory{Root: root}
	wd, err := f.Create(job, NewTaskID("ms2", "convert"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".work", job.GUID(), "ms2-convert"), wd.Path())
	assert.DirExists(t, wd.Path())
	require.NoError(t, wd.Release())
	assert.NoDirExists(t, wd.Path())

	retained := &TempWorkDirFactory{Root: root, Retain: true}
	wd, err = retained.Create(job, NewTaskID("", "convert"))
	require.NoError(t, err)
	require.NoError(t, wd.Release())
	assert.DirExists(t, wd.Path())
}
