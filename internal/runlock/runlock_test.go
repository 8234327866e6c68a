package runlock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diskstats.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())

	_, err = os.Stat(path)
	assert.NoError(t, err)

	require.NoError(t, l.Release())

	again, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diskstats.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	defer l.Release()

	_, err = Acquire(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), path)
}

func TestAcquireCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run", "diskstats.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestAcquireUnwritableParent(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := Acquire(filepath.Join(blocker, "diskstats.lock"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}
