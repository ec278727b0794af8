package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(root, n), 0o755))
	}
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestListFiltersReserved(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "A", "B", ".sftp")
	writeFile(t, filepath.Join(root, "not-a-dir"), 10)

	got, err := List(root, DefaultReserved)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, got)
}

func TestListReservedPrefix(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a1b2c3d4-0000", ".sftp-cache", "lost+found")

	got, err := List(root, []string{".sftp", "lost+found"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1b2c3d4-0000"}, got)
}

func TestListMissingRoot(t *testing.T) {
	got, err := List(filepath.Join(t.TempDir(), "gone"), DefaultReserved)
	assert.ErrorIs(t, err, ErrEnumeration)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestWipeKeepsDirectory(t *testing.T) {
	vol := filepath.Join(t.TempDir(), "vol")
	writeFile(t, filepath.Join(vol, "world", "region.mca"), 1024)
	writeFile(t, filepath.Join(vol, ".hidden"), 16)
	writeFile(t, filepath.Join(vol, "..double"), 16)
	writeFile(t, filepath.Join(vol, ".config", "x.yml"), 16)
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(vol, "link")))

	require.NoError(t, Wipe(context.Background(), vol))

	info, err := os.Stat(vol)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := os.ReadDir(vol)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// the symlink target must be untouched
	_, err = os.Stat("/etc/passwd")
	assert.NoError(t, err)
}

func TestWipeIsIdempotent(t *testing.T) {
	vol := filepath.Join(t.TempDir(), "vol")
	writeFile(t, filepath.Join(vol, "data.bin"), 64)

	for i := 0; i < 2; i++ {
		require.NoError(t, Wipe(context.Background(), vol))
		entries, err := os.ReadDir(vol)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestWipeMissingPath(t *testing.T) {
	assert.NoError(t, Wipe(context.Background(), filepath.Join(t.TempDir(), "nope")))
}

func TestWipeHonoursDeadline(t *testing.T) {
	vol := filepath.Join(t.TempDir(), "vol")
	writeFile(t, filepath.Join(vol, "a"), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	err := Wipe(ctx, vol)
	assert.ErrorIs(t, err, ErrWipe)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// budgetCtx reports cancellation once Err has been consulted n times.
type budgetCtx struct {
	context.Context
	left atomic.Int64
}

func newBudgetCtx(n int64) *budgetCtx {
	c := &budgetCtx{Context: context.Background()}
	c.left.Store(n)
	return c
}

func (c *budgetCtx) Err() error {
	if c.left.Add(-1) < 0 {
		return context.Canceled
	}
	return nil
}

func fillTree(t *testing.T, dir string, files int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < files; i++ {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("f%05d", i)))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
}

func TestWipeStopsInsideLargeSubtree(t *testing.T) {
	vol := filepath.Join(t.TempDir(), "vol")
	sub := filepath.Join(vol, "world", "region")
	fillTree(t, sub, 500)

	err := Wipe(newBudgetCtx(50), vol)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWipe)
	assert.ErrorIs(t, err, context.Canceled)

	left, rerr := os.ReadDir(sub)
	require.NoError(t, rerr)
	assert.NotEmpty(t, left)
	assert.Less(t, len(left), 500)
}

func TestWipeDeadlineBoundsSingleSubtree(t *testing.T) {
	vol := filepath.Join(t.TempDir(), "vol")
	fillTree(t, filepath.Join(vol, "big"), 20000)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := Wipe(ctx, vol)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrWipe)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)
	assert.DirExists(t, filepath.Join(vol, "big"))

	require.NoError(t, Wipe(context.Background(), vol))
	entries, err := os.ReadDir(vol)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
