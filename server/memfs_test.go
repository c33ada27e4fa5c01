package server

import (
	"os"
	"syscall"
	"testing"

	"github.com/brettbedarf/memfs/config"
	"github.com/brettbedarf/memfs/filesystem"
	"github.com/brettbedarf/memfs/persist"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.StateDir = t.TempDir()
	return cfg
}

func statePresent(cfg *config.Config) []bool {
	files, dirs, links := cfg.StatePaths()
	var present []bool
	for _, p := range []string{files, dirs, links} {
		_, err := os.Stat(p)
		present = append(present, err == nil)
	}
	return present
}

func TestNew_EmptyStart(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)

	fs, err := New(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, fs.SessionID())

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, entries)
	assert.Equal(t, []bool{false, false, false}, statePresent(cfg))
	require.NoError(t, fs.Close())
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	cfg.MaxNameLen = 0

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_CorruptState(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	files, _, _ := cfg.StatePaths()
	require.NoError(t, os.WriteFile(files, []byte("/dangling\n"), 0o644))

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore state")
}

func TestMemFs_MutationsPersistAndCloseRemoves(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)

	fs, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, fs.Mkdir("/d"))
	assert.Equal(t, []bool{true, true, true}, statePresent(cfg))

	require.NoError(t, fs.Unmount())
	assert.Equal(t, []bool{false, false, false}, statePresent(cfg))
	// idempotent
	assert.NoError(t, fs.Close())
}

func TestMemFs_ResumeWithKeepState(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	cfg.KeepState = true

	first, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, first.Mkdir("/docs"))
	require.NoError(t, first.Create("/docs/a.txt"))
	_, err = first.Write("/docs/a.txt", []byte("persisted"), 0)
	require.NoError(t, err)
	require.NoError(t, first.Symlink("/docs/a.txt", "/a"))
	want := first.Snapshot()
	require.NoError(t, first.Close())
	assert.Equal(t, []bool{true, true, true}, statePresent(cfg))

	second, err := New(cfg)
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, first.SessionID(), second.SessionID())
	assert.Equal(t, want, second.Snapshot())

	buf := make([]byte, 64)
	n, err := second.Read("/a", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(buf[:n]))
}

func TestMemFs_WriteBackFlushesOnClose(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	cfg.KeepState = true
	cfg.WriteBack = true
	cfg.FlushInterval = 3600

	fs, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, fs.Mknod("/f"))
	assert.Equal(t, []bool{false, false, false}, statePresent(cfg), "nothing written before a flush")

	require.NoError(t, fs.Close())

	resumed, err := New(cfg)
	require.NoError(t, err)
	defer resumed.Close()
	attr, err := resumed.GetAttr("/f")
	require.NoError(t, err)
	assert.Equal(t, filesystem.KindFile, attr.Kind)
}

type busyUnmounter struct{ calls int }

func (u *busyUnmounter) Unmount() error {
	u.calls++
	return syscall.EBUSY
}

func TestMemFs_FailedUnmountStillFlushes(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	cfg.WriteBack = true
	cfg.FlushInterval = 3600

	fs, err := New(cfg)
	require.NoError(t, err)
	busy := &busyUnmounter{}
	fs.server = busy

	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Create("/d/f"))
	_, err = fs.Write("/d/f", []byte("acked"), 0)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, statePresent(cfg), "still pending")

	err = fs.Unmount()
	assert.ErrorIs(t, err, syscall.EBUSY)
	assert.Equal(t, 1, busy.calls)
	// kept even without KeepState so the next start resumes the flushed tree
	assert.Equal(t, []bool{true, true, true}, statePresent(cfg))

	loaded, err := persist.NewFiles(cfg).Load()
	require.NoError(t, err)
	assert.Equal(t, fs.Snapshot(), loaded)
}

func TestMemFs_MetricsWired(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)

	fs, err := New(cfg)
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.Mkdir("/m"))
	_, err = fs.GetAttr("/missing")
	require.Error(t, err)

	count, err := testutil.GatherAndCount(fs.Metrics().Registry(),
		"memfs_operations_total", "memfs_persist_duration_seconds", "memfs_nodes")
	require.NoError(t, err)
	// mkdir/success, getattr/error, one histogram, three kinds
	assert.Equal(t, 6, count)
}
