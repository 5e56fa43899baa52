package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/stretchr/testify/require"
)

type fakeStore struct{ checkpointed bool }

func (f *fakeStore) Checkpoint(context.Context) error {
	f.checkpointed = true
	return nil
}

type fakeHost struct{ unloaded bool }

func (f *fakeHost) UnloadAll() { f.unloaded = true }

func TestLifecycle_AcquireWritesPidFile(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, &fakeStore{}, &fakeHost{}, nil)
	require.NoError(t, l.AcquireSingleInstance())

	data, err := os.ReadFile(filepath.Join(dir, pidFileName))
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data[:len(data)-1]))
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}

func TestLifecycle_RejectsWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, pidFileName), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	l := New(dir, &fakeStore{}, &fakeHost{}, nil)
	err := l.AcquireSingleInstance()
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindDaemonAlreadyRunning, kind)
}

func TestLifecycle_RemovesStalePidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, pidFileName), []byte("999999999\n"), 0o644))

	l := New(dir, &fakeStore{}, &fakeHost{}, nil)
	require.NoError(t, l.AcquireSingleInstance())
}

func TestLifecycle_ShutdownUnloadsAndCheckpointsAndRemovesPid(t *testing.T) {
	dir := t.TempDir()
	st := &fakeStore{}
	host := &fakeHost{}
	l := New(dir, st, host, nil)
	require.NoError(t, l.AcquireSingleInstance())

	require.NoError(t, l.Shutdown(context.Background()))
	require.True(t, st.checkpointed)
	require.True(t, host.unloaded)

	_, err := os.Stat(filepath.Join(dir, pidFileName))
	require.True(t, os.IsNotExist(err))
}

func TestLifecycle_BeginTaskFailsFastWhileShuttingDown(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, &fakeStore{}, &fakeHost{}, nil)
	require.NoError(t, l.AcquireSingleInstance())

	require.True(t, l.BeginTask())
	l.EndTask()

	l.shuttingDown.Store(true)
	require.False(t, l.BeginTask())
}
