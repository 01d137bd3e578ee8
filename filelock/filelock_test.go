package filelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openFile(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestExclusiveBlocksSecondOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.txt")
	first := openFile(t, path)
	second := openFile(t, path)

	require.NoError(t, Lock(first, Exclusive))

	acquired := make(chan struct{})
	go func() {
		if err := Lock(second, Exclusive); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second exclusive lock granted while first is held")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, Unlock(first))

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock not granted after release")
	}
	require.NoError(t, Unlock(second))
}

func TestSharedLocksCoexist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.txt")
	a := openFile(t, path)
	b := openFile(t, path)

	require.NoError(t, Lock(a, Shared))
	require.NoError(t, Lock(b, Shared))
	require.NoError(t, Unlock(a))
	require.NoError(t, Unlock(b))
}

func TestModeString(t *testing.T) {
	require.Equal(t, "shared", Shared.String())
	require.Equal(t, "exclusive", Exclusive.String())
}
