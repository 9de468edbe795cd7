package wal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Seq  int    `json:"seq"`
	Name string `json:"name"`
}

func readEntries(t *testing.T, w *WAL) []entry {
	var out []entry
	err := w.ReadAll(func(raw []byte) error {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestWriteAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(entry{Seq: 1, Name: "a"}))
	require.NoError(t, w.Write(entry{Seq: 2, Name: "b"}))
	require.NoError(t, w.Close())

	w, err = Open(path, WithoutSync())
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, []entry{{1, "a"}, {2, "b"}}, readEntries(t, w))
}

func TestTornTailIsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	require.NoError(t, os.WriteFile(path, []byte("{\"seq\":1,\"name\":\"a\"}\n{\"seq\":2,\"na"), FileModePrivate))

	w, err := Open(path, WithoutSync())
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []entry{{1, "a"}}, readEntries(t, w))

	require.NoError(t, w.Write(entry{Seq: 2, Name: "b"}))
	assert.Equal(t, []entry{{1, "a"}, {2, "b"}}, readEntries(t, w))
}

func TestCallbackErrorStopsReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path, WithoutSync())
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Write(entry{Seq: 1}))
	require.NoError(t, w.Write(entry{Seq: 2}))

	calls := 0
	err = w.ReadAll(func([]byte) error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

var errDiskFull = errors.New("no space left on device")

func TestFailedSyncLeavesNoEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	failNext := false
	w, err := Open(path, WithSyncFunc(func(f *os.File) error {
		if failNext {
			failNext = false
			return errDiskFull
		}
		return f.Sync()
	}))
	require.NoError(t, err)

	require.NoError(t, w.Write(entry{Seq: 1, Name: "a"}))
	failNext = true
	err = w.Write(entry{Seq: 2, Name: "lost"})
	assert.ErrorIs(t, err, errDiskFull)
	assert.NotErrorIs(t, err, ErrBroken)
	require.NoError(t, w.Write(entry{Seq: 3, Name: "c"}))
	require.NoError(t, w.Close())

	w, err = Open(path, WithoutSync())
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, []entry{{1, "a"}, {3, "c"}}, readEntries(t, w))
}

func TestWALBreaksWhenRewindFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	failing := false
	w, err := Open(path, WithSyncFunc(func(f *os.File) error {
		if failing {
			return errDiskFull
		}
		return f.Sync()
	}))
	require.NoError(t, err)

	require.NoError(t, w.Write(entry{Seq: 1, Name: "a"}))
	failing = true
	err = w.Write(entry{Seq: 2, Name: "lost"})
	assert.ErrorIs(t, err, ErrBroken)

	failing = false
	assert.ErrorIs(t, w.Write(entry{Seq: 3, Name: "refused"}), ErrBroken)
	require.NoError(t, w.Close())

	w, err = Open(path, WithoutSync())
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, []entry{{1, "a"}}, readEntries(t, w))
}
