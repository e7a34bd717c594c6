package rotlog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func newTestWriter(t *testing.T, clock *fakeClock, retention int) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := New(dir, "vdl2", retention, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, dir
}

func TestNew_CreatesCurrentFileAndAlias(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 6, 10, 9, 0, 0, 0, time.Local)}
	w, dir := newTestWriter(t, clock, 7)

	expected := filepath.Join(dir, "vdl2-2024-06-10.jsonl")
	assert.Equal(t, expected, w.CurrentPath())
	assert.FileExists(t, expected)

	target, err := os.Readlink(w.AliasPath())
	require.NoError(t, err)
	assert.Equal(t, "vdl2-2024-06-10.jsonl", target)
}

func TestNew_InvalidArguments(t *testing.T) {
	_, err := New(t.TempDir(), "", 7)
	assert.Error(t, err)

	_, err = New(t.TempDir(), "vdl2", 0)
	assert.Error(t, err)
}

func TestWrite_AppendsLines(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 6, 10, 9, 0, 0, 0, time.Local)}
	w, _ := newTestWriter(t, clock, 7)

	require.NoError(t, w.Write([]byte(`{"n":1}`)))
	require.NoError(t, w.Write([]byte(`{"n":2}`)))

	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n", readFile(t, w.CurrentPath()))
	// alias resolves to the same content
	assert.Equal(t, readFile(t, w.CurrentPath()), readFile(t, w.AliasPath()))
}

func TestRotateIfNeeded_SameDayIsNoop(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 6, 10, 9, 0, 0, 0, time.Local)}
	w, _ := newTestWriter(t, clock, 7)
	before := w.CurrentPath()

	clock.Set(time.Date(2024, 6, 10, 23, 59, 59, 0, time.Local))
	w.RotateIfNeeded()
	assert.Equal(t, before, w.CurrentPath())
}

func TestRotateIfNeeded_DayChange(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 6, 10, 23, 59, 0, 0, time.Local)}
	w, dir := newTestWriter(t, clock, 7)
	require.NoError(t, w.Write([]byte(`{"day":10}`)))

	clock.Set(time.Date(2024, 6, 11, 0, 0, 30, 0, time.Local))
	w.RotateIfNeeded()
	require.NoError(t, w.Write([]byte(`{"day":11}`)))

	day10 := filepath.Join(dir, "vdl2-2024-06-10.jsonl")
	day11 := filepath.Join(dir, "vdl2-2024-06-11.jsonl")
	assert.Equal(t, day11, w.CurrentPath())
	assert.Equal(t, "{\"day\":10}\n", readFile(t, day10))
	assert.Equal(t, "{\"day\":11}\n", readFile(t, day11))

	resolved, err := filepath.EvalSymlinks(w.AliasPath())
	require.NoError(t, err)
	expected, err := filepath.EvalSymlinks(day11)
	require.NoError(t, err)
	assert.Equal(t, expected, resolved)
}

func TestRotateIfNeeded_PrunesOutsideRetention(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 6, 10, 12, 0, 0, 0, time.Local)}
	w, dir := newTestWriter(t, clock, 7)

	names := []string{
		"vdl2-2024-06-01.jsonl", // 10 days before the new day: pruned
		"vdl2-2024-06-03.jsonl", // 8 days before: pruned
		"vdl2-2024-06-04.jsonl", // exactly 7 days before: kept
		"vdl2-2024-06-09.jsonl",
		"other-2024-01-01.jsonl", // foreign prefix: kept
		"vdl2-notes.jsonl",       // no date: kept
	}
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644))
	}

	clock.Set(time.Date(2024, 6, 11, 0, 1, 0, 0, time.Local))
	w.RotateIfNeeded()

	assert.NoFileExists(t, filepath.Join(dir, "vdl2-2024-06-01.jsonl"))
	assert.NoFileExists(t, filepath.Join(dir, "vdl2-2024-06-03.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "vdl2-2024-06-04.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "vdl2-2024-06-09.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "vdl2-2024-06-10.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "vdl2-2024-06-11.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "other-2024-01-01.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "vdl2-notes.jsonl"))
	// the alias is not mistaken for a dated file
	_, err := os.Lstat(w.AliasPath())
	assert.NoError(t, err)
}

func TestRotateIfNeeded_ConcurrentCallersAreSafe(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 6, 10, 12, 0, 0, 0, time.Local)}
	w, dir := newTestWriter(t, clock, 7)
	clock.Set(time.Date(2024, 6, 11, 12, 0, 0, 0, time.Local))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.RotateIfNeeded()
			assert.NoError(t, w.Write([]byte("line")))
		}()
	}
	wg.Wait()

	data := readFile(t, filepath.Join(dir, "vdl2-2024-06-11.jsonl"))
	assert.Equal(t, 8, strings.Count(data, "line\n"))
}

func TestRotateIfNeeded_FailureIsSwallowedAndRetried(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 6, 10, 12, 0, 0, 0, time.Local)}
	w, dir := newTestWriter(t, clock, 7)

	// a directory occupying the next day's file name makes the open fail
	blocked := filepath.Join(dir, "vdl2-2024-06-11.jsonl")
	require.NoError(t, os.Mkdir(blocked, 0o755))

	clock.Set(time.Date(2024, 6, 11, 0, 0, 5, 0, time.Local))
	assert.NotPanics(t, w.RotateIfNeeded)
	assert.Error(t, w.Write([]byte("lost")))

	require.NoError(t, os.Remove(blocked))
	w.RotateIfNeeded()
	require.NoError(t, w.Write([]byte("kept")))
	assert.Equal(t, "kept\n", readFile(t, blocked))
}
