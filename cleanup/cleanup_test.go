package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectoria/conspect/storage"
)

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
	return path
}

func newSweeper(t *testing.T, dir string) *Sweeper {
	t.Helper()
	s, err := NewSweeper(dir, time.Hour, 7*24*time.Hour, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSweepRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	stale := writeAged(t, dir, "old.txt", 8*24*time.Hour)
	fresh := writeAged(t, dir, "new.txt", time.Hour)

	s := newSweeper(t, dir)
	removed, freed := s.Sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, int64(4), freed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestSweepSkipsHeldFiles(t *testing.T) {
	dir := t.TempDir()
	held := writeAged(t, dir, filepath.Join("job1", "audio.mp3"), 30*24*time.Hour)
	loose := writeAged(t, dir, "stray.txt", 30*24*time.Hour)

	s := newSweeper(t, dir)
	s.Hold(filepath.Join(dir, "job1"))
	removed, _ := s.Sweep()

	assert.Equal(t, 1, removed)
	assert.FileExists(t, held, "files under a held prefix must survive")
	assert.NoFileExists(t, loose)

	s.Release(filepath.Join(dir, "job1"))
	removed, _ = s.Sweep()
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, held)
}

func TestSweepReclaimsStorageCheckpoints(t *testing.T) {
	// Transcript and draft checkpoints are written into the working
	// directory precisely so the sweep reclaims them once they go stale.
	dir := t.TempDir()
	store, err := storage.New(dir)
	require.NoError(t, err)

	path, err := store.SaveTranscript("lecture", "текст")
	require.NoError(t, err)
	stamp := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	s := newSweeper(t, dir)
	removed, _ := s.Sweep()

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, path)
}

func TestSweepPrunesEmptyDirs(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, filepath.Join("sub", "deep", "old.txt"), 30*24*time.Hour)

	s := newSweeper(t, dir)
	s.Sweep()

	assert.NoDirExists(t, filepath.Join(dir, "sub", "deep"))
	assert.NoDirExists(t, filepath.Join(dir, "sub"))
	assert.DirExists(t, dir, "the working root itself is kept")
}

func TestSweepMissingDirIsQuiet(t *testing.T) {
	s := newSweeper(t, filepath.Join(t.TempDir(), "gone"))
	removed, _ := s.Sweep()
	assert.Zero(t, removed)
}

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "old.txt", 30*24*time.Hour)

	s := newSweeper(t, dir)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "double start must be rejected")
	s.Stop()

	// The immediate sweep on Start removed the stale file.
	assert.NoFileExists(t, filepath.Join(dir, "old.txt"))
}

func TestNewSweeperValidation(t *testing.T) {
	_, err := NewSweeper("", time.Hour, time.Hour, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewSweeper(t.TempDir(), 0, time.Hour, zerolog.Nop())
	assert.Error(t, err)
}
