package scanner

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	return path
}

func TestScanRequiresStability(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png")
	s := New(dir, false, []string{".png"}, 2, testLogger())

	// Scan 1 sees the file for the first time, scans 2 and 3 confirm it.
	require.Empty(t, s.Scan())
	require.Empty(t, s.Scan())
	require.Len(t, s.Scan(), 1)
}

func TestScanResetsOnGrowth(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.png")
	s := New(dir, false, []string{".png"}, 1, testLogger())

	require.Empty(t, s.Scan())

	// A growing file is not ready; its stability count starts over.
	require.NoError(t, os.WriteFile(path, []byte("more data"), 0644))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	require.Empty(t, s.Scan())
	require.Len(t, s.Scan(), 1)
}

func TestScanOrdersByModTime(t *testing.T) {
	dir := t.TempDir()
	newer := writeFile(t, dir, "newer.png")
	older := writeFile(t, dir, "older.png")

	base := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, base, base))
	require.NoError(t, os.Chtimes(newer, base.Add(time.Minute), base.Add(time.Minute)))

	s := New(dir, false, []string{".png"}, 1, testLogger())
	require.Empty(t, s.Scan())
	ready := s.Scan()
	require.Equal(t, []string{older, newer}, ready)
}

func TestScanFiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png")
	writeFile(t, dir, "b.JPG")
	writeFile(t, dir, "notes.txt")

	s := New(dir, false, []string{".png", ".jpg"}, 1, testLogger())
	require.Empty(t, s.Scan())
	require.Len(t, s.Scan(), 2)
}

func TestScanSubfolders(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0755))
	writeFile(t, dir, "top.png")
	nested := writeFile(t, sub, "deep.png")

	flat := New(dir, false, []string{".png"}, 1, testLogger())
	flat.Scan()
	require.Len(t, flat.Scan(), 1)

	walking := New(dir, true, []string{".png"}, 1, testLogger())
	walking.Scan()
	ready := walking.Scan()
	require.Len(t, ready, 2)
	require.Contains(t, ready, nested)
}

func TestScanMissingFolder(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"), false, []string{".png"}, 1, testLogger())
	require.Empty(t, s.Scan())
}

func TestListMatchingIgnoresStability(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png")
	s := New(dir, false, []string{".png"}, 3, testLogger())
	require.Len(t, s.ListMatching(), 1)
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png")
	s := New(dir, false, []string{".png"}, 1, testLogger())

	s.Scan()
	s.Reset()
	// State forgotten: the file needs to re-earn stability.
	require.Empty(t, s.Scan())
	require.Len(t, s.Scan(), 1)
}
