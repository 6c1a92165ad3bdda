package source

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastConfig(t *testing.T) (*config.AppConfig, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Input.Folder = dir
	cfg.Input.PollIntervalSec = 0.01
	cfg.Input.StabilityChecks = 1
	return &cfg, dir
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("img"), 0644))
	return path
}

// drain collects tasks until the source closes the channel via completion.
func runToCompletion(t *testing.T, src Source) []models.ImageTask {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := make(chan models.ImageTask, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Run(ctx, out)
		close(out)
	}()

	var tasks []models.ImageTask
	for task := range out {
		tasks = append(tasks, task)
	}
	require.NoError(t, <-errCh)
	return tasks
}

func TestBuildDataTag(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)

	cfg := config.ServerConfig{DataIncludeFilename: true}
	require.Equal(t, "part_001", BuildDataTag(cfg, "part_001", now))

	cfg.DataIncludeTimestamp = true
	require.Equal(t, "part_001_14_30_05_", BuildDataTag(cfg, "part_001", now))

	cfg.DataIncludeString = true
	cfg.DataStringValue = "line3"
	require.Equal(t, "line3part_001_14_30_05_", BuildDataTag(cfg, "part_001", now))

	require.Equal(t, "", BuildDataTag(config.ServerConfig{}, "part_001", now))
}

func TestFolderOnceDrainsAndCompletes(t *testing.T) {
	cfg, dir := fastConfig(t)
	cfg.Behavior.RunMode = "once"
	a := writeImage(t, dir, "a.png")
	b := writeImage(t, dir, "b.png")

	tasks := runToCompletion(t, NewFolder(cfg, testLogger()))
	require.Len(t, tasks, 2)

	paths := []string{tasks[0].Path, tasks[1].Path}
	require.ElementsMatch(t, []string{a, b}, paths)
	for _, task := range tasks {
		require.Equal(t, models.SourceFile, task.Kind)
		require.NotEmpty(t, task.ID)
		require.Equal(t, task.Path, task.SourcePath)
	}
}

func TestFolderOnceEmptyFolderCompletes(t *testing.T) {
	cfg, _ := fastConfig(t)
	cfg.Behavior.RunMode = "once"
	tasks := runToCompletion(t, NewFolder(cfg, testLogger()))
	require.Empty(t, tasks)
}

func TestFolderJustWatchSkipsPreExisting(t *testing.T) {
	cfg, dir := fastConfig(t)
	cfg.Behavior.RunMode = "just_watch"
	writeImage(t, dir, "old.png")

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan models.ImageTask, 16)
	done := make(chan struct{})
	go func() {
		NewFolder(cfg, testLogger()).Run(ctx, out)
		close(done)
	}()

	// Give the watcher time to snapshot, then drop a new file in.
	time.Sleep(100 * time.Millisecond)
	fresh := writeImage(t, dir, "fresh.png")

	select {
	case task := <-out:
		require.Equal(t, fresh, task.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("new file was not picked up")
	}
	cancel()
	<-done
	require.Empty(t, out)
}

func TestListEnqueuesOnceSkippingMissing(t *testing.T) {
	dir := t.TempDir()
	present := writeImage(t, dir, "present.png")

	cfg := config.Default()
	cfg.Behavior.RunMode = "once"
	cfg.Input.SourceType = "files"
	cfg.Input.Files = []string{present, filepath.Join(dir, "gone.png")}

	tasks := runToCompletion(t, NewList(&cfg, testLogger()))
	require.Len(t, tasks, 1)
	require.Equal(t, present, tasks[0].Path)
	require.Equal(t, "present", tasks[0].LabelStem)
}
