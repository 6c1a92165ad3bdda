package source

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/models"
	"github.com/czpavel/visionfeed/internal/scanner"
)

// idleCyclesDone is how many consecutive empty scans end a discovery phase.
const idleCyclesDone = 2

// Folder watches a directory and enqueues ready files according to the
// configured run mode.
type Folder struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	scan   *scanner.Scanner
}

// NewFolder builds a folder source over the config's input section.
func NewFolder(cfg *config.AppConfig, logger *slog.Logger) *Folder {
	return &Folder{
		cfg:    cfg,
		logger: logger,
		scan: scanner.New(
			cfg.Input.Folder,
			cfg.Input.IncludeSubfolders,
			cfg.Input.NormalizedExtensions(),
			cfg.Input.StabilityChecks,
			logger,
		),
	}
}

// Run dispatches to the configured run mode.
func (f *Folder) Run(ctx context.Context, out chan<- models.ImageTask) error {
	switch f.cfg.Behavior.RunMode {
	case "loop":
		return f.runLoop(ctx, out)
	case "once":
		return f.runOnce(ctx, out)
	case "just_watch":
		return f.runJustWatch(ctx, out)
	default: // initial_then_watch
		return f.runInitialThenWatch(ctx, out)
	}
}

// runLoop snapshots the folder once and cycles the same set indefinitely.
// Meant for static test folders; file actions are force-disabled upstream.
func (f *Folder) runLoop(ctx context.Context, out chan<- models.ImageTask) error {
	snapshot := f.buildSnapshot(ctx)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.enqueue(ctx, out, snapshot)
		if !sleepCtx(ctx, f.pollInterval()) {
			return ctx.Err()
		}
	}
}

// runOnce drains the current set exactly once, then completes.
func (f *Folder) runOnce(ctx context.Context, out chan<- models.ImageTask) error {
	seen := make(map[string]bool)
	idle := 0
	for ctx.Err() == nil {
		fresh := f.scanNew(seen)
		if len(fresh) > 0 {
			f.enqueue(ctx, out, fresh)
			idle = 0
		} else {
			idle++
		}
		if idle >= idleCyclesDone {
			return nil
		}
		if !sleepCtx(ctx, f.pollInterval()) {
			break
		}
	}
	return ctx.Err()
}

// runInitialThenWatch drains the current set, then keeps watching for
// newly created files.
func (f *Folder) runInitialThenWatch(ctx context.Context, out chan<- models.ImageTask) error {
	seen := make(map[string]bool)
	idle := 0
	for ctx.Err() == nil && idle < idleCyclesDone {
		fresh := f.scanNew(seen)
		if len(fresh) > 0 {
			f.enqueue(ctx, out, fresh)
			idle = 0
		} else {
			idle++
		}
		if !sleepCtx(ctx, f.pollInterval()) {
			return ctx.Err()
		}
	}
	return f.watch(ctx, out, seen)
}

// runJustWatch ignores pre-existing files entirely.
func (f *Folder) runJustWatch(ctx context.Context, out chan<- models.ImageTask) error {
	seen := make(map[string]bool)
	for _, path := range f.scan.ListMatching() {
		seen[path] = true
	}
	return f.watch(ctx, out, seen)
}

func (f *Folder) watch(ctx context.Context, out chan<- models.ImageTask, seen map[string]bool) error {
	for ctx.Err() == nil {
		if fresh := f.scanNew(seen); len(fresh) > 0 {
			f.enqueue(ctx, out, fresh)
		}
		if !sleepCtx(ctx, f.pollInterval()) {
			break
		}
	}
	return ctx.Err()
}

// buildSnapshot scans until the matching set stops growing.
func (f *Folder) buildSnapshot(ctx context.Context) []string {
	seen := make(map[string]bool)
	var snapshot []string
	idle := 0
	for ctx.Err() == nil {
		fresh := f.scanNew(seen)
		if len(fresh) > 0 {
			snapshot = append(snapshot, fresh...)
			idle = 0
		} else {
			idle++
		}
		if idle >= idleCyclesDone {
			break
		}
		if !sleepCtx(ctx, f.pollInterval()) {
			break
		}
	}
	return snapshot
}

func (f *Folder) scanNew(seen map[string]bool) []string {
	var fresh []string
	for _, path := range f.scan.Scan() {
		if !seen[path] {
			seen[path] = true
			fresh = append(fresh, path)
		}
	}
	return fresh
}

func (f *Folder) enqueue(ctx context.Context, out chan<- models.ImageTask, paths []string) {
	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		// A file can vanish between discovery and dispatch; that is a
		// per-task fault, not a fatal one.
		if _, err := os.Stat(path); err != nil {
			f.logger.Warn("file missing", "path", path)
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		task := models.ImageTask{
			ID:         newTaskID(),
			Path:       path,
			Data:       BuildDataTag(f.cfg.Server, stem, time.Now()),
			Kind:       models.SourceFile,
			LabelStem:  stem,
			SourcePath: path,
		}
		if !send(ctx, out, task) {
			return
		}
	}
}

func (f *Folder) pollInterval() time.Duration {
	return time.Duration(f.cfg.Input.PollIntervalSec * float64(time.Second))
}
