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
)

// List enqueues a caller-supplied ordered file list exactly once, or
// cyclically in loop mode.
type List struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	files  []string
}

// NewList builds a fixed-list source.
func NewList(cfg *config.AppConfig, logger *slog.Logger) *List {
	return &List{cfg: cfg, logger: logger, files: cfg.Input.Files}
}

// Run enqueues the list. Missing files are logged and skipped.
func (l *List) Run(ctx context.Context, out chan<- models.ImageTask) error {
	loop := l.cfg.Behavior.RunMode == "loop"
	for {
		for _, path := range l.files {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := os.Stat(path); err != nil {
				l.logger.Warn("file missing", "path", path)
				continue
			}
			stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			task := models.ImageTask{
				ID:         newTaskID(),
				Path:       path,
				Data:       BuildDataTag(l.cfg.Server, stem, time.Now()),
				Kind:       models.SourceFile,
				LabelStem:  stem,
				SourcePath: path,
			}
			if !send(ctx, out, task) {
				return ctx.Err()
			}
		}
		if !loop {
			return nil
		}
		if !sleepCtx(ctx, time.Duration(l.cfg.Input.PollIntervalSec*float64(time.Second))) {
			return ctx.Err()
		}
	}
}
