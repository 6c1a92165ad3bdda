// Package source produces ImageTasks for the runner. A source is a lazy,
// possibly-infinite producer; the runner never assumes the sequence ends.
package source

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/models"
)

// Source feeds tasks into out until exhaustion or cancellation. Run returns
// nil when a finite source completed its set; infinite sources only return
// on context cancellation.
type Source interface {
	Run(ctx context.Context, out chan<- models.ImageTask) error
}

// BuildDataTag assembles the request data tag from the configured parts:
// an operator string, the file stem and a timestamp.
func BuildDataTag(cfg config.ServerConfig, stem string, now time.Time) string {
	var parts []string
	if cfg.DataIncludeString && cfg.DataStringValue != "" {
		parts = append(parts, cfg.DataStringValue)
	}
	if cfg.DataIncludeFilename {
		parts = append(parts, stem)
	}
	if cfg.DataIncludeTimestamp {
		parts = append(parts, now.Format("_15_04_05_"))
	}
	return strings.Join(parts, "")
}

// send blocks until the task is queued or the context is canceled.
func send(ctx context.Context, out chan<- models.ImageTask, task models.ImageTask) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- task:
		return true
	}
}

// sleepCtx waits for d, returning false when ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func newTaskID() string {
	return uuid.NewString()
}
