// Package runner is the orchestration core: it pulls tasks from the frame
// source, dispatches them through the connection manager, normalizes the
// result and applies the post-evaluation side effects. One task is in
// flight at a time; per-task side effects happen in enqueue order.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/czpavel/visionfeed/internal/artifacts"
	"github.com/czpavel/visionfeed/internal/client"
	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/connection"
	"github.com/czpavel/visionfeed/internal/eval"
	"github.com/czpavel/visionfeed/internal/fileactions"
	"github.com/czpavel/visionfeed/internal/journal"
	"github.com/czpavel/visionfeed/internal/models"
	"github.com/czpavel/visionfeed/internal/source"
)

// PreviewFunc receives the last processed frame. Invoked at most once per
// completed task; implementations overwrite any unread previous frame.
type PreviewFunc func(task models.ImageTask, processed []byte)

// Runner wires the producer/consumer pipeline together.
type Runner struct {
	cfg     *config.AppConfig
	conn    *connection.Manager
	logger  *slog.Logger
	journal journal.Writer
	src     source.Source
	runID   string

	// loopSuppressed is set when the cyclic loop mode reuses source files
	// indefinitely: move/delete would be non-deterministic, so only the
	// artifact side of the engine stays active.
	loopSuppressed bool

	mu      sync.Mutex
	preview PreviewFunc
	status  string
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a runner. A nil src selects the source from the config:
// generator when enabled, otherwise the configured folder, file list or
// video ingest.
func New(cfg *config.AppConfig, conn *connection.Manager, jw journal.Writer, src source.Source, logger *slog.Logger) *Runner {
	if src == nil {
		switch {
		case cfg.Generator.Enabled:
			src = source.NewGenerator(cfg, logger)
		case cfg.Input.SourceType == "files":
			src = source.NewList(cfg, logger)
		case cfg.Input.SourceType == "video":
			src = source.NewVideo(cfg, logger)
		default:
			src = source.NewFolder(cfg, logger)
		}
	}
	_, isGenerator := src.(*source.Generator)
	return &Runner{
		cfg:            cfg,
		conn:           conn,
		logger:         logger,
		journal:        jw,
		src:            src,
		runID:          uuid.NewString(),
		loopSuppressed: cfg.Behavior.RunMode == "loop" && !isGenerator,
		status:         "stopped",
	}
}

// RunID identifies this run in journal records.
func (r *Runner) RunID() string { return r.runID }

// SetPreview registers the live preview collaborator. Pass nil to detach.
func (r *Runner) SetPreview(fn PreviewFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preview = fn
}

// Status returns "running" or "stopped".
func (r *Runner) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Start launches the producer and the single dispatch worker. It returns
// immediately; use Done to observe completion of finite run modes.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == "running" {
		return fmt.Errorf("runner already running")
	}
	if r.loopSuppressed && r.cfg.FileActions.Enabled {
		r.logger.Warn("file move/delete is suppressed in loop mode because source files are reused")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.status = "running"

	queue := make(chan models.ImageTask, r.cfg.Behavior.QueueSize)

	go func() {
		// A finite source completing is the normal end of a once-style
		// run; closing the queue lets the worker drain and exit.
		if err := r.src.Run(runCtx, queue); err != nil && runCtx.Err() == nil {
			r.logger.Error("frame source failed", "error", err)
		}
		close(queue)
	}()

	go func() {
		defer close(r.done)
		r.workerLoop(runCtx, queue)
		r.mu.Lock()
		r.status = "stopped"
		r.mu.Unlock()
	}()
	return nil
}

// Done is closed when the pipeline has fully stopped.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Stop cancels the pipeline and waits for the in-flight task to finish, up
// to the configured graceful timeout. No torn file-action writes: the stop
// signal is only checked between tasks.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Duration(r.cfg.Behavior.GracefulStopTimeoutSec) * time.Second):
			r.logger.Warn("graceful stop timed out")
		}
	}
}

func (r *Runner) workerLoop(ctx context.Context, queue <-chan models.ImageTask) {
	delay := time.Duration(r.cfg.Behavior.DelayBetweenImagesMS) * time.Millisecond
	for {
		// No send attempts while disconnected.
		for !r.conn.IsConnected() {
			if !sleepCtx(ctx, time.Second) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case task, ok := <-queue:
			if !ok {
				return
			}
			rec := r.processTask(ctx, task)
			if err := r.journal.Record(rec); err != nil {
				r.logger.Warn("journal write failed", "error", err)
			}
			if rec.Status == "error" {
				r.logger.Error("analyze failed", "path", task.Path, "error", rec.Error)
			} else {
				r.logger.Info("processed", "path", task.Path, "latency_ms", rec.LatencyMS, "result", rec.EvalStatus)
			}
			if delay > 0 && !sleepCtx(ctx, delay) {
				return
			}
		}
	}
}

// processTask runs one task through dispatch, normalization and the
// post-evaluation engines. It always returns a journal record; per-task
// faults never escape.
func (r *Runner) processTask(ctx context.Context, task models.ImageTask) models.TaskRecord {
	start := time.Now()
	rec := models.TaskRecord{
		RunID:               r.runID,
		TaskID:              task.ID,
		Timestamp:           start.Format("2006-01-02 15:04:05"),
		Filename:            task.Path,
		Data:                task.Data,
		SourceKind:          task.Kind,
		Mode:                r.cfg.Server.Mode,
		FileActionOperation: "none",
	}

	r.conn.UpdateLastData(task.Data)
	r.logger.Info("sending", "path", task.Path, "data", task.Data)

	rawCtx, imageBytes, err := r.analyzeWithRetry(ctx, task)
	latencyMS := int(time.Since(start).Milliseconds())
	rec.LatencyMS = latencyMS

	if err != nil {
		r.conn.RecordEvaluation(0, "", nil, err.Error())
		rec.Status = "error"
		rec.Error = err.Error()
		rec.EvalStatus = models.StatusError
		rec.CompleteTimeMS = latencyMS
		return rec
	}

	r.conn.UpdateLastContext(rawCtx)
	r.conn.RecordSent(task.Path)

	fallback := eval.ResolveField(rawCtx, r.cfg.Server.ResultField)
	evaluation := eval.Normalize(rawCtx, fallback, latencyMS, r.cfg.Server.OKNOKSource)
	r.conn.RecordEvaluation(evaluation.CompleteTimeMS, evaluation.OKNOK, rawCtx, "")

	rec.Status = "ok"
	rec.OKNOK = evaluation.OKNOK
	rec.EvalStatus = evaluation.Status
	rec.ResultBool = evaluation.ResultBool
	rec.CompleteTimeS = evaluation.CompleteTimeS
	rec.CompleteTimeMS = evaluation.CompleteTimeMS
	rec.DetectedCount = evaluation.DetectedCount

	action := r.applyFileAction(task, evaluation)
	rec.FileActionApplied = action.Applied
	rec.FileActionOperation = action.Operation
	rec.FileActionTarget = action.TargetPath
	rec.FileActionReason = action.Reason

	artifactSource := task.SourcePath
	if artifactSource == "" {
		artifactSource = task.Path
	}
	saved := artifacts.Save(artifactSource, rawCtx, imageBytes, evaluation, r.cfg, time.Now())
	rec.JSONContextSaved = saved.JSONSaved
	rec.JSONContextPath = saved.JSONPath
	rec.ProcessedImageSaved = saved.ImageSaved
	rec.ProcessedImagePath = saved.ImagePath
	rec.ArtifactReason = saved.Reason
	r.logArtifacts(task, saved)

	r.mu.Lock()
	preview := r.preview
	r.mu.Unlock()
	if preview != nil {
		preview(task, imageBytes)
	}
	return rec
}

// analyzeWithRetry retries transient analyze failures with exponential
// backoff. The last error is returned after the attempts are spent.
func (r *Runner) analyzeWithRetry(ctx context.Context, task models.ImageTask) (models.Context, []byte, error) {
	srv := r.cfg.Server
	attempts := srv.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	input := client.Input{Path: task.Path, Bytes: task.Payload}
	if task.SourcePath != "" {
		input.Path = task.SourcePath
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c := r.conn.Client()
		if c == nil {
			return nil, nil, fmt.Errorf("not connected")
		}
		rawCtx, imageBytes, err := c.Analyze(ctx, input, task.Data)
		if err == nil {
			return rawCtx, imageBytes, nil
		}
		lastErr = err
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		backoff := srv.BackoffSec * math.Pow(2, float64(attempt-1))
		if backoff > srv.MaxBackoffSec {
			backoff = srv.MaxBackoffSec
		}
		r.logger.Warn("analyze attempt failed, retrying",
			"path", task.Path, "attempt", attempt, "error", err)
		if !sleepCtx(ctx, time.Duration(backoff*float64(time.Second))) {
			break
		}
	}
	return nil, nil, lastErr
}

func (r *Runner) applyFileAction(task models.ImageTask, evaluation models.Evaluation) models.FileActionResult {
	if task.Kind == models.SourceGenerator && r.cfg.Generator.SendMode == "send_only" {
		return models.FileActionResult{
			Operation:  "none",
			SourcePath: task.Path,
			Reason:     "send-only-source-file-actions-disabled",
			Status:     evaluation.Status,
		}
	}
	if r.loopSuppressed {
		return models.FileActionResult{
			Operation:  "none",
			SourcePath: task.Path,
			Reason:     "loop-mode-file-actions-disabled",
			Status:     evaluation.Status,
		}
	}

	path := task.SourcePath
	if path == "" {
		path = task.Path
	}
	result := fileactions.Apply(path, evaluation, r.cfg, time.Now())

	if r.cfg.FileActions.Enabled {
		switch {
		case result.Applied && result.Operation == "move":
			r.logger.Info("file moved", "from", result.SourcePath, "to", result.TargetPath)
		case result.Applied && result.Operation == "delete":
			r.logger.Info("file deleted", "path", result.SourcePath)
		case result.Reason != "" && result.Reason != "file-actions-disabled":
			r.logger.Warn("file action not applied", "path", result.SourcePath, "reason", result.Reason)
		}
	}
	return result
}

func (r *Runner) logArtifacts(task models.ImageTask, saved models.ArtifactResult) {
	fa := r.cfg.FileActions
	if !fa.SaveJSONContext && !fa.SaveProcessedImage {
		return
	}
	if saved.Reason != "" && saved.Reason != "artifacts-disabled" {
		r.logger.Warn("artifact save incomplete", "path", task.Path, "reason", saved.Reason)
		return
	}
	if saved.JSONSaved {
		r.logger.Info("json context saved", "path", saved.JSONPath)
	}
	if saved.ImageSaved {
		r.logger.Info("processed image saved", "path", saved.ImagePath)
	}
}

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
