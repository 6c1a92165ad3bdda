package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/models"
)

// Video splits a recorded inspection video into still frames with ffmpeg and
// enqueues the frames as a fixed set. Frames land in a per-video subfolder;
// a subfolder that already holds frames is reused instead of re-extracted.
type Video struct {
	cfg    *config.AppConfig
	logger *slog.Logger
}

// NewVideo builds a video-ingest source over the config's input section.
func NewVideo(cfg *config.AppConfig, logger *slog.Logger) *Video {
	return &Video{cfg: cfg, logger: logger}
}

// Run extracts frames when needed and enqueues them exactly once, or
// cyclically in loop mode.
func (v *Video) Run(ctx context.Context, out chan<- models.ImageTask) error {
	frameDir, err := v.extractFrames(ctx)
	if err != nil {
		return err
	}
	frames, err := listFrames(frameDir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames extracted from %s", v.cfg.Input.VideoPath)
	}

	loop := v.cfg.Behavior.RunMode == "loop"
	for {
		for _, path := range frames {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			task := models.ImageTask{
				ID:         newTaskID(),
				Path:       path,
				Data:       BuildDataTag(v.cfg.Server, stem, time.Now()),
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
		if !sleepCtx(ctx, time.Duration(v.cfg.Input.PollIntervalSec*float64(time.Second))) {
			return ctx.Err()
		}
	}
}

// extractFrames runs ffmpeg unless the frame subfolder is already populated.
// It returns the subfolder holding the frames.
func (v *Video) extractFrames(ctx context.Context) (string, error) {
	in := v.cfg.Input
	if _, err := os.Stat(in.VideoPath); err != nil {
		return "", fmt.Errorf("video file not found at %q: %w", in.VideoPath, err)
	}

	stem := strings.TrimSuffix(filepath.Base(in.VideoPath), filepath.Ext(in.VideoPath))
	frameDir := filepath.Join(in.VideoFramesDir, stem)

	if existing, err := listFrames(frameDir); err == nil && len(existing) > 0 {
		v.logger.Info("reusing previously extracted frames", "dir", frameDir, "count", len(existing))
		return frameDir, nil
	}
	if err := os.MkdirAll(frameDir, 0755); err != nil {
		return "", fmt.Errorf("create frame directory %q: %w", frameDir, err)
	}

	interval := in.VideoFrameIntervalSec
	if interval < 1 {
		interval = 1
	}
	v.logger.Info("extracting frames", "video", in.VideoPath, "dir", frameDir, "interval_sec", interval)

	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-i", in.VideoPath,
		"-vf", fmt.Sprintf("fps=1/%d", interval),
		filepath.Join(frameDir, "frame_%04d.jpg"),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg failed: %w\noutput: %s", err, output)
	}
	return frameDir, nil
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".jpg") {
			frames = append(frames, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}
