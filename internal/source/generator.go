package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/imaging"
	"github.com/czpavel/visionfeed/internal/models"
)

// Frame is one pushed raster frame from a generator or an external engine.
type Frame struct {
	LabelStem string
	PNG       []byte
	SavedPath string // set when the frame was also written to disk
}

// Generator produces synthetic timestamped frames on a fixed interval and
// accepts externally pushed frames. In save_send mode every frame is written
// to the snapshot dir and the file is what gets dispatched; in send_only
// mode frames stay in memory and have no backing file to move or delete.
type Generator struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	pushes chan Frame

	// Render produces the raster for one tick. Replaceable so an external
	// engine can supply real frames; the default draws placeholder art.
	Render func(t time.Time, w, h int) image.Image
}

// NewGenerator builds a synthetic frame source.
func NewGenerator(cfg *config.AppConfig, logger *slog.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		logger: logger,
		pushes: make(chan Frame, 16),
		Render: renderTestPattern,
	}
}

// Push hands an externally produced frame to the source. It never blocks;
// a full inbox drops the frame and reports false.
func (g *Generator) Push(frame Frame) bool {
	select {
	case g.pushes <- frame:
		return true
	default:
		g.logger.Warn("generator inbox full, frame dropped", "label", frame.LabelStem)
		return false
	}
}

// Run ticks frames until cancellation. Pushed frames interleave with the
// generated ones.
func (g *Generator) Run(ctx context.Context, out chan<- models.ImageTask) error {
	interval := time.Duration(g.cfg.Generator.IntervalSec * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-g.pushes:
			if !g.emit(ctx, out, frame) {
				return ctx.Err()
			}
		case t := <-ticker.C:
			frame, err := g.renderFrame(t)
			if err != nil {
				g.logger.Warn("frame render failed", "error", err)
				continue
			}
			if !g.emit(ctx, out, frame) {
				return ctx.Err()
			}
		}
	}
}

func (g *Generator) renderFrame(t time.Time) (Frame, error) {
	gen := g.cfg.Generator
	img := g.Render(t, gen.Width, gen.Height)
	png, err := imaging.EncodePNG(img)
	if err != nil {
		return Frame{}, err
	}
	stem := fmt.Sprintf("%s_%s", gen.FilePrefix, t.Format("2006_01_02_15_04_05.000"))
	return Frame{LabelStem: stem, PNG: png}, nil
}

func (g *Generator) emit(ctx context.Context, out chan<- models.ImageTask, frame Frame) bool {
	gen := g.cfg.Generator
	task := models.ImageTask{
		ID:        newTaskID(),
		Data:      BuildDataTag(g.cfg.Server, frame.LabelStem, time.Now()),
		Kind:      models.SourceGenerator,
		LabelStem: frame.LabelStem,
	}

	if gen.SendMode == "save_send" {
		path := frame.SavedPath
		if path == "" {
			saved, err := g.saveSnapshot(frame)
			if err != nil {
				g.logger.Warn("snapshot save failed", "label", frame.LabelStem, "error", err)
				return true // skip this frame, keep running
			}
			path = saved
		}
		task.Path = path
		task.SourcePath = path
	} else {
		task.Path = filepath.Join(gen.SnapshotDir, frame.LabelStem+".png")
		task.Payload = frame.PNG
	}
	return send(ctx, out, task)
}

func (g *Generator) saveSnapshot(frame Frame) (string, error) {
	dir := g.cfg.Generator.SnapshotDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, frame.LabelStem+".png")
	if err := os.WriteFile(path, frame.PNG, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// renderTestPattern draws a time-varying gradient. The real rendering math
// lives in external engines; this only has to produce valid frames.
func renderTestPattern(t time.Time, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	phase := uint8(t.UnixMilli() / 8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x) + phase,
				G: uint8(y) + phase,
				B: uint8(x+y) - phase,
				A: 255,
			})
		}
	}
	return img
}
