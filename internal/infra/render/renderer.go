// Package render reconstructs a video frame by frame to confine a blur
// effect to specific time windows, used when the remote transformation
// service cannot target a sub-range reliably. The output is a fresh
// encoding: time-accurate and frame-granular, but its container may differ
// from the input's.
package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/anonvid/anonvid-processing-service/internal/domain/entity"
	"github.com/anonvid/anonvid-processing-service/internal/domain/port"
)

// RendererError marks a decode, filter, or encode failure. The
// orchestrator treats it as recoverable and falls back to the unmodified
// original.
type RendererError struct {
	Op  string
	Err error
}

func (e *RendererError) Error() string {
	return fmt.Sprintf("selective blur renderer: %s: %v", e.Op, e.Err)
}

func (e *RendererError) Unwrap() error { return e.Err }

type Config struct {
	TempDir      string
	ProbeTimeout time.Duration
}

type Renderer struct {
	cfg    Config
	logger *zap.Logger
}

var _ port.SelectiveBlurRenderer = (*Renderer)(nil)

func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	return &Renderer{cfg: cfg, logger: logger}
}

// sigmaFor maps the service's blur strength scale onto a Gaussian sigma.
func sigmaFor(strength int) float64 {
	sigma := float64(strength) / 100.0
	if sigma < 1 {
		sigma = 1
	}
	if sigma > 50 {
		sigma = 50
	}
	return sigma
}

// RenderSelectiveBlur decodes every frame of the video, blurs the frames
// whose timestamps fall inside a blur segment, and re-encodes the sequence
// together with the source audio track.
func (r *Renderer) RenderSelectiveBlur(ctx context.Context, video entity.Artifact, segments []entity.Segment) (entity.Artifact, error) {
	if video.Empty() {
		return entity.Artifact{}, &RendererError{Op: "load", Err: fmt.Errorf("video payload is empty")}
	}

	workDir, err := os.MkdirTemp(r.cfg.TempDir, "selective-blur-")
	if err != nil {
		return entity.Artifact{}, &RendererError{Op: "workdir", Err: err}
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input.mp4")
	if err := os.WriteFile(inputPath, video.Bytes, 0o644); err != nil {
		return entity.Artifact{}, &RendererError{Op: "load", Err: err}
	}

	info, err := r.probe(ctx, inputPath)
	if err != nil {
		return entity.Artifact{}, &RendererError{Op: "probe", Err: err}
	}

	framesDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return entity.Artifact{}, &RendererError{Op: "workdir", Err: err}
	}

	frames, err := r.decodeFrames(ctx, inputPath, framesDir)
	if err != nil {
		return entity.Artifact{}, &RendererError{Op: "decode", Err: err}
	}

	blurred := 0
	for i, framePath := range frames {
		select {
		case <-ctx.Done():
			return entity.Artifact{}, &RendererError{Op: "filter", Err: ctx.Err()}
		default:
		}

		// Time of the frame's midpoint decides segment membership.
		t := (float64(i) + 0.5) / info.frameRate
		seg, active := activeBlurSegment(segments, t)
		if !active {
			continue
		}
		if err := blurFrame(framePath, seg); err != nil {
			return entity.Artifact{}, &RendererError{Op: "filter", Err: err}
		}
		blurred++
	}

	outputPath := filepath.Join(workDir, "output.mp4")
	if err := r.encode(ctx, framesDir, inputPath, outputPath, info.frameRate); err != nil {
		return entity.Artifact{}, &RendererError{Op: "encode", Err: err}
	}

	payload, err := os.ReadFile(outputPath)
	if err != nil {
		return entity.Artifact{}, &RendererError{Op: "encode", Err: err}
	}
	if len(payload) == 0 {
		return entity.Artifact{}, &RendererError{Op: "encode", Err: fmt.Errorf("encoded output is empty")}
	}

	r.logger.Info("selective blur rendered",
		zap.String("artifact_id", video.ID),
		zap.Int("frames", len(frames)),
		zap.Int("blurred_frames", blurred),
		zap.Float64("fps", info.frameRate),
	)

	return entity.NewArtifact(video.ID, "", video.ID+"_selective_blur.mp4", "video/mp4", payload), nil
}

func activeBlurSegment(segments []entity.Segment, t float64) (entity.Segment, bool) {
	for _, s := range segments {
		if s.Kind == entity.KindBlur && s.Contains(t) {
			return s, true
		}
	}
	return entity.Segment{}, false
}

func blurFrame(framePath string, seg entity.Segment) error {
	img, err := imaging.Open(framePath)
	if err != nil {
		return fmt.Errorf("open frame %s: %w", filepath.Base(framePath), err)
	}
	strength := entity.DefaultBlurStrength
	if seg.Blur != nil {
		strength = seg.Blur.Strength
	}
	out := imaging.Blur(img, sigmaFor(strength))
	if err := imaging.Save(out, framePath); err != nil {
		return fmt.Errorf("save frame %s: %w", filepath.Base(framePath), err)
	}
	return nil
}

func (r *Renderer) decodeFrames(ctx context.Context, inputPath, framesDir string) ([]string, error) {
	pattern := filepath.Join(framesDir, "frame_%06d.png")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-vsync", "0",
		"-y",
		pattern,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w, output: %s", err, string(output))
	}

	frames, err := filepath.Glob(filepath.Join(framesDir, "*.png"))
	if err != nil {
		return nil, fmt.Errorf("glob frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames decoded from video")
	}
	sort.Strings(frames)
	return frames, nil
}

func (r *Renderer) encode(ctx context.Context, framesDir, inputPath, outputPath string, fps float64) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-framerate", fmt.Sprintf("%g", fps),
		"-i", filepath.Join(framesDir, "frame_%06d.png"),
		"-i", inputPath,
		"-map", "0:v:0",
		"-map", "1:a:0?",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-shortest",
		"-y",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg encode: %w, output: %s", err, string(output))
	}
	return nil
}
