package render

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type probeInfo struct {
	duration  float64
	frameRate float64
	width     int
	height    int
}

// probe reads stream metadata with ffprobe. A probe that never returns is
// cut off by the configured timeout, mirroring a video that never fires
// its metadata event.
func (r *Renderer) probe(ctx context.Context, inputPath string) (probeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json",
		inputPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return probeInfo{}, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed struct {
		Streams []struct {
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			FrameRate string `json:"r_frame_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &parsed); err != nil {
		return probeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return probeInfo{}, fmt.Errorf("no video stream found")
	}

	info := probeInfo{
		width:  parsed.Streams[0].Width,
		height: parsed.Streams[0].Height,
	}
	info.duration, _ = strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)

	info.frameRate, err = parseRate(parsed.Streams[0].FrameRate)
	if err != nil {
		return probeInfo{}, err
	}
	return info, nil
}

// parseRate parses ffprobe's rational frame rate ("30000/1001").
func parseRate(rate string) (float64, error) {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frame rate %q: %w", rate, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("parse frame rate %q: invalid denominator", rate)
	}
	return n / d, nil
}
