package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/anonvid/anonvid-processing-service/internal/domain/entity"
	"github.com/anonvid/anonvid-processing-service/internal/domain/port"
)

func offset(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func contentTypeFor(ext string) string {
	switch ext {
	case "mp3":
		return "audio/mpeg"
	case "jpg":
		return "image/jpeg"
	default:
		return "video/mp4"
	}
}

// ExtractSegment returns the [start,end) sub-range of the source as a new
// artifact in the given output format ("mp3", "mp4", ...).
func (g *Gateway) ExtractSegment(ctx context.Context, artifactID string, start, end float64, format string) (entity.Artifact, error) {
	url := g.deliveryURL(artifactID, format,
		fmt.Sprintf("so_%s,eo_%s,f_%s", offset(start), offset(end), format),
	)

	g.logger.Debug("extracting segment",
		zap.String("artifact_id", artifactID),
		zap.Float64("start", start),
		zap.Float64("end", end),
		zap.String("format", format),
	)

	payload, err := g.fetch(ctx, url)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("extract segment [%s,%s): %w", offset(start), offset(end), err)
	}

	name := fmt.Sprintf("%s_%s-%s.%s", artifactID, offset(start), offset(end), format)
	return entity.NewArtifact(artifactID, url, name, contentTypeFor(format), payload), nil
}

// ConvertToAudio transcodes the whole artifact to mp3.
func (g *Gateway) ConvertToAudio(ctx context.Context, artifactID string) (entity.Artifact, error) {
	url := g.deliveryURL(artifactID, "mp3", "f_mp3,fl_attachment")

	payload, err := g.fetch(ctx, url)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("convert to audio: %w", err)
	}
	return entity.NewArtifact(artifactID, url, artifactID+".mp3", "audio/mpeg", payload), nil
}

// ApplyBlur blurs the whole artifact. "Still processing" responses are
// retried up to the bounded budget with a fixed backoff before failing.
func (g *Gateway) ApplyBlur(ctx context.Context, artifactID string, strength int) (entity.Artifact, error) {
	if strength <= 0 {
		strength = entity.DefaultBlurStrength
	}
	url := g.deliveryURL(artifactID, "mp4",
		fmt.Sprintf("e_blur:%d,q_auto:good,f_mp4,fl_attachment", strength),
	)

	g.logger.Info("applying blur",
		zap.String("artifact_id", artifactID),
		zap.Int("strength", strength),
	)

	var payload []byte
	err := g.notReady.Do(ctx, func() error {
		var fetchErr error
		payload, fetchErr = g.fetch(ctx, url)
		if isNotReady(fetchErr) {
			g.logger.Debug("blur derivative not ready, retrying", zap.String("artifact_id", artifactID))
		}
		return fetchErr
	})
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("apply blur: %w", err)
	}

	return entity.NewArtifact(artifactID, url, artifactID+"_blurred.mp4", "video/mp4", payload), nil
}

// ReplaceAudioTrack mutes the original audio track and overlays the given
// audio artifact over the full duration.
func (g *Gateway) ReplaceAudioTrack(ctx context.Context, videoID, audioID string) (entity.Artifact, error) {
	url := g.deliveryURL(videoID, "mp4",
		"ac_none",
		fmt.Sprintf("l_video:%s,fl_layer_apply", audioID),
		"f_mp4,fl_attachment",
	)

	payload, err := g.fetch(ctx, url)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("replace audio track: %w", err)
	}
	return entity.NewArtifact(videoID, url, videoID+"_new_audio.mp4", "video/mp4", payload), nil
}

// ReplaceAudioRange overlays the audio artifact only within [start,end),
// muting the original track in that window.
func (g *Gateway) ReplaceAudioRange(ctx context.Context, videoID, audioID string, start, end float64) (entity.Artifact, error) {
	url := g.deliveryURL(videoID, "mp4",
		"ac_none",
		fmt.Sprintf("l_video:%s,so_%s,eo_%s,fl_layer_apply", audioID, offset(start), offset(end)),
		"f_mp4,fl_attachment",
	)

	g.logger.Debug("replacing audio range",
		zap.String("video_id", videoID),
		zap.String("audio_id", audioID),
		zap.Float64("start", start),
		zap.Float64("end", end),
	)

	payload, err := g.fetch(ctx, url)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("replace audio range [%s,%s): %w", offset(start), offset(end), err)
	}
	return entity.NewArtifact(videoID, url, videoID+"_new_audio.mp4", "video/mp4", payload), nil
}

// GetMetadata fetches the artifact's stream description. An unknown id
// yields a MetadataError.
func (g *Gateway) GetMetadata(ctx context.Context, artifactID string) (port.VideoMetadata, error) {
	url := g.deliveryURL(artifactID, "json", "fl_getinfo")

	payload, err := g.fetch(ctx, url)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusBadRequest) {
			return port.VideoMetadata{}, &MetadataError{ArtifactID: artifactID, StatusCode: se.StatusCode}
		}
		return port.VideoMetadata{}, fmt.Errorf("get metadata: %w", err)
	}

	var info struct {
		Duration  float64 `json:"duration"`
		Width     int     `json:"width"`
		Height    int     `json:"height"`
		FrameRate float64 `json:"frame_rate"`
		Format    string  `json:"format"`
	}
	if err := json.Unmarshal(payload, &info); err != nil {
		return port.VideoMetadata{}, fmt.Errorf("decode metadata: %w", err)
	}

	return port.VideoMetadata{
		Duration:  info.Duration,
		Width:     info.Width,
		Height:    info.Height,
		FrameRate: info.FrameRate,
		Format:    info.Format,
	}, nil
}

// CreateThumbnail renders a still at the given timestamp.
func (g *Gateway) CreateThumbnail(ctx context.Context, artifactID string, timestamp float64, width, height int) (entity.Artifact, error) {
	url := g.deliveryURL(artifactID, "jpg",
		fmt.Sprintf("so_%s,w_%d,h_%d,c_fill,f_jpg", offset(timestamp), width, height),
	)

	payload, err := g.fetch(ctx, url)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("create thumbnail: %w", err)
	}
	name := fmt.Sprintf("%s_%s.jpg", artifactID, offset(timestamp))
	return entity.NewArtifact(artifactID, url, name, "image/jpeg", payload), nil
}

// Download fetches the untransformed original upload. The fallback path
// relies on it to recover the user's source video.
func (g *Gateway) Download(ctx context.Context, artifactID string) (entity.Artifact, error) {
	url := g.deliveryURL(artifactID, "mp4")

	payload, err := g.fetch(ctx, url)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("download original: %w", err)
	}
	return entity.NewArtifact(artifactID, url, artifactID+".mp4", "video/mp4", payload), nil
}
