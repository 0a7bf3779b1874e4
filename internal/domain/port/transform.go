package port

import (
	"context"
	"io"

	"github.com/anonvid/anonvid-processing-service/internal/domain/entity"
)

// VideoMetadata describes an artifact as reported by the transformation
// service.
type VideoMetadata struct {
	Duration  float64
	Width     int
	Height    int
	FrameRate float64
	Format    string
}

// UploadProgressFunc receives fractional byte progress in [0,1] while an
// upload is in flight.
type UploadProgressFunc func(fraction float64)

// TransformGateway is the client for the external media-transformation
// service. Every operation returns a fully materialized artifact: the
// implementation must reject empty payloads, since the service sometimes
// answers an empty 200 for not-yet-materialized derivatives.
type TransformGateway interface {
	// Upload submits a binary and returns its remote artifact handle.
	Upload(ctx context.Context, name string, r io.Reader, size int64, onProgress UploadProgressFunc) (entity.Artifact, error)

	// ExtractSegment returns the [start,end) sub-range of the source as a
	// new artifact in the given output format.
	ExtractSegment(ctx context.Context, artifactID string, start, end float64, format string) (entity.Artifact, error)

	// ConvertToAudio transcodes the whole artifact to an mp3 artifact.
	ConvertToAudio(ctx context.Context, artifactID string) (entity.Artifact, error)

	// ApplyBlur blurs the whole artifact at the given strength, retrying
	// bounded "still processing" responses before failing.
	ApplyBlur(ctx context.Context, artifactID string, strength int) (entity.Artifact, error)

	// ReplaceAudioTrack mutes the original audio and overlays the given
	// audio artifact over the full duration.
	ReplaceAudioTrack(ctx context.Context, videoID, audioID string) (entity.Artifact, error)

	// ReplaceAudioRange overlays the audio artifact only within [start,end),
	// muting the original track in that window.
	ReplaceAudioRange(ctx context.Context, videoID, audioID string, start, end float64) (entity.Artifact, error)

	// GetMetadata fetches the artifact's stream description.
	GetMetadata(ctx context.Context, artifactID string) (VideoMetadata, error)

	// CreateThumbnail renders a still at the given timestamp.
	CreateThumbnail(ctx context.Context, artifactID string, timestamp float64, width, height int) (entity.Artifact, error)

	// Download fetches the untransformed original upload.
	Download(ctx context.Context, artifactID string) (entity.Artifact, error)
}
