package port

import (
	"context"

	"github.com/anonvid/anonvid-processing-service/internal/domain/entity"
)

// SelectiveBlurRenderer reconstructs a video frame by frame, blurring only
// the frames whose timestamps fall inside the given blur segments. The
// output is a new encoding; the container may differ from the input.
type SelectiveBlurRenderer interface {
	RenderSelectiveBlur(ctx context.Context, video entity.Artifact, segments []entity.Segment) (entity.Artifact, error)
}
