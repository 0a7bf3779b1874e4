package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/anonvid/anonvid-processing-service/internal/domain/entity"
	"github.com/anonvid/anonvid-processing-service/internal/domain/port"
	"github.com/anonvid/anonvid-processing-service/internal/infra/metrics"
	"github.com/anonvid/anonvid-processing-service/internal/infra/voice"
)

const (
	// minArtifactBytes is the floor below which a payload is treated as an
	// empty or corrupt derivative.
	minArtifactBytes = 1000

	// minClipBytes is the floor below which an extracted audio clip is
	// considered silence or too short to convert.
	minClipBytes = 1000
)

// fallbackWarning is surfaced to the user whenever processing could not be
// completed and the original upload was returned instead.
const fallbackWarning = "Processing failed, but your complete original video is preserved and ready for download."

// AnonymizeInput is one pipeline run: the source video plus the user's
// timeline annotations.
type AnonymizeInput struct {
	VideoName      string
	Video          []byte
	Segments       []entity.Segment
	VoiceID        string
	BlurWholeVideo bool
	Progress       port.ProgressSink
}

// AnonymizeVideoUseCase sequences upload, per-segment voice conversion,
// audio replacement, blur, and validation against the two remote gateways,
// and owns the fallback policy that guarantees the user's source video is
// never lost.
type AnonymizeVideoUseCase struct {
	transform port.TransformGateway
	voice     port.VoiceConverter
	renderer  port.SelectiveBlurRenderer
	logger    *zap.Logger
}

func NewAnonymizeVideoUseCase(
	transform port.TransformGateway,
	converter port.VoiceConverter,
	renderer port.SelectiveBlurRenderer,
	logger *zap.Logger,
) *AnonymizeVideoUseCase {
	return &AnonymizeVideoUseCase{
		transform: transform,
		voice:     converter,
		renderer:  renderer,
		logger:    logger,
	}
}

type run struct {
	input    AnonymizeInput
	sink     port.ProgressSink
	tracker  entity.ProgressTracker
	state    entity.PipelineState
	notes    []string
	original entity.Artifact
	duration float64
}

func (r *run) emit(percent float64, step string) {
	r.sink.Publish(r.tracker.Event(percent, step))
}

func (r *run) note(format string, args ...any) {
	r.notes = append(r.notes, fmt.Sprintf(format, args...))
}

func (r *run) advance(stage entity.Stage) {
	r.state, _ = r.state.Advance(stage)
}

// Run executes the pipeline. The returned result always carries a usable
// artifact; an error is returned only when even the fallback path could
// not recover the original upload.
func (uc *AnonymizeVideoUseCase) Run(ctx context.Context, input AnonymizeInput) (*entity.PipelineResult, error) {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "AnonymizeVideo.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("video.name", input.VideoName),
		attribute.Int("segments.count", len(input.Segments)),
	)

	r := &run{input: input, sink: input.Progress, state: entity.NewPipelineState()}
	if r.sink == nil {
		r.sink = port.NopProgress
	}

	original, err := uc.upload(ctx, r)
	if err != nil {
		uc.logger.Error("source upload failed", zap.Error(err))
		return uc.fallback(ctx, r, err)
	}
	r.original = original

	converted := uc.processVoiceSegments(ctx, r)

	current, err := uc.applyAudio(ctx, r, original, converted)
	if err != nil {
		return uc.fallback(ctx, r, err)
	}

	current, err = uc.applyBlur(ctx, r, current)
	if err != nil {
		return uc.fallback(ctx, r, err)
	}

	r.advance(entity.StageValidating)
	r.emit(95, "Finalizing your video...")
	if current.Size() < minArtifactBytes {
		uc.logger.Warn("processed artifact below size threshold, falling back",
			zap.Int64("bytes", current.Size()),
		)
		return uc.fallback(ctx, r, fmt.Errorf("processed artifact is empty or truncated (%d bytes)", current.Size()))
	}

	r.advance(entity.StageDone)
	r.emit(100, "Processing complete!")
	return &entity.PipelineResult{Artifact: current, Duration: r.duration, Notes: r.notes}, nil
}

// upload pushes the source video; byte progress is mapped onto the
// pipeline's initial 10-30% band.
func (uc *AnonymizeVideoUseCase) upload(ctx context.Context, r *run) (entity.Artifact, error) {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "stage.upload")
	defer span.End()

	start := time.Now()
	r.advance(entity.StageUploading)
	r.emit(10, "Preparing your video for processing...")

	artifact, err := uc.transform.Upload(ctx, r.input.VideoName,
		bytes.NewReader(r.input.Video), int64(len(r.input.Video)),
		func(fraction float64) {
			r.emit(10+fraction*20, "Preparing your video for processing...")
		},
	)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("upload source video: %w", err)
	}

	// Duration is informational only; a metadata failure never aborts a run.
	if meta, merr := uc.transform.GetMetadata(ctx, artifact.ID); merr == nil {
		r.duration = meta.Duration
		if entity.IsLongVideo(meta.Duration) {
			uc.logger.Info("long video accepted, processing may take a while",
				zap.Float64("duration_seconds", meta.Duration),
			)
		}
	} else {
		uc.logger.Warn("metadata lookup failed", zap.Error(merr))
	}

	metrics.StageDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	r.emit(30, "Processing video content...")
	return artifact, nil
}

// processVoiceSegments converts each voice segment in turn. Per-segment
// failures are logged, noted, and never abort the batch. Segments are
// processed in start-ascending order so later ranges win when overlaps
// are replaced sequentially.
func (uc *AnonymizeVideoUseCase) processVoiceSegments(ctx context.Context, r *run) []entity.Segment {
	voiceSegs := entity.FilterByKind(r.input.Segments, entity.KindVoice)
	if len(voiceSegs) == 0 {
		return nil
	}

	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "stage.voice_segments")
	defer span.End()

	start := time.Now()
	r.advance(entity.StageVoiceSegments)

	sort.SliceStable(voiceSegs, func(i, j int) bool {
		return voiceSegs[i].Start < voiceSegs[j].Start
	})

	var converted []entity.Segment
	total := len(voiceSegs)
	for i, seg := range voiceSegs {
		r.emit(30+float64(i)/float64(total)*25, fmt.Sprintf("Processing audio segment %d/%d...", i+1, total))

		log := uc.logger.With(
			zap.String("segment_id", seg.ID.String()),
			zap.Float64("start", seg.Start),
			zap.Float64("end", seg.End),
		)

		result, ok := uc.convertSegment(ctx, r, seg, i, log)
		if !ok {
			continue
		}
		converted = append(converted, result)
		metrics.VoiceSegmentsTotal.WithLabelValues("converted").Inc()
	}

	metrics.StageDuration.WithLabelValues("voice_segments").Observe(time.Since(start).Seconds())
	r.emit(55, "Processing video content...")
	return converted
}

func (uc *AnonymizeVideoUseCase) convertSegment(ctx context.Context, r *run, seg entity.Segment, idx int, log *zap.Logger) (entity.Segment, bool) {
	clip, err := uc.transform.ExtractSegment(ctx, r.original.ID, seg.Start, seg.End, "mp3")
	if err != nil {
		log.Warn("audio extraction failed, skipping segment", zap.Error(err))
		r.note("segment %d skipped: audio extraction failed", idx+1)
		metrics.VoiceSegmentsTotal.WithLabelValues("extract_failed").Inc()
		return entity.Segment{}, false
	}

	if clip.Size() < minClipBytes {
		log.Warn("extracted clip implausibly small, skipping segment", zap.Int64("bytes", clip.Size()))
		r.note("segment %d skipped: extracted audio too short", idx+1)
		metrics.VoiceSegmentsTotal.WithLabelValues("skipped_short").Inc()
		return entity.Segment{}, false
	}

	conversion, err := uc.voice.Convert(ctx, fmt.Sprintf("segment_%d.mp3", idx), clip.Bytes, r.input.VoiceID)
	switch {
	case errors.Is(err, voice.ErrSkipSegmentLowVolume):
		log.Warn("segment volume too low, skipping")
		r.note("segment %d skipped: volume too low", idx+1)
		metrics.VoiceSegmentsTotal.WithLabelValues("skipped_low_volume").Inc()
		return entity.Segment{}, false
	case errors.Is(err, voice.ErrSkipSegmentConversionFailed):
		log.Warn("voice conversion failed, skipping")
		r.note("segment %d skipped: voice conversion failed", idx+1)
		metrics.VoiceSegmentsTotal.WithLabelValues("skipped_conversion_failed").Inc()
		return entity.Segment{}, false
	case err != nil:
		log.Warn("voice conversion error, skipping segment", zap.Error(err))
		r.note("segment %d skipped: voice conversion error", idx+1)
		metrics.VoiceSegmentsTotal.WithLabelValues("error").Inc()
		return entity.Segment{}, false
	}

	audio, err := uc.voice.FetchConverted(ctx, conversion.AudioURL)
	if err != nil {
		log.Warn("converted audio download failed, skipping segment", zap.Error(err))
		r.note("segment %d skipped: converted audio unavailable", idx+1)
		metrics.VoiceSegmentsTotal.WithLabelValues("error").Inc()
		return entity.Segment{}, false
	}

	uploaded, err := uc.transform.Upload(ctx, fmt.Sprintf("converted_%d.mp3", idx),
		bytes.NewReader(audio), int64(len(audio)), nil)
	if err != nil {
		log.Warn("converted audio re-upload failed, skipping segment", zap.Error(err))
		r.note("segment %d skipped: converted audio upload failed", idx+1)
		metrics.VoiceSegmentsTotal.WithLabelValues("error").Inc()
		return entity.Segment{}, false
	}

	out := seg
	out.Voice = &entity.VoiceParams{ConvertedAudio: &uploaded}
	return out, true
}

// applyAudio replaces the audio track for each converted segment's range
// in turn, re-uploading the intermediate result so each replacement
// operates on the previous one. Zero converted segments pass the original
// through unchanged.
func (uc *AnonymizeVideoUseCase) applyAudio(ctx context.Context, r *run, current entity.Artifact, converted []entity.Segment) (entity.Artifact, error) {
	if len(converted) == 0 {
		return current, nil
	}

	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "stage.applying_audio")
	defer span.End()

	start := time.Now()
	r.advance(entity.StageApplyingAudio)
	r.emit(55, "Applying audio changes...")

	endBand := 70.0
	if r.input.BlurWholeVideo || len(entity.FilterByKind(r.input.Segments, entity.KindBlur)) > 0 {
		endBand = 80.0
	}

	for i, seg := range converted {
		replaced, err := uc.transform.ReplaceAudioRange(ctx, current.ID, seg.Voice.ConvertedAudio.ID, seg.Start, seg.End)
		if err != nil {
			return entity.Artifact{}, fmt.Errorf("replace audio for segment %d: %w", i+1, err)
		}

		// Each replacement must operate on the previous one, and a pending
		// whole-video blur transforms by remote id, so the local derivative
		// is re-uploaded in both cases.
		if i < len(converted)-1 || r.input.BlurWholeVideo {
			current, err = uc.transform.Upload(ctx, replaced.Name,
				bytes.NewReader(replaced.Bytes), replaced.Size(), nil)
			if err != nil {
				return entity.Artifact{}, fmt.Errorf("re-upload intermediate result: %w", err)
			}
		} else {
			current = replaced
		}
		r.emit(55+float64(i+1)/float64(len(converted))*(endBand-55), "Applying audio changes...")
	}

	metrics.StageDuration.WithLabelValues("applying_audio").Observe(time.Since(start).Seconds())
	return current, nil
}

// applyBlur applies whole-video blur when requested. Blur segments are
// rendered frame by frame instead, since the gateway's range-plus-filter
// combination is not reliable end to end.
func (uc *AnonymizeVideoUseCase) applyBlur(ctx context.Context, r *run, current entity.Artifact) (entity.Artifact, error) {
	blurSegs := entity.FilterByKind(r.input.Segments, entity.KindBlur)
	if !r.input.BlurWholeVideo && len(blurSegs) == 0 {
		return current, nil
	}

	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "stage.applying_blur")
	defer span.End()

	start := time.Now()
	r.advance(entity.StageApplyingBlur)

	if r.input.BlurWholeVideo {
		r.emit(80, "Applying blur to entire video...")

		blurred, err := uc.transform.ApplyBlur(ctx, current.ID, entity.DefaultBlurStrength)
		if err != nil {
			return entity.Artifact{}, fmt.Errorf("apply whole-video blur: %w", err)
		}
		current = blurred

		if len(blurSegs) > 0 {
			r.note("whole-video blur covers the %d selected blur segment(s)", len(blurSegs))
		}
	} else {
		r.emit(80, "Applying blur to selected segments...")

		rendered, err := uc.renderer.RenderSelectiveBlur(ctx, current, blurSegs)
		if err != nil {
			return entity.Artifact{}, fmt.Errorf("render selective blur: %w", err)
		}
		current = rendered
		r.note("selective blur re-encoded the video; the output container may differ from the input")
	}

	metrics.StageDuration.WithLabelValues("applying_blur").Observe(time.Since(start).Seconds())
	r.emit(90, "Finalizing your video...")
	return current, nil
}

// fallback recovers the original, unmodified upload after an unrecoverable
// stage failure: first from the remote service, then from the retained
// source bytes. Only when neither is available does the run fail with no
// artifact.
func (uc *AnonymizeVideoUseCase) fallback(ctx context.Context, r *run, cause error) (*entity.PipelineResult, error) {
	metrics.FallbacksTotal.Inc()
	r.advance(entity.StageFailed)
	uc.logger.Warn("pipeline failed, returning original video", zap.Error(cause))

	var original entity.Artifact
	if r.original.ID != "" {
		art, err := uc.transform.Download(ctx, r.original.ID)
		if err == nil && art.Size() > 0 {
			original = art
		} else if err != nil {
			uc.logger.Warn("could not re-fetch original upload", zap.Error(err))
		}
	}
	if original.Empty() && len(r.input.Video) > 0 {
		original = entity.NewArtifact(r.original.ID, r.original.URL, r.input.VideoName, "video/mp4", r.input.Video)
	}
	if original.Empty() {
		return nil, fmt.Errorf("processing failed and the original video could not be recovered: %w", cause)
	}

	r.emit(100, "Returning your original video")
	return &entity.PipelineResult{
		Artifact: original,
		Duration: r.duration,
		Notes:    r.notes,
		Warning:  fallbackWarning,
	}, nil
}
