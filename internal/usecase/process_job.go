package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/anonvid/anonvid-processing-service/internal/domain/entity"
	"github.com/anonvid/anonvid-processing-service/internal/domain/port"
	"github.com/anonvid/anonvid-processing-service/internal/infra/metrics"
)

// ProcessJobUseCase consumes anonymization job messages, runs the pipeline
// for each one, and pushes the result back to object storage. Attempt
// counts are tracked in memory per job; a redelivered message resumes its
// count until the retry budget is spent and the message is dead-lettered.
type ProcessJobUseCase struct {
	pipeline  *AnonymizeVideoUseCase
	storage   port.VideoStorage
	publisher port.StatusPublisher
	progress  port.ProgressPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	tempDir   string
	maxRetry  int

	mu   sync.Mutex
	jobs map[string]*entity.Job
}

type ProcessJobConfig struct {
	TempDir    string
	MaxRetries int
}

func NewProcessJobUseCase(
	pipeline *AnonymizeVideoUseCase,
	storage port.VideoStorage,
	publisher port.StatusPublisher,
	progress port.ProgressPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessJobConfig,
) *ProcessJobUseCase {
	return &ProcessJobUseCase{
		pipeline:  pipeline,
		storage:   storage,
		publisher: publisher,
		progress:  progress,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		tempDir:   cfg.TempDir,
		maxRetry:  cfg.MaxRetries,
		jobs:      make(map[string]*entity.Job),
	}
}

func (uc *ProcessJobUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessJobUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.AnonymizeJobMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
		attribute.Int("job.segments", len(msg.Segments)),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job := uc.lookupJob(msg)

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runJob(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	uc.forgetJob(job.ID.String())
	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.StageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *ProcessJobUseCase) lookupJob(msg entity.AnonymizeJobMessage) *entity.Job {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if job, ok := uc.jobs[msg.JobID.String()]; ok {
		return job
	}
	job := entity.NewJob(msg.UserID, msg.VideoKey, msg.FileSize, uc.maxRetry)
	job.ID = msg.JobID
	job.SegmentCount = len(msg.Segments)
	uc.jobs[msg.JobID.String()] = job
	return job
}

func (uc *ProcessJobUseCase) forgetJob(id string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	delete(uc.jobs, id)
}

func (uc *ProcessJobUseCase) runJob(
	ctx context.Context,
	job *entity.Job,
	msg entity.AnonymizeJobMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.tempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Pull the source upload from object storage.
	dlStart := time.Now()
	ctx2, spanDl := tracer.Start(ctx, "download_source")
	videoPath := filepath.Join(workDir, "source.mp4")
	if err := uc.storage.DownloadVideo(ctx2, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download source video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_source: "+err.Error(), log)
	}
	spanDl.End()
	metrics.StageDuration.WithLabelValues("download_source").Observe(time.Since(dlStart).Seconds())

	video, err := os.ReadFile(videoPath)
	if err != nil {
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "read_source: "+err.Error(), log)
	}

	result, err := uc.pipeline.Run(ctx, AnonymizeInput{
		VideoName:      filepath.Base(msg.VideoKey),
		Video:          video,
		Segments:       msg.Segments,
		VoiceID:        msg.VoiceID,
		BlurWholeVideo: msg.BlurWholeVideo,
		Progress:       uc.progressSink(ctx, msg.JobID, log),
	})
	if err != nil {
		log.Error("pipeline failed with no recoverable artifact", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "pipeline: "+err.Error(), log)
	}

	// Push the anonymized result back.
	upStart := time.Now()
	ctx3, spanUp := tracer.Start(ctx, "upload_result")
	resultKey := fmt.Sprintf("%s/anonymized_%s.mp4", msg.UserID, job.ID.String())
	if err := uc.storage.UploadResult(ctx3, resultKey,
		bytes.NewReader(result.Artifact.Bytes), result.Artifact.Size(), result.Artifact.ContentType); err != nil {
		spanUp.End()
		log.Error("result upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_result: "+err.Error(), log)
	}
	spanUp.End()
	metrics.StageDuration.WithLabelValues("upload_result").Observe(time.Since(upStart).Seconds())

	job.MarkCompleted(resultKey, result.Duration, result.Warning)
	uc.publishStatus(ctx, job, result.Notes, log)

	log.Info("job completed",
		zap.String("result_key", resultKey),
		zap.Int64("result_bytes", result.Artifact.Size()),
		zap.Bool("fallback", result.Warning != ""),
		zap.Strings("notes", result.Notes),
	)

	return nil
}

// progressSink forwards pipeline progress events to the progress queue.
// Publish failures are logged and dropped; progress is best effort.
func (uc *ProcessJobUseCase) progressSink(ctx context.Context, jobID uuid.UUID, log *zap.Logger) port.ProgressSink {
	return port.ProgressFunc(func(event entity.ProgressEvent) {
		data, _ := json.Marshal(entity.JobProgressMessage{
			JobID:   jobID,
			Percent: event.Percent,
			Step:    event.Step,
		})
		if err := uc.progress.PublishProgress(ctx, data); err != nil {
			log.Warn("failed to publish progress", zap.Error(err))
		}
	})
}

func (uc *ProcessJobUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.AnonymizeJobMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, nil, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessJobUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.AnonymizeJobMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, nil, uc.logger)
	uc.forgetJob(job.ID.String())

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *ProcessJobUseCase) publishStatus(ctx context.Context, job *entity.Job, notes []string, log *zap.Logger) {
	statusMsg := entity.JobStatusMessage{
		JobID:        job.ID,
		UserID:       job.UserID,
		Status:       job.Status,
		VideoKey:     job.VideoKey,
		ResultKey:    job.ResultKey,
		Duration:     job.VideoDuration,
		Warning:      job.Warning,
		Notes:        notes,
		ErrorMessage: job.ErrorMessage,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
