package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anonvid/anonvid-processing-service/internal/domain/entity"
)

type fakeStorage struct {
	video       []byte
	downloadErr error
	uploadErr   error
	uploadedKey string
	uploaded    []byte
}

func (f *fakeStorage) DownloadVideo(_ context.Context, _ string, destPath string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	return os.WriteFile(destPath, f.video, 0o644)
}

func (f *fakeStorage) UploadResult(_ context.Context, objectKey string, r io.Reader, _ int64, _ string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.uploadedKey = objectKey
	f.uploaded = payload
	return nil
}

type fakePublisher struct {
	statuses [][]byte
	progress [][]byte
	dlq      [][]byte
	reasons  []string
}

func (f *fakePublisher) PublishStatus(_ context.Context, msg []byte) error {
	f.statuses = append(f.statuses, msg)
	return nil
}

func (f *fakePublisher) PublishProgress(_ context.Context, msg []byte) error {
	f.progress = append(f.progress, msg)
	return nil
}

func (f *fakePublisher) PublishToDLQ(_ context.Context, msg []byte, reason string) error {
	f.dlq = append(f.dlq, msg)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeNotifier struct {
	emails []string
}

func (f *fakeNotifier) NotifyFailure(_ context.Context, userEmail, _, _, _ string) error {
	f.emails = append(f.emails, userEmail)
	return nil
}

func newJobUseCase(t *testing.T, storage *fakeStorage, pub *fakePublisher, notifier *fakeNotifier, maxRetries int) *ProcessJobUseCase {
	t.Helper()
	pipeline := NewAnonymizeVideoUseCase(&fakeTransform{}, &fakeVoice{}, &fakeRenderer{}, zap.NewNop())
	return NewProcessJobUseCase(pipeline, storage, pub, pub, pub, notifier, zap.NewNop(),
		ProcessJobConfig{TempDir: t.TempDir(), MaxRetries: maxRetries})
}

func jobMessage(t *testing.T, msg entity.AnonymizeJobMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestExecuteHappyPath(t *testing.T) {
	storage := &fakeStorage{video: pad("source", 5000)}
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}
	uc := newJobUseCase(t, storage, pub, notifier, 3)

	jobID := uuid.New()
	raw := jobMessage(t, entity.AnonymizeJobMessage{
		JobID:    jobID,
		UserID:   "user1",
		VideoKey: "user1/input.mp4",
		FileSize: 5000,
		Segments: []entity.Segment{entity.NewSegment(5, 10, 30, entity.KindVoice)},
	})

	err := uc.Execute(context.Background(), raw)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(storage.uploadedKey, "user1/anonymized_"))
	assert.NotEmpty(t, storage.uploaded)
	assert.Empty(t, pub.dlq)
	assert.Empty(t, notifier.emails)

	require.NotEmpty(t, pub.statuses)
	var status entity.JobStatusMessage
	require.NoError(t, json.Unmarshal(pub.statuses[len(pub.statuses)-1], &status))
	assert.Equal(t, jobID, status.JobID)
	assert.Equal(t, entity.JobStatusCompleted, status.Status)
	assert.Equal(t, storage.uploadedKey, status.ResultKey)
	assert.Empty(t, status.Warning)

	require.NotEmpty(t, pub.progress)
	var last entity.JobProgressMessage
	require.NoError(t, json.Unmarshal(pub.progress[len(pub.progress)-1], &last))
	assert.Equal(t, jobID, last.JobID)
	assert.Equal(t, 100.0, last.Percent)
}

func TestExecuteMalformedMessageGoesToDLQ(t *testing.T) {
	pub := &fakePublisher{}
	uc := newJobUseCase(t, &fakeStorage{}, pub, &fakeNotifier{}, 3)

	err := uc.Execute(context.Background(), []byte("{not json"))

	require.NoError(t, err, "malformed messages are dead-lettered, not redelivered")
	require.Len(t, pub.dlq, 1)
	assert.Contains(t, pub.reasons[0], "unmarshal_error")
}

func TestExecuteRetryableFailureReturnsError(t *testing.T) {
	storage := &fakeStorage{downloadErr: errors.New("minio down")}
	pub := &fakePublisher{}
	uc := newJobUseCase(t, storage, pub, &fakeNotifier{}, 3)

	raw := jobMessage(t, entity.AnonymizeJobMessage{
		JobID:    uuid.New(),
		UserID:   "user1",
		VideoKey: "user1/input.mp4",
	})

	err := uc.Execute(context.Background(), raw)

	require.Error(t, err, "retryable failures propagate so the message is redelivered")
	assert.Empty(t, pub.dlq)
}

func TestExecuteExhaustedRetriesDeadLettersAndNotifies(t *testing.T) {
	storage := &fakeStorage{downloadErr: errors.New("minio down")}
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}
	uc := newJobUseCase(t, storage, pub, notifier, 2)

	raw := jobMessage(t, entity.AnonymizeJobMessage{
		JobID:     uuid.New(),
		UserID:    "user1",
		VideoKey:  "user1/input.mp4",
		UserEmail: "user@example.com",
	})

	// First delivery fails but stays retryable.
	require.Error(t, uc.Execute(context.Background(), raw))
	assert.Empty(t, pub.dlq)

	// Second delivery exhausts the budget.
	require.NoError(t, uc.Execute(context.Background(), raw))
	require.Len(t, pub.dlq, 1)
	assert.Equal(t, []string{"user@example.com"}, notifier.emails)

	var status entity.JobStatusMessage
	require.NoError(t, json.Unmarshal(pub.statuses[len(pub.statuses)-1], &status))
	assert.Equal(t, entity.JobStatusFailed, status.Status)
}

func TestExecuteFallbackResultStillUploads(t *testing.T) {
	storage := &fakeStorage{video: pad("source", 5000)}
	pub := &fakePublisher{}
	uc := NewProcessJobUseCase(
		NewAnonymizeVideoUseCase(&fakeTransform{replaceErr: errors.New("boom")}, &fakeVoice{}, &fakeRenderer{}, zap.NewNop()),
		storage, pub, pub, pub, &fakeNotifier{}, zap.NewNop(),
		ProcessJobConfig{TempDir: t.TempDir(), MaxRetries: 3},
	)

	raw := jobMessage(t, entity.AnonymizeJobMessage{
		JobID:    uuid.New(),
		UserID:   "user1",
		VideoKey: "user1/input.mp4",
		Segments: []entity.Segment{entity.NewSegment(5, 10, 30, entity.KindVoice)},
	})

	err := uc.Execute(context.Background(), raw)
	require.NoError(t, err)

	assert.NotEmpty(t, storage.uploaded, "the preserved original is still delivered")

	var status entity.JobStatusMessage
	require.NoError(t, json.Unmarshal(pub.statuses[len(pub.statuses)-1], &status))
	assert.Equal(t, entity.JobStatusCompleted, status.Status)
	assert.NotEmpty(t, status.Warning)
}
