package port

import "context"

// FailureNotifier informs the uploader that their anonymization job failed
// permanently. Best effort: the worker never blocks or fails a job on it.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, userEmail string, jobID string, videoKey string, errorMsg string) error
}
