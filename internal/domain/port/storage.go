package port

import (
	"context"
	"io"
)

// VideoStorage is the worker's object store for source uploads and
// anonymized results.
type VideoStorage interface {
	DownloadVideo(ctx context.Context, objectKey string, destPath string) error
	UploadResult(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
}
