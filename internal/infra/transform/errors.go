package transform

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyArtifact marks a 200 response whose payload was empty. The
// service answers an empty success for derivatives that have not yet
// materialized, so this is a failure, not an empty result.
var ErrEmptyArtifact = errors.New("transform: artifact payload is empty")

// ErrNoInput marks an upload attempt with no payload.
var ErrNoInput = errors.New("transform: no input provided")

// UploadError is a non-success response from the upload endpoint.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the upload may be worth repeating. Client
// errors (4xx) are permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// MetadataError means the artifact id is unknown to the service.
type MetadataError struct {
	ArtifactID string
	StatusCode int
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata for artifact %q unavailable: HTTP %d", e.ArtifactID, e.StatusCode)
}

// StatusError is a non-success response from a transformation fetch.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transform fetch failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// NotReady reports the "still processing" status the service answers while
// a derivative is being produced. These are retried with a fixed backoff.
func (e *StatusError) NotReady() bool {
	return e.StatusCode == http.StatusLocked
}

func isNotReady(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.NotReady()
}

func isRetryableUpload(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue) && ue.IsRetryable()
}
