// Package transform is the client for the external media-transformation
// service. Operations are expressed as ordered transformation tokens
// appended to a delivery URL; fetching that URL performs the transformation
// synchronously from the caller's perspective.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anonvid/anonvid-processing-service/internal/domain/entity"
	"github.com/anonvid/anonvid-processing-service/internal/domain/port"
	"github.com/anonvid/anonvid-processing-service/internal/infra/retry"
)

const (
	notReadyRetries = 3
	notReadyBackoff = 2 * time.Second

	uploadRetries = 2
	uploadBackoff = 2 * time.Second

	maxErrorBody = 4096
)

// Config carries the service endpoints and the upload-profile token,
// supplied by the hosting application.
type Config struct {
	UploadBaseURL   string
	DeliveryBaseURL string
	CloudName       string
	UploadPreset    string
	APIKey          string
	APISecret       string
	Timeout         time.Duration
}

type Gateway struct {
	cfg        Config
	httpClient *http.Client
	notReady   retry.Policy
	uploads    retry.Policy
	logger     *zap.Logger
}

var _ port.TransformGateway = (*Gateway)(nil)

func New(cfg Config, logger *zap.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		notReady: retry.Policy{
			MaxAttempts: notReadyRetries + 1,
			Backoff:     notReadyBackoff,
			Retryable:   isNotReady,
		},
		uploads: retry.Policy{
			MaxAttempts: uploadRetries + 1,
			Backoff:     uploadBackoff,
			Retryable:   isRetryableUpload,
		},
		logger: logger,
	}
}

type uploadResponse struct {
	PublicID  string  `json:"public_id"`
	SecureURL string  `json:"secure_url"`
	Bytes     int64   `json:"bytes"`
	Duration  float64 `json:"duration"`
	Format    string  `json:"format"`
}

// progressReader reports fractional byte progress as the request body is
// consumed by the transport.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    port.UploadProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 && p.fn != nil {
		p.read += int64(n)
		p.fn(float64(p.read) / float64(p.total))
	}
	return n, err
}

// Upload submits a binary via multipart form together with the
// upload-profile token. The source payload is retained on the returned
// artifact so the pipeline can always fall back to it.
func (g *Gateway) Upload(ctx context.Context, name string, r io.Reader, size int64, onProgress port.UploadProgressFunc) (entity.Artifact, error) {
	if r == nil {
		return entity.Artifact{}, ErrNoInput
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("read upload input: %w", err)
	}
	if len(payload) == 0 {
		return entity.Artifact{}, ErrNoInput
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("upload_preset", g.cfg.UploadPreset); err != nil {
		return entity.Artifact{}, fmt.Errorf("write upload form: %w", err)
	}
	if err := w.WriteField("resource_type", "video"); err != nil {
		return entity.Artifact{}, fmt.Errorf("write upload form: %w", err)
	}
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("write upload form: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return entity.Artifact{}, fmt.Errorf("write upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return entity.Artifact{}, fmt.Errorf("close upload form: %w", err)
	}

	url := fmt.Sprintf("%s/%s/video/upload", g.cfg.UploadBaseURL, g.cfg.CloudName)

	g.logger.Info("uploading artifact",
		zap.String("name", name),
		zap.Int("body_bytes", body.Len()),
	)

	// Server-side failures are retried from the buffered form body; the
	// progress callback replays from zero on each attempt.
	var result uploadResponse
	err = g.uploads.Do(ctx, func() error {
		pr := &progressReader{r: bytes.NewReader(body.Bytes()), total: int64(body.Len()), fn: onProgress}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
		if err != nil {
			return fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.ContentLength = int64(body.Len())

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("upload request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &UploadError{StatusCode: resp.StatusCode, Body: string(errBody)}
		}

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read upload response: %w", err)
		}
		if err := json.Unmarshal(respBody, &result); err != nil {
			return fmt.Errorf("decode upload response: %w", err)
		}
		if result.PublicID == "" {
			return fmt.Errorf("upload response missing artifact id")
		}
		return nil
	})
	if err != nil {
		return entity.Artifact{}, err
	}

	g.logger.Info("artifact uploaded",
		zap.String("artifact_id", result.PublicID),
		zap.Int64("bytes", int64(len(payload))),
	)

	return entity.NewArtifact(result.PublicID, result.SecureURL, name, "video/mp4", payload), nil
}

// deliveryURL builds the templated transformation URL. Each group is an
// ordered comma-joined token list; groups are slash-separated between the
// upload path and the artifact id.
func (g *Gateway) deliveryURL(artifactID, ext string, groups ...string) string {
	parts := []string{g.cfg.DeliveryBaseURL, g.cfg.CloudName, "video", "upload"}
	for _, grp := range groups {
		if grp != "" {
			parts = append(parts, grp)
		}
	}
	parts = append(parts, artifactID+"."+ext)
	return strings.Join(parts, "/")
}

// fetch performs one transformation fetch and validates that the payload
// is non-empty before declaring success.
func (g *Gateway) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read fetch response: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrEmptyArtifact
	}
	return payload, nil
}
