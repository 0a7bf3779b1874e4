package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T, handler http.Handler) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := New(Config{
		UploadBaseURL:   srv.URL,
		DeliveryBaseURL: srv.URL,
		CloudName:       "testcloud",
		UploadPreset:    "preset123",
		Timeout:         5 * time.Second,
	}, zap.NewNop())
	g.notReady.Backoff = time.Millisecond
	g.uploads.Backoff = time.Millisecond
	return g, srv
}

func TestUpload(t *testing.T) {
	var gotPreset, gotResource, gotFile string
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/testcloud/video/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		gotPreset = r.FormValue("upload_preset")
		gotResource = r.FormValue("resource_type")
		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		f.Close()
		gotFile = header.Filename
		fmt.Fprint(w, `{"public_id":"abc123","secure_url":"https://cdn/abc123.mp4","bytes":9,"duration":30}`)
	}))

	payload := []byte("videodata")
	art, err := g.Upload(context.Background(), "clip.mp4", bytes.NewReader(payload), int64(len(payload)), nil)

	require.NoError(t, err)
	assert.Equal(t, "preset123", gotPreset)
	assert.Equal(t, "video", gotResource)
	assert.Equal(t, "clip.mp4", gotFile)
	assert.Equal(t, "abc123", art.ID)
	assert.Equal(t, payload, art.Bytes, "source payload retained for fallback")
	assert.NotEmpty(t, art.Checksum)
}

func TestUploadReportsProgress(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"public_id":"abc123"}`)
	}))

	var fractions []float64
	_, err := g.Upload(context.Background(), "clip.mp4", strings.NewReader("videodata"), 9,
		func(fraction float64) { fractions = append(fractions, fraction) })

	require.NoError(t, err)
	require.NotEmpty(t, fractions)
	assert.InDelta(t, 1.0, fractions[len(fractions)-1], 1e-9)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
}

func TestUploadServerError(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := g.Upload(context.Background(), "clip.mp4", strings.NewReader("videodata"), 9, nil)

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.StatusCode)
	assert.True(t, ue.IsRetryable())
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestUploadRecoversFromTransientServerError(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"public_id":"abc123"}`)
	}))

	art, err := g.Upload(context.Background(), "clip.mp4", strings.NewReader("videodata"), 9, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "abc123", art.ID)
}

func TestUploadDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad preset", http.StatusBadRequest)
	}))

	_, err := g.Upload(context.Background(), "clip.mp4", strings.NewReader("videodata"), 9, nil)

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.False(t, ue.IsRetryable())
	assert.Equal(t, 1, calls)
}

func TestUploadDecodesLargeResponse(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		padding := strings.Repeat("x", 16*1024)
		fmt.Fprintf(w, `{"context":"%s","public_id":"abc123","secure_url":"https://cdn/abc123.mp4"}`, padding)
	}))

	art, err := g.Upload(context.Background(), "clip.mp4", strings.NewReader("videodata"), 9, nil)

	require.NoError(t, err)
	assert.Equal(t, "abc123", art.ID)
}

func TestUploadRejectsEmptyInput(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := g.Upload(context.Background(), "clip.mp4", strings.NewReader(""), 0, nil)
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = g.Upload(context.Background(), "clip.mp4", nil, 0, nil)
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestExtractSegmentURLShape(t *testing.T) {
	var gotPath string
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, "mp3bytes")
	}))

	art, err := g.ExtractSegment(context.Background(), "abc123", 5.5, 10, "mp3")

	require.NoError(t, err)
	assert.Equal(t, "/testcloud/video/upload/so_5.5,eo_10,f_mp3/abc123.mp3", gotPath)
	assert.Equal(t, "audio/mpeg", art.ContentType)
	assert.Equal(t, []byte("mp3bytes"), art.Bytes)
}

func TestExtractSegmentIsDeterministic(t *testing.T) {
	var paths []string
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, "mp3bytes")
	}))

	first, err := g.ExtractSegment(context.Background(), "abc123", 5.5, 10, "mp3")
	require.NoError(t, err)
	second, err := g.ExtractSegment(context.Background(), "abc123", 5.5, 10, "mp3")
	require.NoError(t, err)

	require.Len(t, paths, 2)
	assert.Equal(t, paths[0], paths[1], "same range always maps to the same derivative URL")
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestConvertToAudioURLShape(t *testing.T) {
	var gotPath string
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, "mp3bytes")
	}))

	_, err := g.ConvertToAudio(context.Background(), "abc123")

	require.NoError(t, err)
	assert.Equal(t, "/testcloud/video/upload/f_mp3,fl_attachment/abc123.mp3", gotPath)
}

func TestApplyBlurRetriesWhileNotReady(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 3 {
			w.WriteHeader(http.StatusLocked)
			return
		}
		assert.Equal(t, "/testcloud/video/upload/e_blur:2000,q_auto:good,f_mp4,fl_attachment/abc123.mp4", r.URL.Path)
		fmt.Fprint(w, "blurredvideo")
	}))

	art, err := g.ApplyBlur(context.Background(), "abc123", 0)

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []byte("blurredvideo"), art.Bytes)
}

func TestApplyBlurGivesUpAfterRetryBudget(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusLocked)
	}))

	_, err := g.ApplyBlur(context.Background(), "abc123", 700)

	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.NotReady())
}

func TestApplyBlurDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusForbidden)
	}))

	_, err := g.ApplyBlur(context.Background(), "abc123", 700)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestReplaceAudioRangeURLShape(t *testing.T) {
	var gotPath string
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, "replacedvideo")
	}))

	art, err := g.ReplaceAudioRange(context.Background(), "vid1", "aud1", 2, 7.25)

	require.NoError(t, err)
	assert.Equal(t, "/testcloud/video/upload/ac_none/l_video:aud1,so_2,eo_7.25,fl_layer_apply/f_mp4,fl_attachment/vid1.mp4", gotPath)
	assert.Equal(t, "video/mp4", art.ContentType)
}

func TestReplaceAudioTrackURLShape(t *testing.T) {
	var gotPath string
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, "replacedvideo")
	}))

	_, err := g.ReplaceAudioTrack(context.Background(), "vid1", "aud1")

	require.NoError(t, err)
	assert.Equal(t, "/testcloud/video/upload/ac_none/l_video:aud1,fl_layer_apply/f_mp4,fl_attachment/vid1.mp4", gotPath)
}

func TestEmptyDerivativeIsAnError(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	_, err := g.ExtractSegment(context.Background(), "abc123", 0, 5, "mp3")
	assert.ErrorIs(t, err, ErrEmptyArtifact)
}

func TestGetMetadata(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/testcloud/video/upload/fl_getinfo/abc123.json", r.URL.Path)
		fmt.Fprint(w, `{"duration":30.5,"width":1920,"height":1080,"frame_rate":29.97,"format":"mp4"}`)
	}))

	meta, err := g.GetMetadata(context.Background(), "abc123")

	require.NoError(t, err)
	assert.Equal(t, 30.5, meta.Duration)
	assert.Equal(t, 1920, meta.Width)
	assert.Equal(t, 1080, meta.Height)
	assert.InDelta(t, 29.97, meta.FrameRate, 1e-9)
}

func TestGetMetadataUnknownArtifact(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := g.GetMetadata(context.Background(), "missing")

	var me *MetadataError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "missing", me.ArtifactID)
	assert.Equal(t, http.StatusNotFound, me.StatusCode)
}

func TestCreateThumbnailURLShape(t *testing.T) {
	var gotPath string
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, "jpegbytes")
	}))

	art, err := g.CreateThumbnail(context.Background(), "abc123", 1.5, 320, 180)

	require.NoError(t, err)
	assert.Equal(t, "/testcloud/video/upload/so_1.5,w_320,h_180,c_fill,f_jpg/abc123.jpg", gotPath)
	assert.Equal(t, "image/jpeg", art.ContentType)
}

func TestDownloadOriginal(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/testcloud/video/upload/abc123.mp4", r.URL.Path)
		fmt.Fprint(w, "originalvideo")
	}))

	art, err := g.Download(context.Background(), "abc123")

	require.NoError(t, err)
	assert.Equal(t, []byte("originalvideo"), art.Bytes)
}

func TestIsNotReady(t *testing.T) {
	assert.True(t, isNotReady(&StatusError{StatusCode: http.StatusLocked}))
	assert.False(t, isNotReady(&StatusError{StatusCode: http.StatusInternalServerError}))
	assert.False(t, isNotReady(errors.New("plain error")))
	assert.False(t, isNotReady(nil))
}
