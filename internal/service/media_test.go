package service

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestResolver() *MediaResolver {
	return NewMediaResolver(models.MediaConfig{MaxDownloadMB: 1, DownloadTimeoutSec: 5}, quietLogger())
}

func TestMediaResolver_NilSpec(t *testing.T) {
	obj, err := newTestResolver().Resolve(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, obj)
}

func TestMediaResolver_RejectsVideoAndUnknownKinds(t *testing.T) {
	for _, kind := range []models.MediaKind{models.MediaVideo, "sticker"} {
		_, err := newTestResolver().Resolve(context.Background(), &models.MediaSpec{Kind: kind, Data: "aGk="})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnsupportedMediaKind)
	}
}

func TestMediaResolver_InlineDefaults(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("hello"))

	tests := []struct {
		kind     models.MediaKind
		mimeType string
		filename string
	}{
		{models.MediaImage, "image/jpeg", "image.jpg"},
		{models.MediaAudio, "audio/mpeg", "audio.mp3"},
		{models.MediaDocument, "application/pdf", "document.pdf"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			obj, err := newTestResolver().Resolve(context.Background(), &models.MediaSpec{Kind: tt.kind, Data: payload})
			require.NoError(t, err)
			assert.Equal(t, string(tt.kind), obj.Kind)
			assert.Equal(t, tt.mimeType, obj.Mimetype)
			assert.Equal(t, tt.filename, obj.Filename)
			assert.Equal(t, payload, obj.Data)
		})
	}
}

func TestMediaResolver_InlineDataURIAndFilename(t *testing.T) {
	spec := &models.MediaSpec{
		Kind:     models.MediaImage,
		Data:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader),
		Filename: "../../etc/chart.png",
	}

	obj, err := newTestResolver().Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "image/png", obj.Mimetype)
	assert.Equal(t, "chart.png", obj.Filename)
}

func TestMediaResolver_InlineInvalid(t *testing.T) {
	_, err := newTestResolver().Resolve(context.Background(), &models.MediaSpec{Kind: models.MediaImage, Data: "%%%not-base64"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMediaDownload, apperrors.GetCode(err))
}

func TestMediaResolver_FetchURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/report.pdf":
			w.Header().Set("Content-Type", "application/pdf; charset=binary")
			_, _ = w.Write([]byte("%PDF-1.4 body"))
		case "/sniff":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngHeader)
		case "/opaque":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte{0x00, 0x01, 0x02})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	resolver := newTestResolver()

	obj, err := resolver.Resolve(context.Background(), &models.MediaSpec{Kind: models.MediaDocument, Data: server.URL + "/files/report.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", obj.Mimetype)
	assert.Equal(t, "report.pdf", obj.Filename)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 body")), obj.Data)

	obj, err = resolver.Resolve(context.Background(), &models.MediaSpec{Kind: models.MediaImage, Data: server.URL + "/sniff"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", obj.Mimetype)
	assert.Equal(t, "image.png", obj.Filename)

	obj, err = resolver.Resolve(context.Background(), &models.MediaSpec{Kind: models.MediaAudio, Data: server.URL + "/opaque"})
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", obj.Mimetype)
	assert.Equal(t, "audio.mp3", obj.Filename)
}

func TestMediaResolver_FetchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 2*1024*1024)))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	resolver := newTestResolver()
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, &models.MediaSpec{Kind: models.MediaImage, Data: server.URL + "/broken"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	_, err = resolver.Resolve(ctx, &models.MediaSpec{Kind: models.MediaImage, Data: server.URL + "/missing"})
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))

	_, err = resolver.Resolve(ctx, &models.MediaSpec{Kind: models.MediaImage, Data: server.URL + "/big"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bytes")

	_, err = resolver.Resolve(ctx, &models.MediaSpec{Kind: models.MediaImage, Data: server.URL + "/empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty body")
}
