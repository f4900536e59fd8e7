package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("type", "x", "invalid"), http.StatusBadRequest},
		{"unsupported media", New(ErrCodeUnsupportedMedia, "video"), http.StatusBadRequest},
		{"invalid target", New(ErrCodeInvalidTargetType, "bad"), http.StatusBadRequest},
		{"not ready", New(ErrCodeTransportNotReady, "down"), http.StatusServiceUnavailable},
		{"api retryable", NewAPIError("/api/sendText", 503, stderrors.New("x")), http.StatusBadGateway},
		{"api client error", NewAPIError("/api/sendText", 400, stderrors.New("x")), http.StatusInternalServerError},
		{"rate limit", NewRateLimitError(10, "1m"), http.StatusTooManyRequests},
		{"plain", stderrors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestNewAPIError_Retryable(t *testing.T) {
	assert.True(t, NewAPIError("/api/x", 500, nil).Retryable)
	assert.True(t, NewAPIError("/api/x", 429, nil).Retryable)
	assert.True(t, NewAPIError("/api/x", 408, nil).Retryable)
	assert.False(t, NewAPIError("/api/x", 404, nil).Retryable)
}

func TestLogError(t *testing.T) {
	logger, hook := test.NewNullLogger()

	LogError(logger, NewAPIError("/api/sendText", 502, stderrors.New("bad gateway")), "send failed")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, ErrCodeWhatsAppAPI, hook.LastEntry().Data["error_code"])
	assert.Equal(t, "/api/sendText", hook.LastEntry().Data["endpoint"])

	LogError(logger, NewFallbackSendError("5511", stderrors.New("x")), "fallback failed", logrus.Fields{"extra": 1})
	require.Len(t, hook.Entries, 2)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, 1, hook.LastEntry().Data["extra"])
}
