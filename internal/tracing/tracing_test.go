package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/willianmendesf/whatsapp-sender/internal/models"
)

func TestGenerateRequestID(t *testing.T) {
	a := GenerateRequestID()
	b := GenerateRequestID()

	assert.True(t, strings.HasPrefix(a, "req_"))
	assert.Len(t, a, len("req_")+36)
	assert.NotEqual(t, a, b)
}

func TestWithRequestTracing(t *testing.T) {
	ctx := WithRequestTracing(context.Background(), "")
	assert.NotEmpty(t, GetRequestID(ctx))
	assert.False(t, GetStartTime(ctx).IsZero())

	ctx = WithRequestTracing(context.Background(), "incoming-id")
	assert.Equal(t, "incoming-id", GetRequestID(ctx))
}

func TestGetRequestInfo_EmptyContext(t *testing.T) {
	info := GetRequestInfo(context.Background())
	assert.Empty(t, info.RequestID)
	assert.Empty(t, info.TraceID)
	assert.True(t, info.StartTime.IsZero())
	assert.Equal(t, time.Duration(0), Duration(context.Background()))
}

func TestDuration(t *testing.T) {
	ctx := WithStartTime(context.Background(), time.Now().Add(-50*time.Millisecond))
	assert.GreaterOrEqual(t, Duration(ctx), 50*time.Millisecond)
}

func TestNewTracingManager_Defaults(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tm := NewTracingManager(models.TracingConfig{}, logger)

	assert.Equal(t, "whatsapp-sender", tm.config.ServiceName)
	assert.Equal(t, 0.1, tm.config.SampleRate)
	assert.Equal(t, "localhost:4318", tm.config.OTLPEndpoint)
}

func TestTracingManager_DisabledIsNoop(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tm := NewTracingManager(models.TracingConfig{Enabled: false}, logger)

	require.NoError(t, tm.Initialize(context.Background()))
	assert.Nil(t, tm.tracerProvider)
	assert.NoError(t, tm.Shutdown(context.Background()))
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestTracingManager_StdoutLifecycle(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tm := NewTracingManager(models.TracingConfig{Enabled: true, UseStdout: true, SampleRate: 1}, logger)

	require.NoError(t, tm.Initialize(context.Background()))
	require.NotNil(t, tm.tracerProvider)

	ctx, span := WithOtelTracing(context.Background(), "test-span")
	AddSpanAttributes(ctx, attribute.String("k", "v"))
	RecordError(ctx, errors.New("boom"))
	SetSpanStatus(ctx, codes.Ok, "done")
	assert.NotEmpty(t, GetTraceID(ctx))
	span.End()

	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestSpanHelpers_WithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()

	assert.NotPanics(t, func() {
		AddSpanAttributes(ctx, attribute.Int("n", 1))
		SetSpanStatus(ctx, codes.Error, "x")
		RecordError(ctx, errors.New("x"))
	})
}
