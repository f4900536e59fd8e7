package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/privacy"
)

// Standard field names used across log calls.
const (
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldSession    = "session"
	LogFieldChatID     = "chat_id"
	LogFieldTargetType = "target_type"
	LogFieldMessageID  = "message_id"

	LogFieldService   = "service"
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldMethod    = "method"

	LogFieldState     = "state"
	LogFieldFromState = "from_state"
	LogFieldEvent     = "event"
	LogFieldAttempt   = "attempt"
	LogFieldStatus    = "status"
	LogFieldReason    = "reason"

	LogFieldDuration   = "duration_ms"
	LogFieldCount      = "count"
	LogFieldQueueDepth = "queue_depth"
	LogFieldSize       = "size_bytes"

	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	LogFieldMediaType = "media_type"
	LogFieldFileName  = "file_name"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the context key for the verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so that identifiers are logged unmasked.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// ChatIDField returns the chat id as it should appear in logs.
func ChatIDField(ctx context.Context, chatID string) string {
	if IsVerboseLogging(ctx) {
		return chatID
	}
	return privacy.MaskChatID(chatID)
}

// LogDelivery logs a delivery step with privacy controls
func LogDelivery(ctx context.Context, logger logrus.FieldLogger, requestID, chatID, step string) {
	logger.WithFields(logrus.Fields{
		LogFieldRequestID: requestID,
		LogFieldChatID:    ChatIDField(ctx, chatID),
		LogFieldOperation: step,
	}).Debug("Delivery step")
}
