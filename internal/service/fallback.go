package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/metrics"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// MessageSender delivers one message to a normalized chat id.
type MessageSender interface {
	Send(ctx context.Context, chatID string, content OutboundContent) (*types.SendMessageResponse, error)
}

// FailureContext describes the primary attempt that failed.
type FailureContext struct {
	RequestID  string
	TargetType models.TargetType
	Target     string
	Text       string
	Reason     error
	FailedAt   time.Time
}

// FallbackResolver delivers to the caller's fallback recipients after a
// primary failure.
type FallbackResolver struct {
	sender MessageSender
	logger *logrus.Logger

	mu   sync.RWMutex
	mode string
}

// NewFallbackResolver creates a resolver using the given content mode.
func NewFallbackResolver(sender MessageSender, mode string, logger *logrus.Logger) *FallbackResolver {
	f := &FallbackResolver{sender: sender, logger: logger}
	f.SetMode(mode)
	return f
}

// SetMode switches between forwarding the original text and sending an
// alert. Unknown modes fall back to forward.
func (f *FallbackResolver) SetMode(mode string) {
	if mode != constants.FallbackModeAlert {
		mode = constants.FallbackModeForward
	}
	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
}

// Mode returns the active content mode.
func (f *FallbackResolver) Mode() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

// UsableFallbacks reports whether at least one entry has a recognized type
// and a non-blank identifier.
func UsableFallbacks(targets []models.FallbackTarget) bool {
	for _, t := range targets {
		if t.TargetType.Valid() && t.HasIdentifier() {
			return true
		}
	}
	return false
}

// Resolve attempts every usable fallback recipient in list order. A failed
// recipient never stops the remaining ones. Returns nil when the list is
// not usable.
func (f *FallbackResolver) Resolve(ctx context.Context, failure FailureContext, targets []models.FallbackTarget) []models.FallbackResult {
	if !UsableFallbacks(targets) {
		return nil
	}

	content := OutboundContent{Text: f.content(failure)}
	var results []models.FallbackResult

	for _, target := range targets {
		if !target.TargetType.Valid() {
			f.logger.WithFields(logrus.Fields{
				LogFieldRequestID:  failure.RequestID,
				LogFieldTargetType: string(target.TargetType),
			}).Warn("Skipping fallback entry with unknown type")
			continue
		}

		for _, raw := range target.Identifiers {
			identifier := strings.TrimSpace(raw)
			if identifier == "" {
				continue
			}
			results = append(results, f.sendOne(ctx, failure.RequestID, target.TargetType, identifier, content))
		}
	}

	return results
}

func (f *FallbackResolver) sendOne(ctx context.Context, requestID string, targetType models.TargetType, identifier string, content OutboundContent) models.FallbackResult {
	result := models.FallbackResult{Identifier: identifier, Status: models.FallbackSent}

	chatID, err := NormalizeChatID(targetType, identifier)
	if err == nil {
		_, err = f.sender.Send(ctx, chatID, content)
	}

	fields := logrus.Fields{
		LogFieldRequestID:  requestID,
		LogFieldChatID:     ChatIDField(ctx, chatID),
		LogFieldTargetType: string(targetType),
	}
	if err != nil {
		result.Status = models.FallbackFailed
		result.Error = err.Error()
		apperrors.LogError(f.logger, apperrors.NewFallbackSendError(identifier, err), "Fallback delivery failed", fields)
	} else {
		f.logger.WithFields(fields).Info("Fallback delivery sent")
	}

	metrics.IncrementCounter(metrics.FallbackSendsTotal, map[string]string{
		LogFieldStatus: string(result.Status),
	}, "Fallback deliveries by outcome")
	return result
}

func (f *FallbackResolver) content(failure FailureContext) string {
	if f.Mode() != constants.FallbackModeAlert {
		return failure.Text
	}

	reason := "unknown error"
	if failure.Reason != nil {
		reason = failure.Reason.Error()
	}
	at := failure.FailedAt
	if at.IsZero() {
		at = time.Now()
	}

	return fmt.Sprintf("Delivery alert: a message to %s %s could not be delivered.\nTime: %s\nError: %s\n\nOriginal message:\n%s",
		failure.TargetType, failure.Target, at.UTC().Format(time.RFC3339), reason, failure.Text)
}
