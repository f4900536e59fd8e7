package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/metrics"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/retry"
	"github.com/willianmendesf/whatsapp-sender/internal/tracing"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// DeliveryStore persists terminal delivery outcomes.
type DeliveryStore interface {
	SaveDelivery(ctx context.Context, record *models.DeliveryRecord) error
}

// MediaSource resolves a caller media spec into a transport object.
type MediaSource interface {
	Resolve(ctx context.Context, spec *models.MediaSpec) (*types.MediaObject, error)
}

// DeliveryService runs one request through the primary send and, when that
// fails, the fallback list.
type DeliveryService struct {
	sender   MessageSender
	media    MediaSource
	fallback *FallbackResolver
	store    DeliveryStore
	logger   *logrus.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewDeliveryService creates a delivery service. store may be nil.
func NewDeliveryService(sender MessageSender, media MediaSource, fallback *FallbackResolver, store DeliveryStore, pacing PacingConfig, logger *logrus.Logger) *DeliveryService {
	return &DeliveryService{
		sender:   sender,
		media:    media,
		fallback: fallback,
		store:    store,
		logger:   logger,
		sleep:    retry.Sleep,
		jitter:   pacing.Jitter,
	}
}

// Process is the dispatcher's Processor.
func (s *DeliveryService) Process(ctx context.Context, req *models.DeliveryRequest) models.DispatchOutcome {
	ctx, span := tracing.StartSpan(ctx, "delivery.process",
		attribute.String("delivery.request_id", req.ID),
		attribute.String("delivery.target_type", string(req.TargetType)),
		attribute.Bool("delivery.has_media", req.Media != nil),
		attribute.Int("delivery.fallback_entries", len(req.Fallbacks)),
	)
	defer span.End()

	start := time.Now()
	outcome := models.DispatchOutcome{RequestID: req.ID}

	chatID, err := s.sendPrimary(ctx, req)
	outcome.ChatID = chatID

	entry := s.logger.WithFields(logrus.Fields{
		LogFieldRequestID:  req.ID,
		LogFieldChatID:     ChatIDField(ctx, chatID),
		LogFieldTargetType: string(req.TargetType),
	})

	if err == nil {
		outcome.Status = models.DispatchSucceeded
		entry.Info("Primary message delivered")
		tracing.SetSpanStatus(ctx, codes.Ok, "")
	} else {
		outcome.PrimaryError = err
		reason := PrimaryFailureReason(err)
		entry = entry.WithField(LogFieldReason, reason)
		tracing.RecordError(ctx, err)
		apperrors.LogError(entry, err, "Primary delivery failed")
		metrics.IncrementCounter(metrics.PrimaryFailuresTotal, map[string]string{
			LogFieldReason: reason,
		}, "Failed primary deliveries by cause")

		if UsableFallbacks(req.Fallbacks) {
			outcome.FallbackResults = s.fallback.Resolve(ctx, FailureContext{
				RequestID:  req.ID,
				TargetType: req.TargetType,
				Target:     req.RawIdentifier,
				Text:       req.Text,
				Reason:     err,
				FailedAt:   time.Now(),
			}, req.Fallbacks)
			outcome.Status = models.DispatchReportedPartial
		} else {
			outcome.Status = models.DispatchReportedFailure
			entry.Warn("No usable fallback recipients")
		}
	}

	outcome.CompletedAt = time.Now()
	tracing.AddSpanAttributes(ctx, attribute.String("delivery.status", string(outcome.Status)))

	metrics.IncrementCounter(metrics.DeliveriesTotal, map[string]string{
		LogFieldStatus: string(outcome.Status),
	}, "Delivery requests by terminal status")
	metrics.RecordTimer(metrics.DeliveryDuration, time.Since(start), map[string]string{
		LogFieldTargetType: string(req.TargetType),
	}, "Time from dispatch to terminal outcome")

	s.record(ctx, req, outcome)
	return outcome
}

// sendPrimary delivers the request to its own target. Media goes first with
// its caption; a distinct text body follows as a separate, paced message.
// Mentions of the text body must resolve before the media send.
func (s *DeliveryService) sendPrimary(ctx context.Context, req *models.DeliveryRequest) (string, error) {
	chatID, err := NormalizeChatID(req.TargetType, req.RawIdentifier)
	if err != nil {
		return "", apperrors.NewPrimarySendError("normalize", err)
	}
	LogDelivery(ctx, s.logger, req.ID, chatID, "primary")

	if req.Media == nil {
		if _, err := s.sender.Send(ctx, chatID, OutboundContent{Text: req.Text, Mentions: req.Mentions}); err != nil {
			return chatID, apperrors.NewPrimarySendError("send_text", err)
		}
		return chatID, nil
	}

	obj, err := s.media.Resolve(ctx, req.Media)
	if err != nil {
		return chatID, apperrors.NewPrimarySendError("media", err)
	}

	caption := req.Media.Caption
	textFollows := strings.TrimSpace(req.Text) != "" && req.Text != caption

	mediaContent := OutboundContent{Text: caption, Media: obj}
	if textFollows {
		mediaContent.RequiredMentions = req.Mentions
	} else {
		mediaContent.Mentions = req.Mentions
	}
	if _, err := s.sender.Send(ctx, chatID, mediaContent); err != nil {
		return chatID, apperrors.NewPrimarySendError("send_media", err)
	}

	if !textFollows {
		return chatID, nil
	}

	if err := s.sleep(ctx, s.jitter()); err != nil {
		return chatID, apperrors.NewPrimarySendError("send_text", err)
	}
	if _, err := s.sender.Send(ctx, chatID, OutboundContent{Text: req.Text, Mentions: req.Mentions}); err != nil {
		return chatID, apperrors.NewPrimarySendError("send_text", err)
	}
	return chatID, nil
}

func (s *DeliveryService) record(ctx context.Context, req *models.DeliveryRequest, outcome models.DispatchOutcome) {
	if s.store == nil {
		return
	}

	rec := &models.DeliveryRecord{
		ID:              req.ID,
		TargetType:      req.TargetType,
		ChatID:          outcome.ChatID,
		Status:          outcome.Status,
		FallbackResults: outcome.FallbackResults,
		ReceivedAt:      req.ReceivedAt,
		CompletedAt:     outcome.CompletedAt,
	}
	if rec.ChatID == "" {
		rec.ChatID = req.RawIdentifier
	}
	if outcome.PrimaryError != nil {
		rec.FailureReason = outcome.PrimaryError.Error()
	}

	if err := s.store.SaveDelivery(ctx, rec); err != nil {
		apperrors.LogError(s.logger, err, "Failed to record delivery outcome", logrus.Fields{
			LogFieldRequestID: req.ID,
		})
	}
}

// PrimaryFailureReason classifies a primary send failure for logs and
// metrics.
func PrimaryFailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case IsChatNotFound(err):
		return "chat_not_found"
	case hasCode(err, apperrors.ErrCodeMentionUnresolved):
		return "mention_unresolved"
	case hasCode(err, apperrors.ErrCodeMediaDownload), hasCode(err, apperrors.ErrCodeUnsupportedMedia):
		return "media"
	case hasCode(err, apperrors.ErrCodeInvalidTargetType), hasCode(err, apperrors.ErrCodeValidationFailed):
		return "invalid_target"
	case hasCode(err, apperrors.ErrCodeTimeout), hasCode(err, apperrors.ErrCodeTransportNotReady):
		return "transport_unavailable"
	default:
		return "send_failed"
	}
}

// hasCode reports whether any AppError in err's chain carries code.
func hasCode(err error, code apperrors.ErrorCode) bool {
	for ; err != nil; err = stderrors.Unwrap(err) {
		if appErr, ok := err.(*apperrors.AppError); ok && appErr.Code == code {
			return true
		}
	}
	return false
}
