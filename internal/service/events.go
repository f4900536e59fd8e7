package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// LifecycleSink receives translated transport lifecycle events.
type LifecycleSink interface {
	HandleEvent(event types.LifecycleEvent)
}

// WebhookHandler feeds WAHA webhook deliveries into the connection state.
type WebhookHandler struct {
	sink    LifecycleSink
	session string
	logger  *logrus.Logger
}

// NewWebhookHandler creates a handler for events of one session.
func NewWebhookHandler(sink LifecycleSink, session string, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{sink: sink, session: session, logger: logger}
}

// Handle applies a webhook event. Events for other sessions and event
// types other than session.status are ignored.
func (h *WebhookHandler) Handle(event *types.WebhookEvent) error {
	if event == nil {
		return nil
	}
	if event.Session != "" && event.Session != h.session {
		h.logger.WithFields(logrus.Fields{
			LogFieldSession: event.Session,
			LogFieldEvent:   event.Event,
		}).Debug("Ignoring webhook for another session")
		return nil
	}

	lifecycle, ok, err := whatsapp.TranslateEvent(event)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed webhook payload")
	}
	if !ok {
		h.logger.WithField(LogFieldEvent, event.Event).Debug("Ignoring webhook event")
		return nil
	}

	h.sink.HandleEvent(lifecycle)
	return nil
}

// StatusPoller periodically reconciles the connection state with the
// session status reported by the transport.
type StatusPoller struct {
	conn     *ConnectionManager
	interval time.Duration
	logger   *logrus.Logger
}

// NewStatusPoller creates a poller. A non-positive interval disables it.
func NewStatusPoller(conn *ConnectionManager, interval time.Duration, logger *logrus.Logger) *StatusPoller {
	return &StatusPoller{conn: conn, interval: interval, logger: logger}
}

// Start polls until ctx ends.
func (p *StatusPoller) Start(ctx context.Context) {
	if p.interval <= 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.WithField("interval", p.interval.String()).Info("Starting session status poller")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Session status poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *StatusPoller) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	if err := p.conn.SyncStatus(pollCtx); err != nil {
		apperrors.LogError(p.logger, err, "Session status poll failed")
	}
}
