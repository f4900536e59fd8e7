package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/retry"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

const eventReadLimit = 1 << 20

// EventStream subscribes to WAHA's websocket endpoint and forwards
// session lifecycle events. The connection is re-established with
// exponential backoff until the context ends.
type EventStream struct {
	baseURL     string
	apiKey      string
	sessionName string
	logger      *logrus.Logger
	backoff     *retry.Backoff
}

// NewEventStream creates an event stream for the configured session
func NewEventStream(config types.ClientConfig, logger *logrus.Logger) *EventStream {
	return &EventStream{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		sessionName: config.SessionName,
		logger:      logger,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}),
	}
}

// StreamURL returns the websocket URL for the session.status subscription.
func (s *EventStream) StreamURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + types.EndpointEvents
	query := url.Values{}
	query.Set("session", s.sessionName)
	query.Add("events", types.EventSessionStatus)
	if s.apiKey != "" {
		query.Set("x-api-key", s.apiKey)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Run blocks until ctx is done, delivering every lifecycle event to handle.
func (s *EventStream) Run(ctx context.Context, handle func(types.LifecycleEvent)) error {
	streamURL, err := s.StreamURL()
	if err != nil {
		return err
	}

	failures := 0
	for {
		connectedAt := time.Now()
		err := s.consume(ctx, streamURL, handle)
		if ctx.Err() != nil {
			return nil
		}

		// a connection that stayed up for a while resets the backoff
		if time.Since(connectedAt) > time.Minute {
			failures = 0
		}
		failures++

		delay := s.backoff.GetNextDelay(failures)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session": s.sessionName,
			"attempt": failures,
			"delay":   delay.String(),
		}).Warn("WhatsApp event stream disconnected, reconnecting")

		if err := retry.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (s *EventStream) consume(ctx context.Context, streamURL string, handle func(types.LifecycleEvent)) error {
	conn, _, err := websocket.Dial(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(eventReadLimit)

	s.logger.WithField("session", s.sessionName).Info("WhatsApp event stream connected")

	for {
		var event types.WebhookEvent
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if errors.Is(err, context.Canceled) {
				conn.Close(websocket.StatusNormalClosure, "shutting down")
			}
			return fmt.Errorf("read event: %w", err)
		}

		if event.Session != "" && event.Session != s.sessionName {
			continue
		}

		lifecycle, ok, err := TranslateEvent(&event)
		if err != nil {
			s.logger.WithError(err).WithField("event", event.Event).Warn("Ignoring malformed WhatsApp event")
			continue
		}
		if !ok {
			s.logger.WithField("event", event.Event).Debug("Ignoring WhatsApp event")
			continue
		}
		handle(lifecycle)
	}
}
