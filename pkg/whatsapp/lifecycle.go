package whatsapp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// LifecycleForStatus maps a WAHA session status onto the lifecycle event it
// signals. Unknown statuses report false.
func LifecycleForStatus(session string, status types.SessionStatus) (types.LifecycleEvent, bool) {
	event := types.LifecycleEvent{
		Session: session,
		Reason:  string(status),
		At:      time.Now(),
	}

	switch status {
	case types.SessionStatusStarting:
		event.Type = types.EventLoadingScreen
	case types.SessionStatusScanQR:
		event.Type = types.EventQR
	case types.SessionStatusWorking:
		event.Type = types.EventReady
	case types.SessionStatusFailed:
		event.Type = types.EventAuthFailure
	case types.SessionStatusStopped:
		event.Type = types.EventDisconnected
	default:
		return types.LifecycleEvent{}, false
	}
	return event, true
}

// TranslateEvent converts a WAHA event envelope into a lifecycle event.
// Events other than session.status report false with a nil error.
func TranslateEvent(event *types.WebhookEvent) (types.LifecycleEvent, bool, error) {
	if event == nil || event.Event != types.EventSessionStatus {
		return types.LifecycleEvent{}, false, nil
	}

	var payload types.SessionStatusPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return types.LifecycleEvent{}, false, fmt.Errorf("decode session.status payload: %w", err)
	}

	session := event.Session
	if session == "" {
		session = payload.Name
	}

	lifecycle, ok := LifecycleForStatus(session, payload.Status)
	if ok && event.Timestamp > 0 {
		lifecycle.At = time.UnixMilli(event.Timestamp)
	}
	return lifecycle, ok, nil
}
