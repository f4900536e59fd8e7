package types

import (
	"encoding/json"
	"strings"
	"time"
)

// SessionStatus is the status string WAHA reports for a session
type SessionStatus string

const (
	SessionStatusStopped  SessionStatus = "STOPPED"
	SessionStatusStarting SessionStatus = "STARTING"
	SessionStatusScanQR   SessionStatus = "SCAN_QR_CODE"
	SessionStatusWorking  SessionStatus = "WORKING"
	SessionStatusFailed   SessionStatus = "FAILED"
)

// Session represents a WhatsApp session
type Session struct {
	Name   string        `json:"name"`
	Status SessionStatus `json:"status"`
	Me     *SessionMe    `json:"me,omitempty"`
}

// SessionMe identifies the account a session is logged in as
type SessionMe struct {
	ID       string `json:"id"`
	PushName string `json:"pushName"`
}

// CreateSessionRequest creates and optionally starts a named session
type CreateSessionRequest struct {
	Name  string `json:"name"`
	Start bool   `json:"start"`
}

// SendMessageRequest represents the base request for sending messages
type SendMessageRequest struct {
	ChatID   string   `json:"chatId"`
	Text     string   `json:"text"`
	Session  string   `json:"session"`
	Mentions []string `json:"mentions,omitempty"`
}

// FileData carries either inline base64 data or a URL for WAHA to fetch
type FileData struct {
	Mimetype string `json:"mimetype"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// MediaMessageRequest represents the request body for media endpoints
type MediaMessageRequest struct {
	ChatID   string   `json:"chatId"`
	Session  string   `json:"session"`
	Caption  string   `json:"caption,omitempty"`
	File     FileData `json:"file"`
	Mentions []string `json:"mentions,omitempty"`
	Convert  bool     `json:"convert,omitempty"`
}

// MediaObject is a resolved attachment ready to hand to the transport
type MediaObject struct {
	Kind     string
	Mimetype string
	Filename string
	Data     string
}

// SendMessageResponse is the message WAHA returns after a send. The id is
// a string on some engines and an object on others.
type SendMessageResponse struct {
	ID        json.RawMessage `json:"id"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// MessageID returns the serialized message id whichever shape WAHA used.
func (r *SendMessageResponse) MessageID() string {
	if r == nil || len(r.ID) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}

	var obj struct {
		Serialized string `json:"_serialized"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(r.ID, &obj); err == nil {
		if obj.Serialized != "" {
			return obj.Serialized
		}
		return obj.ID
	}
	return ""
}

// ErrorResponse is the body WAHA sends with non-2xx statuses
type ErrorResponse struct {
	Message    string `json:"message"`
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// Text returns whichever message field WAHA filled in.
func (e ErrorResponse) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// Contact represents a WhatsApp contact
type Contact struct {
	ID          string `json:"id"`
	Number      string `json:"number"`
	Name        string `json:"name"`
	PushName    string `json:"pushname"`
	ShortName   string `json:"shortName"`
	IsMyContact bool   `json:"isMyContact"`
	IsGroup     bool   `json:"isGroup"`
}

// GetDisplayName returns the best available display name for the contact
func (c *Contact) GetDisplayName() string {
	for _, name := range []string{c.Name, c.PushName, c.ShortName} {
		if strings.TrimSpace(name) != "" {
			return name
		}
	}
	return c.Number
}

// Chat is a resolved conversation on the transport
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"isGroup"`
}

// CheckExistsResponse is returned by the contact existence endpoint
type CheckExistsResponse struct {
	NumberExists bool   `json:"numberExists"`
	ChatID       string `json:"chatId"`
}

// GroupInfo is the subset of group metadata used to resolve a group chat
type GroupInfo struct {
	Subject string `json:"subject"`
	Name    string `json:"name"`
}

// WebhookEvent is the envelope WAHA uses for both webhooks and the
// websocket stream
type WebhookEvent struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Session   string          `json:"session"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SessionStatusPayload is the payload of a session.status event
type SessionStatusPayload struct {
	Name   string        `json:"name"`
	Status SessionStatus `json:"status"`
}

// LifecycleEventType names a transport lifecycle event
type LifecycleEventType string

const (
	EventQR            LifecycleEventType = "qr"
	EventReady         LifecycleEventType = "ready"
	EventAuthenticated LifecycleEventType = "authenticated"
	EventDisconnected  LifecycleEventType = "disconnected"
	EventAuthFailure   LifecycleEventType = "auth_failure"
	EventLoadingScreen LifecycleEventType = "loading_screen"
)

// LifecycleEvent is a transport lifecycle notification
type LifecycleEvent struct {
	Type    LifecycleEventType
	Session string
	Reason  string
	At      time.Time
}

// ClientConfig holds the configuration for the WAHA client
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	SessionName string
	Timeout     time.Duration
	RetryCount  int
}
