package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TargetType selects how an identifier is addressed on the transport.
type TargetType string

const (
	TargetIndividual TargetType = "individual"
	TargetGroup      TargetType = "group"
)

// Valid reports whether t is one of the recognized target types.
func (t TargetType) Valid() bool {
	return t == TargetIndividual || t == TargetGroup
}

// MediaKind is the declared kind of an attached media payload.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
)

// MediaSpec describes an attachment as received from the caller. Data is
// either an http(s) URL or a base64 payload.
type MediaSpec struct {
	Kind     MediaKind `json:"type"`
	Data     string    `json:"data"`
	Filename string    `json:"filename,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}

// Identifiers accepts either a single string or an array of strings.
// Null entries decode as blanks so callers can skip them.
type Identifiers []string

func (ids *Identifiers) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*ids = nil
		return nil
	}

	if len(data) > 0 && data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make(Identifiers, 0, len(raw))
		for _, item := range raw {
			s, err := decodeIdentifier(item)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		*ids = out
		return nil
	}

	s, err := decodeIdentifier(data)
	if err != nil {
		return err
	}
	*ids = Identifiers{s}
	return nil
}

func decodeIdentifier(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("identifier must be a string or number, got %s", string(data))
}

// FallbackTarget is one entry of the caller's fallback list.
type FallbackTarget struct {
	TargetType  TargetType  `json:"type"`
	Identifiers Identifiers `json:"number"`
}

// HasIdentifier reports whether at least one identifier is non-blank.
func (f FallbackTarget) HasIdentifier() bool {
	for _, id := range f.Identifiers {
		if strings.TrimSpace(id) != "" {
			return true
		}
	}
	return false
}

// SendRequest is the JSON body of POST /api/v1/send.
type SendRequest struct {
	Type         string           `json:"type"`
	Number       string           `json:"number"`
	Message      string           `json:"message"`
	Media        *MediaSpec       `json:"media,omitempty"`
	Mentions     []string         `json:"mentions,omitempty"`
	FallbackList []FallbackTarget `json:"fallbackList,omitempty"`
}

// DeliveryRequest is one validated unit of work. It is not modified after
// it is built.
type DeliveryRequest struct {
	ID            string
	TargetType    TargetType
	RawIdentifier string
	Text          string
	Media         *MediaSpec
	Mentions      []string
	Fallbacks     []FallbackTarget
	ReceivedAt    time.Time
}

// DispatchStatus is the terminal state of a processed request.
type DispatchStatus string

const (
	DispatchSucceeded       DispatchStatus = "succeeded"
	DispatchReportedFailure DispatchStatus = "reported_failure"
	DispatchReportedPartial DispatchStatus = "reported_partial"
)

// FallbackStatus is the per-recipient result of a fallback send.
type FallbackStatus string

const (
	FallbackSent   FallbackStatus = "sent"
	FallbackFailed FallbackStatus = "failed"
)

// FallbackResult records the outcome for one attempted fallback identifier.
type FallbackResult struct {
	Identifier string         `json:"number"`
	Status     FallbackStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// DispatchOutcome is the result delivered to the original caller.
type DispatchOutcome struct {
	RequestID       string
	Status          DispatchStatus
	ChatID          string
	PrimaryError    error
	FallbackResults []FallbackResult
	CompletedAt     time.Time
}

// DeliveryRecord is the persisted form of a dispatch outcome.
type DeliveryRecord struct {
	ID              string           `json:"id"`
	TargetType      TargetType       `json:"type"`
	ChatID          string           `json:"chatId"`
	Status          DispatchStatus   `json:"status"`
	FailureReason   string           `json:"failureReason,omitempty"`
	FallbackResults []FallbackResult `json:"fallbackResults,omitempty"`
	ReceivedAt      time.Time        `json:"receivedAt"`
	CompletedAt     time.Time        `json:"completedAt"`
}
