package validation

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	"github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
)

// User facing validation messages
const (
	MsgRequiredFields   = "Required fields: type, number, message."
	MsgInvalidType      = `Invalid type. Use "group" or "individual".`
	MsgUnsupportedVideo = "Video media is not supported."
)

// ValidateSendRequest checks a decoded send body before it is queued.
func ValidateSendRequest(req *models.SendRequest) error {
	if req == nil || strings.TrimSpace(req.Type) == "" ||
		strings.TrimSpace(req.Number) == "" || strings.TrimSpace(req.Message) == "" {
		return errors.New(errors.ErrCodeValidationFailed, "missing required fields").
			WithUserMessage(MsgRequiredFields)
	}

	if !models.TargetType(req.Type).Valid() {
		return errors.NewValidationError("type", req.Type, MsgInvalidType)
	}

	if req.Media != nil {
		if err := ValidateMediaSpec(req.Media); err != nil {
			return err
		}
	}

	for i, mention := range req.Mentions {
		if strings.TrimSpace(mention) == "" {
			return errors.NewValidationError(fmt.Sprintf("mentions[%d]", i), mention, "Mentions must not be blank.")
		}
	}

	return nil
}

// ValidateMediaSpec rejects media the transport cannot send.
func ValidateMediaSpec(media *models.MediaSpec) error {
	switch media.Kind {
	case models.MediaImage, models.MediaAudio, models.MediaDocument:
	case models.MediaVideo:
		return errors.New(errors.ErrCodeUnsupportedMedia, "video media is not supported").
			WithContext("media_type", string(media.Kind)).
			WithUserMessage(MsgUnsupportedVideo)
	default:
		return errors.NewValidationError("media.type", string(media.Kind),
			`Invalid media type. Use "image", "audio" or "document".`)
	}

	if strings.TrimSpace(media.Data) == "" {
		return errors.NewValidationError("media.data", "", "Media data is required.")
	}

	if IsURL(media.Data) {
		return nil
	}
	if _, _, err := ParseInlineData(media.Data); err != nil {
		return errors.NewValidationError("media.data", "", "Media data must be an http(s) URL or base64 content.")
	}
	return nil
}

// IsURL reports whether a media payload is a remote reference.
func IsURL(data string) bool {
	lower := strings.ToLower(strings.TrimSpace(data))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ParseInlineData splits an inline payload into its declared MIME type (if
// it came as a data: URI) and the canonical base64 text.
func ParseInlineData(data string) (string, string, error) {
	payload := strings.TrimSpace(data)
	mimeType := ""

	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return "", "", fmt.Errorf("malformed data URI")
		}
		meta := payload[len("data:"):comma]
		if !strings.HasSuffix(meta, ";base64") {
			return "", "", fmt.Errorf("data URI is not base64 encoded")
		}
		mimeType = strings.TrimSuffix(meta, ";base64")
		payload = payload[comma+1:]
	}

	payload = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return "", "", fmt.Errorf("empty payload")
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return "", "", fmt.Errorf("invalid base64 payload: %w", err)
		}
	}
	return mimeType, base64.StdEncoding.EncodeToString(decoded), nil
}

// BuildDeliveryRequest validates req and converts it into a unit of work.
func BuildDeliveryRequest(req *models.SendRequest, receivedAt time.Time) (*models.DeliveryRequest, error) {
	if err := ValidateSendRequest(req); err != nil {
		return nil, err
	}

	mentions := make([]string, 0, len(req.Mentions))
	for _, m := range req.Mentions {
		mentions = append(mentions, strings.TrimSpace(m))
	}

	var media *models.MediaSpec
	if req.Media != nil {
		copied := *req.Media
		media = &copied
	}

	fallbacks := make([]models.FallbackTarget, len(req.FallbackList))
	for i, f := range req.FallbackList {
		fallbacks[i] = models.FallbackTarget{
			TargetType:  f.TargetType,
			Identifiers: append(models.Identifiers(nil), f.Identifiers...),
		}
	}

	return &models.DeliveryRequest{
		ID:            uuid.NewString(),
		TargetType:    models.TargetType(req.Type),
		RawIdentifier: strings.TrimSpace(req.Number),
		Text:          req.Message,
		Media:         media,
		Mentions:      mentions,
		Fallbacks:     fallbacks,
		ReceivedAt:    receivedAt,
	}, nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes)).
			WithUserMessage("Request body too large.")
	}

	return nil
}

// ValidateSessionName validates session name format and length
func ValidateSessionName(sessionName string) error {
	if sessionName == "" {
		return errors.New(errors.ErrCodeInvalidInput, "session name cannot be empty")
	}

	if len(sessionName) > constants.MaxSessionNameLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("session name too long (max %d characters)", constants.MaxSessionNameLength))
	}

	for _, char := range sessionName {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.New(errors.ErrCodeInvalidInput,
				"session name must contain only letters, numbers, underscores, and dashes")
		}
	}

	return nil
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}
