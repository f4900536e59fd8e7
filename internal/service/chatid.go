package service

import (
	"fmt"
	"strings"

	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// ErrInvalidTargetType is matched by errors for unknown target types.
var ErrInvalidTargetType = apperrors.New(apperrors.ErrCodeInvalidTargetType, `Invalid type. Use "group" or "individual".`)

// NormalizeChatID turns a raw identifier into a transport chat id by
// appending the suffix for its target type. Already suffixed ids are
// returned unchanged.
func NormalizeChatID(targetType models.TargetType, raw string) (string, error) {
	id := strings.TrimSpace(raw)

	var suffix string
	switch targetType {
	case models.TargetIndividual:
		suffix = types.IndividualSuffix
	case models.TargetGroup:
		suffix = types.GroupSuffix
	default:
		return "", apperrors.Wrap(ErrInvalidTargetType, apperrors.ErrCodeInvalidTargetType,
			fmt.Sprintf("invalid target type %q", targetType)).
			WithUserMessage(ErrInvalidTargetType.Message)
	}

	if id == "" {
		return "", apperrors.NewValidationError("number", raw, "identifier must not be blank")
	}
	if strings.HasSuffix(id, suffix) {
		return id, nil
	}
	return id + suffix, nil
}
