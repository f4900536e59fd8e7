package integration_test

import (
	"time"

	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/validation"
)

// Test identities
const (
	knownNumber    = "5511999990001"
	unknownNumber  = "5511999990404"
	fallbackNumber = "5511988880002"
	backupNumber   = "5511988880003"
	opsGroup       = "120363000000000001@g.us"
	teammateNumber = "5511977770004"
)

// onePixelPNG is a 1x1 PNG as a data URI.
const onePixelPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func chatID(number string) string { return number + "@c.us" }

func textRequest(targetType models.TargetType, number, message string) *models.SendRequest {
	return &models.SendRequest{
		Type:    string(targetType),
		Number:  number,
		Message: message,
	}
}

func withFallbacks(req *models.SendRequest, targets ...models.FallbackTarget) *models.SendRequest {
	req.FallbackList = targets
	return req
}

func individualFallback(numbers ...string) models.FallbackTarget {
	return models.FallbackTarget{TargetType: models.TargetIndividual, Identifiers: numbers}
}

func buildRequest(req *models.SendRequest) (*models.DeliveryRequest, error) {
	return validation.BuildDeliveryRequest(req, time.Now())
}
