package types

import (
	"context"
)

// WAClient is the transport surface the delivery engine depends on
type WAClient interface {
	// StartSession starts (creating it if needed) the configured session.
	StartSession(ctx context.Context) error
	GetSessionStatus(ctx context.Context) (*Session, error)
	LogoutSession(ctx context.Context) error
	// GetQRCode returns the pairing QR image and its content type.
	GetQRCode(ctx context.Context) ([]byte, string, error)

	SendText(ctx context.Context, chatID, text string, mentions []string) (*SendMessageResponse, error)
	SendMedia(ctx context.Context, chatID string, media *MediaObject, caption string, mentions []string) (*SendMessageResponse, error)

	GetChatByID(ctx context.Context, chatID string) (*Chat, error)
	GetContacts(ctx context.Context) ([]Contact, error)

	SessionName() string
}
