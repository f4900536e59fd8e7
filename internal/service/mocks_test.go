package service

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// Mock WhatsApp client
type mockWhatsAppClient struct {
	mock.Mock
	session string
}

func newMockClient() *mockWhatsAppClient {
	return &mockWhatsAppClient{session: "default"}
}

func (m *mockWhatsAppClient) SessionName() string {
	return m.session
}

func (m *mockWhatsAppClient) StartSession(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockWhatsAppClient) GetSessionStatus(ctx context.Context) (*types.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Session), args.Error(1)
}

func (m *mockWhatsAppClient) LogoutSession(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockWhatsAppClient) GetQRCode(ctx context.Context) ([]byte, string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *mockWhatsAppClient) SendText(ctx context.Context, chatID, text string, mentions []string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, text, mentions)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

func (m *mockWhatsAppClient) SendMedia(ctx context.Context, chatID string, media *types.MediaObject, caption string, mentions []string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, media, caption, mentions)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

func (m *mockWhatsAppClient) GetChatByID(ctx context.Context, chatID string) (*types.Chat, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Chat), args.Error(1)
}

func (m *mockWhatsAppClient) GetContacts(ctx context.Context) ([]types.Contact, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Contact), args.Error(1)
}

func working() *types.Session {
	return &types.Session{Name: "default", Status: types.SessionStatusWorking}
}

func sentResponse(id string) *types.SendMessageResponse {
	return &types.SendMessageResponse{ID: []byte(`"` + id + `"`)}
}

// Mock message sender
type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, chatID string, content OutboundContent) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

// Mock media source
type mockMediaSource struct {
	mock.Mock
}

func (m *mockMediaSource) Resolve(ctx context.Context, spec *models.MediaSpec) (*types.MediaObject, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.MediaObject), args.Error(1)
}

// Mock delivery store
type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveDelivery(ctx context.Context, record *models.DeliveryRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// Mock record cleaner
type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	args := m.Called(ctx, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}

// Mock lifecycle sink
type mockSink struct {
	mock.Mock
}

func (m *mockSink) HandleEvent(event types.LifecycleEvent) {
	m.Called(event)
}
