package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

func newTestGateway(t *testing.T, client *mockWhatsAppClient) (*Gateway, *ConnectionManager) {
	t.Helper()
	conn := newTestManager(t, client, ReconnectPolicy{Attempts: 1, Delay: time.Hour})
	gw := NewGateway(conn.lifecycleCtx, conn, client, NewPendingBuffer(quietLogger()), quietLogger())
	return gw, conn
}

func TestGateway_SendWhenReady(t *testing.T) {
	client := newMockClient()
	client.On("GetSessionStatus", mock.Anything).Return(working(), nil)
	client.On("GetChatByID", mock.Anything, "5511999990000@c.us").Return(&types.Chat{ID: "5511999990000@c.us"}, nil).Once()
	client.On("SendText", mock.Anything, "5511999990000@c.us", "hello", []string(nil)).Return(sentResponse("m1"), nil).Once()

	gw, conn := newTestGateway(t, client)
	conn.HandleEvent(event(types.EventReady))

	resp, err := gw.Send(context.Background(), "5511999990000@c.us", OutboundContent{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "m1", resp.MessageID())
	client.AssertExpectations(t)
}

func TestGateway_SendMediaUsesTextAsCaption(t *testing.T) {
	media := &types.MediaObject{Kind: "image", Mimetype: "image/png", Filename: "a.png", Data: "aGk="}

	client := newMockClient()
	client.On("GetSessionStatus", mock.Anything).Return(working(), nil)
	client.On("GetChatByID", mock.Anything, "g@g.us").Return(&types.Chat{ID: "g@g.us", IsGroup: true}, nil)
	client.On("SendMedia", mock.Anything, "g@g.us", media, "look", []string(nil)).Return(sentResponse("m2"), nil).Once()

	gw, conn := newTestGateway(t, client)
	conn.HandleEvent(event(types.EventReady))

	_, err := gw.Send(context.Background(), "g@g.us", OutboundContent{Text: "look", Media: media})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestGateway_ParksUntilReady(t *testing.T) {
	client := newMockClient()
	client.On("GetChatByID", mock.Anything, mock.Anything).Return(&types.Chat{}, nil)
	sendOrder := make(chan string, 2)
	recordChat := func(args mock.Arguments) { sendOrder <- args.String(1) }
	client.On("SendText", mock.Anything, "a@c.us", "first", []string(nil)).Run(recordChat).Return(sentResponse("1"), nil).Once()
	client.On("SendText", mock.Anything, "b@c.us", "second", []string(nil)).Run(recordChat).Return(sentResponse("2"), nil).Once()

	gw, conn := newTestGateway(t, client)

	type result struct {
		id  string
		err error
	}
	results := make(chan result, 2)
	send := func(chatID, text string) {
		resp, err := gw.Send(context.Background(), chatID, OutboundContent{Text: text})
		r := result{err: err}
		if resp != nil {
			r.id = resp.MessageID()
		}
		results <- r
	}

	go send("a@c.us", "first")
	require.Eventually(t, func() bool { return gw.Pending() == 1 }, time.Second, time.Millisecond)
	go send("b@c.us", "second")
	require.Eventually(t, func() bool { return gw.Pending() == 2 }, time.Second, time.Millisecond)

	client.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	conn.HandleEvent(event(types.EventReady))

	first := <-results
	second := <-results
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.ElementsMatch(t, []string{"1", "2"}, []string{first.id, second.id})
	assert.Equal(t, []string{"a@c.us", "b@c.us"}, []string{<-sendOrder, <-sendOrder}, "parked sends must drain in arrival order")
	assert.Zero(t, gw.Pending())
}

func TestGateway_ParkedSendGivesUpWithContext(t *testing.T) {
	gw, _ := newTestGateway(t, newMockClient())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gw.Send(ctx, "a@c.us", OutboundContent{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTimeout, apperrors.GetCode(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateway_ChatNotFound(t *testing.T) {
	client := newMockClient()
	client.On("GetSessionStatus", mock.Anything).Return(working(), nil)
	client.On("GetChatByID", mock.Anything, "x@c.us").Return(nil, whatsapp.ErrChatNotFound).Once()

	gw, conn := newTestGateway(t, client)
	conn.HandleEvent(event(types.EventReady))

	_, err := gw.Send(context.Background(), "x@c.us", OutboundContent{Text: "hi"})
	require.Error(t, err)
	assert.True(t, IsChatNotFound(err))
	client.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGateway_ResolvesMentions(t *testing.T) {
	contacts := []types.Contact{
		{ID: "5511111110000@c.us", Number: "5511111110000"},
		{ID: "5522222220000@c.us"},
		{ID: "120363000000000000@g.us", Number: "120363000000000000", IsGroup: true},
	}

	t.Run("resolved by number and id", func(t *testing.T) {
		client := newMockClient()
		client.On("GetSessionStatus", mock.Anything).Return(working(), nil)
		client.On("GetChatByID", mock.Anything, mock.Anything).Return(&types.Chat{}, nil)
		client.On("GetContacts", mock.Anything).Return(contacts, nil).Once()
		client.On("SendText", mock.Anything, "g@g.us", "hi all",
			[]string{"5511111110000@c.us", "5522222220000@c.us"}).Return(sentResponse("m"), nil).Once()

		gw, conn := newTestGateway(t, client)
		conn.HandleEvent(event(types.EventReady))

		_, err := gw.Send(context.Background(), "g@g.us", OutboundContent{
			Text:     "hi all",
			Mentions: []string{"5511111110000", " 5522222220000 ", ""},
		})
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("unresolvable mention fails the send", func(t *testing.T) {
		client := newMockClient()
		client.On("GetSessionStatus", mock.Anything).Return(working(), nil)
		client.On("GetChatByID", mock.Anything, mock.Anything).Return(&types.Chat{}, nil)
		client.On("GetContacts", mock.Anything).Return(contacts, nil).Once()

		gw, conn := newTestGateway(t, client)
		conn.HandleEvent(event(types.EventReady))

		_, err := gw.Send(context.Background(), "g@g.us", OutboundContent{
			Text:     "hi",
			Mentions: []string{"5511111110000", "120363000000000000", "5599999990000"},
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeMentionUnresolved, apperrors.GetCode(err))
		assert.Contains(t, err.Error(), "120363000000000000")
		assert.Contains(t, err.Error(), "5599999990000")
		client.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("contact lookup failure", func(t *testing.T) {
		client := newMockClient()
		client.On("GetSessionStatus", mock.Anything).Return(working(), nil)
		client.On("GetChatByID", mock.Anything, mock.Anything).Return(&types.Chat{}, nil)
		client.On("GetContacts", mock.Anything).Return(nil, errors.New("waha down")).Once()

		gw, conn := newTestGateway(t, client)
		conn.HandleEvent(event(types.EventReady))

		_, err := gw.Send(context.Background(), "g@g.us", OutboundContent{Text: "hi", Mentions: []string{"1"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load contacts")
	})
}
