package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

func TestDelivery_PrimarySuccess(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusWorking)
	env.WAHA.AddNumber(knownNumber)
	require.Equal(t, models.StateReady, env.Conn.State())

	outcome := env.Submit(textRequest(models.TargetIndividual, knownNumber, "Deploy finished"))

	assert.Equal(t, models.DispatchSucceeded, outcome.Status)
	assert.Equal(t, chatID(knownNumber), outcome.ChatID)
	assert.NoError(t, outcome.PrimaryError)

	sent := env.WAHA.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "/api/sendText", sent[0].Endpoint)
	assert.Equal(t, chatID(knownNumber), sent[0].ChatID)
	assert.Equal(t, "Deploy finished", sent[0].Text)

	record, err := env.DB.GetDelivery(context.Background(), outcome.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchSucceeded, record.Status)
	assert.Equal(t, chatID(knownNumber), record.ChatID)
}

func TestDelivery_GroupTarget(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusWorking)
	env.WAHA.AddGroup(opsGroup, "Ops")

	outcome := env.Submit(textRequest(models.TargetGroup, "120363000000000001", "Standup in 5"))

	assert.Equal(t, models.DispatchSucceeded, outcome.Status)
	sent := env.WAHA.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, opsGroup, sent[0].ChatID)
}

func TestDelivery_FallbackAfterUnknownChat(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusWorking)
	env.WAHA.AddNumber(fallbackNumber)

	req := withFallbacks(textRequest(models.TargetIndividual, unknownNumber, "Disk almost full"),
		models.FallbackTarget{TargetType: "pager", Identifiers: models.Identifiers{"123"}},
		individualFallback("", fallbackNumber, backupNumber),
	)
	outcome := env.Submit(req)

	assert.Equal(t, models.DispatchReportedPartial, outcome.Status)
	require.Error(t, outcome.PrimaryError)
	require.Len(t, outcome.FallbackResults, 2)
	assert.Equal(t, fallbackNumber, outcome.FallbackResults[0].Identifier)
	assert.Equal(t, models.FallbackSent, outcome.FallbackResults[0].Status)
	assert.Equal(t, backupNumber, outcome.FallbackResults[1].Identifier)
	assert.Equal(t, models.FallbackFailed, outcome.FallbackResults[1].Status)

	sent := env.WAHA.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, chatID(fallbackNumber), sent[0].ChatID)
	assert.Equal(t, "Disk almost full", sent[0].Text, "forward mode relays the original text")

	record, err := env.DB.GetDelivery(context.Background(), outcome.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchReportedPartial, record.Status)
	assert.NotEmpty(t, record.FailureReason)
	assert.Len(t, record.FallbackResults, 2)
}

func TestDelivery_AlertModeFallback(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusWorking)
	env.WAHA.AddNumber(fallbackNumber)
	env.Fallback.SetMode(constants.FallbackModeAlert)

	outcome := env.Submit(withFallbacks(
		textRequest(models.TargetIndividual, unknownNumber, "Backup failed"),
		individualFallback(fallbackNumber),
	))

	assert.Equal(t, models.DispatchReportedPartial, outcome.Status)
	sent := env.WAHA.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Delivery alert")
	assert.Contains(t, sent[0].Text, unknownNumber)
	assert.Contains(t, sent[0].Text, "Backup failed")
}

func TestDelivery_NoUsableFallback(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusWorking)
	env.WAHA.AddNumber(knownNumber)
	env.WAHA.FailSendsTo(chatID(knownNumber))

	outcome := env.Submit(withFallbacks(
		textRequest(models.TargetIndividual, knownNumber, "Hello"),
		individualFallback("", "  "),
	))

	assert.Equal(t, models.DispatchReportedFailure, outcome.Status)
	assert.Error(t, outcome.PrimaryError)
	assert.Empty(t, outcome.FallbackResults)
	assert.Empty(t, env.WAHA.Sent())
}

func TestDelivery_Mentions(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusWorking)
	env.WAHA.AddGroup(opsGroup, "Ops")
	env.WAHA.AddNumber(fallbackNumber)
	env.WAHA.AddContact(types.Contact{ID: chatID(teammateNumber), Number: teammateNumber})

	ok := env.Submit(&models.SendRequest{
		Type:     string(models.TargetGroup),
		Number:   opsGroup,
		Message:  "Please review",
		Mentions: []string{teammateNumber},
	})
	assert.Equal(t, models.DispatchSucceeded, ok.Status)

	failed := env.Submit(&models.SendRequest{
		Type:         string(models.TargetGroup),
		Number:       opsGroup,
		Message:      "Please review",
		Mentions:     []string{"5511000000000"},
		FallbackList: []models.FallbackTarget{individualFallback(fallbackNumber)},
	})
	assert.Equal(t, models.DispatchReportedPartial, failed.Status)

	sent := env.WAHA.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, opsGroup, sent[0].ChatID)
	assert.Equal(t, []string{chatID(teammateNumber)}, sent[0].Mentions)
	assert.Equal(t, chatID(fallbackNumber), sent[1].ChatID)
}

func TestDelivery_InlineImageWithText(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusWorking)
	env.WAHA.AddNumber(knownNumber)

	outcome := env.Submit(&models.SendRequest{
		Type:    string(models.TargetIndividual),
		Number:  knownNumber,
		Message: "Full report attached",
		Media: &models.MediaSpec{
			Kind:    models.MediaImage,
			Data:    onePixelPNG,
			Caption: "Chart",
		},
	})

	assert.Equal(t, models.DispatchSucceeded, outcome.Status)
	sent := env.WAHA.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "/api/sendImage", sent[0].Endpoint)
	assert.Equal(t, "Chart", sent[0].Caption)
	assert.Equal(t, "image/png", sent[0].Mimetype)
	assert.Equal(t, "/api/sendText", sent[1].Endpoint)
	assert.Equal(t, "Full report attached", sent[1].Text)
}

func TestDelivery_ParkedUntilReady(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusScanQR)
	env.WAHA.AddNumber(knownNumber)
	require.Equal(t, models.StateAwaitingAuthentication, env.Conn.State())

	messages := []string{"first", "second", "third"}
	results := make([]<-chan models.DispatchOutcome, 0, len(messages))
	for _, msg := range messages {
		req, err := buildRequest(textRequest(models.TargetIndividual, knownNumber, msg))
		require.NoError(t, err)
		results = append(results, env.Dispatcher.Enqueue(req))
	}

	require.True(t, env.WaitForCondition(func() bool { return env.Gateway.Pending() == 1 }, 2*time.Second),
		"the head of the queue should be parked")
	assert.Empty(t, env.WAHA.Sent())

	env.WAHA.SetStatus(types.SessionStatusWorking)
	env.SessionStatusEvent(types.SessionStatusWorking)

	for i, ch := range results {
		select {
		case outcome := <-ch:
			assert.Equal(t, models.DispatchSucceeded, outcome.Status, "message %d", i)
		case <-time.After(10 * time.Second):
			t.Fatalf("message %d was never delivered", i)
		}
	}

	sent := env.WAHA.Sent()
	require.Len(t, sent, len(messages))
	for i, msg := range messages {
		assert.Equal(t, msg, sent[i].Text, "messages go out in submission order")
	}
	assert.Equal(t, 0, env.Gateway.Pending())
}

func TestDelivery_ShutdownRejectsQueued(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusScanQR)

	req, err := buildRequest(textRequest(models.TargetIndividual, knownNumber, "never sent"))
	require.NoError(t, err)
	first := env.Dispatcher.Enqueue(req)

	req2, err := buildRequest(textRequest(models.TargetIndividual, knownNumber, "also never sent"))
	require.NoError(t, err)
	second := env.Dispatcher.Enqueue(req2)

	require.True(t, env.WaitForCondition(func() bool { return env.Gateway.Pending() == 1 }, 2*time.Second))
	env.cancel()

	for _, ch := range []<-chan models.DispatchOutcome{first, second} {
		select {
		case outcome := <-ch:
			assert.Equal(t, models.DispatchReportedFailure, outcome.Status)
			assert.Error(t, outcome.PrimaryError)
		case <-time.After(5 * time.Second):
			t.Fatal("queued request was not released on shutdown")
		}
	}
	assert.Empty(t, env.WAHA.Sent())
}

func TestDelivery_UnknownMentionHoldsBackMedia(t *testing.T) {
	env := NewTestEnvironment(t, types.SessionStatusWorking)
	env.WAHA.AddNumber(knownNumber)
	env.WAHA.AddNumber(fallbackNumber)

	outcome := env.Submit(&models.SendRequest{
		Type:     string(models.TargetIndividual),
		Number:   knownNumber,
		Message:  "body",
		Mentions: []string{"5599000000000"},
		Media: &models.MediaSpec{
			Kind:    models.MediaImage,
			Data:    onePixelPNG,
			Caption: "cap",
		},
		FallbackList: []models.FallbackTarget{individualFallback(fallbackNumber)},
	})

	assert.Equal(t, models.DispatchReportedPartial, outcome.Status)
	assert.Zero(t, env.WAHA.Requests("/api/sendImage"))
	sent := env.WAHA.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, chatID(fallbackNumber), sent[0].ChatID)
}
