package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// Gateway routes sends through the readiness check, parking them in the
// pending buffer while the transport is not ready.
type Gateway struct {
	conn   *ConnectionManager
	client types.WAClient
	buffer *PendingBuffer
	logger *logrus.Logger
	ctx    context.Context
}

// NewGateway wires the gateway to drain the buffer on every Ready
// transition. ctx bounds background drains.
func NewGateway(ctx context.Context, conn *ConnectionManager, client types.WAClient, buffer *PendingBuffer, logger *logrus.Logger) *Gateway {
	g := &Gateway{
		conn:   conn,
		client: client,
		buffer: buffer,
		logger: logger,
		ctx:    ctx,
	}

	conn.OnTransition(func(_, to models.TransportState) {
		if to == models.StateReady {
			go g.drain()
		}
	})
	return g
}

// Pending returns the number of parked sends.
func (g *Gateway) Pending() int {
	return g.buffer.Len()
}

// Send delivers content to chatID. While the transport is not ready the
// send is parked and Send blocks until it is replayed or ctx ends.
func (g *Gateway) Send(ctx context.Context, chatID string, content OutboundContent) (*types.SendMessageResponse, error) {
	if err := g.conn.EnsureReady(ctx); err == nil && g.buffer.Len() == 0 {
		res := g.deliver(ctx, chatID, content)
		return res.Response, res.Err
	}

	done := g.buffer.Enqueue(ctx, chatID, content)
	if g.conn.IsReady() {
		go g.drain()
	}

	select {
	case res := <-done:
		return res.Response, res.Err
	case <-ctx.Done():
		return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "gave up waiting for transport readiness")
	}
}

func (g *Gateway) drain() {
	g.buffer.Drain(g.ctx, g.conn.IsReady, g.deliver)
}

// deliver runs only while the transport is ready. It confirms the chat,
// resolves mentions and performs the send.
func (g *Gateway) deliver(ctx context.Context, chatID string, content OutboundContent) SendResult {
	if _, err := g.client.GetChatByID(ctx, chatID); err != nil {
		return SendResult{Err: err}
	}

	if _, err := g.resolveMentions(ctx, content.RequiredMentions); err != nil {
		return SendResult{Err: err}
	}
	mentions, err := g.resolveMentions(ctx, content.Mentions)
	if err != nil {
		return SendResult{Err: err}
	}

	var resp *types.SendMessageResponse
	if content.Media != nil {
		resp, err = g.client.SendMedia(ctx, chatID, content.Media, content.Text, mentions)
	} else {
		resp, err = g.client.SendText(ctx, chatID, content.Text, mentions)
	}
	if err != nil {
		return SendResult{Err: err}
	}

	g.logger.WithFields(logrus.Fields{
		LogFieldChatID:    ChatIDField(ctx, chatID),
		LogFieldMessageID: resp.MessageID(),
	}).Debug("Message handed to transport")
	return SendResult{Response: resp}
}

// resolveMentions maps mention identifiers to the contact ids known to the
// transport. Any identifier without a contact fails the whole send.
func (g *Gateway) resolveMentions(ctx context.Context, mentions []string) ([]string, error) {
	if len(mentions) == 0 {
		return nil, nil
	}

	contacts, err := g.client.GetContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load contacts for mentions: %w", err)
	}

	known := make(map[string]string, len(contacts)*2)
	for _, c := range contacts {
		if c.IsGroup {
			continue
		}
		known[c.ID] = c.ID
		if c.Number != "" {
			known[c.Number] = c.ID
		}
	}

	resolved := make([]string, 0, len(mentions))
	var missing []string
	for _, raw := range mentions {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if contactID, ok := known[id]; ok {
			resolved = append(resolved, contactID)
			continue
		}
		chatID, _ := NormalizeChatID(models.TargetIndividual, id)
		if contactID, ok := known[chatID]; ok {
			resolved = append(resolved, contactID)
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		return nil, apperrors.New(apperrors.ErrCodeMentionUnresolved,
			fmt.Sprintf("unresolvable mention identifiers: %s", strings.Join(missing, ", "))).
			WithContext(LogFieldCount, len(missing))
	}
	return resolved, nil
}

// IsChatNotFound reports whether err means the target chat does not exist.
func IsChatNotFound(err error) bool {
	return stderrors.Is(err, whatsapp.ErrChatNotFound)
}
