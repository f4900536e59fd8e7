package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/metrics"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// OutboundContent is one message handed to the transport.
type OutboundContent struct {
	Text     string
	Media    *types.MediaObject
	Mentions []string
	// RequiredMentions must resolve before this send goes out but are not
	// attached to it. A media message followed by a text body carries the
	// body's mentions here.
	RequiredMentions []string
}

// SendResult is the resolution of a single send.
type SendResult struct {
	Response *types.SendMessageResponse
	Err      error
}

// SendFunc performs one transport send.
type SendFunc func(ctx context.Context, chatID string, content OutboundContent) SendResult

type pendingEntry struct {
	ctx        context.Context
	chatID     string
	content    OutboundContent
	done       chan SendResult
	enqueuedAt time.Time
}

// PendingBuffer parks sends issued while the transport is not ready and
// replays them in arrival order.
type PendingBuffer struct {
	mu       sync.Mutex
	entries  []*pendingEntry
	draining bool
	logger   *logrus.Logger
}

// NewPendingBuffer creates an empty buffer.
func NewPendingBuffer(logger *logrus.Logger) *PendingBuffer {
	return &PendingBuffer{logger: logger}
}

// Enqueue parks a send and returns the channel its result is delivered on.
// The channel receives exactly one value.
func (b *PendingBuffer) Enqueue(ctx context.Context, chatID string, content OutboundContent) <-chan SendResult {
	entry := &pendingEntry{
		ctx:        ctx,
		chatID:     chatID,
		content:    content,
		done:       make(chan SendResult, 1),
		enqueuedAt: time.Now(),
	}

	b.mu.Lock()
	b.entries = append(b.entries, entry)
	depth := len(b.entries)
	b.mu.Unlock()

	metrics.SetGauge(metrics.PendingBufferDepth, float64(depth), nil, "Sends parked until the transport is ready")
	b.logger.WithFields(logrus.Fields{
		LogFieldChatID:     ChatIDField(ctx, chatID),
		LogFieldQueueDepth: depth,
	}).Info("Transport not ready, message parked")

	return entry.done
}

// Len returns the number of parked sends.
func (b *PendingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Drain sends parked entries in order while ready reports true. Only one
// drain runs at a time; a concurrent call returns immediately. Entries
// whose caller already gave up are resolved with the caller's error
// without being sent. Returns the number of entries resolved.
func (b *PendingBuffer) Drain(ctx context.Context, ready func() bool, send SendFunc) int {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return 0
	}
	b.draining = true
	b.mu.Unlock()

	resolved := 0
	for {
		if ctx.Err() != nil || !ready() {
			b.stopDraining()
			if resolved > 0 || b.Len() > 0 {
				b.logger.WithFields(logrus.Fields{
					LogFieldCount:      resolved,
					LogFieldQueueDepth: b.Len(),
				}).Warn("Pending drain paused, transport not ready")
			}
			return resolved
		}

		b.mu.Lock()
		if len(b.entries) == 0 {
			b.draining = false
			b.mu.Unlock()
			metrics.SetGauge(metrics.PendingBufferDepth, 0, nil, "Sends parked until the transport is ready")
			if resolved > 0 {
				b.logger.WithField(LogFieldCount, resolved).Info("Pending messages drained")
			}
			return resolved
		}
		entry := b.entries[0]
		b.entries[0] = nil
		b.entries = b.entries[1:]
		depth := len(b.entries)
		b.mu.Unlock()

		metrics.SetGauge(metrics.PendingBufferDepth, float64(depth), nil, "Sends parked until the transport is ready")

		if err := entry.ctx.Err(); err != nil {
			entry.done <- SendResult{Err: err}
		} else {
			entry.done <- send(entry.ctx, entry.chatID, entry.content)
		}
		resolved++
	}
}

func (b *PendingBuffer) stopDraining() {
	b.mu.Lock()
	b.draining = false
	b.mu.Unlock()
}
