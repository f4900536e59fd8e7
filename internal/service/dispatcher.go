package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/metrics"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/retry"
)

// ErrDispatcherShutdown resolves requests still queued when the dispatcher
// stops.
var ErrDispatcherShutdown = apperrors.New(apperrors.ErrCodeDispatcherShutdown, "dispatcher is shutting down").
	WithUserMessage("Service is shutting down.")

// Processor runs one request to a terminal outcome.
type Processor func(ctx context.Context, req *models.DeliveryRequest) models.DispatchOutcome

// PacingConfig spaces consecutive sends.
type PacingConfig struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	BatchSize  int
	BatchPause time.Duration
}

// DefaultPacingConfig waits 1.5 to 3 seconds after every request and an
// extra 10 seconds after every tenth.
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		MinDelay:   constants.DefaultPacingMinDelayMs * time.Millisecond,
		MaxDelay:   constants.DefaultPacingMaxDelayMs * time.Millisecond,
		BatchSize:  constants.DefaultPacingBatchSize,
		BatchPause: constants.DefaultPacingBatchPauseS * time.Second,
	}
}

// Jitter returns a random delay within the pacing window.
func (p PacingConfig) Jitter() time.Duration {
	return retry.UniformDuration(p.MinDelay, p.MaxDelay)
}

type queueEntry struct {
	req  *models.DeliveryRequest
	done chan models.DispatchOutcome
}

// Dispatcher is a FIFO send queue served by a single paced worker.
type Dispatcher struct {
	process Processor
	pacing  PacingConfig
	logger  *logrus.Logger
	ctx     context.Context

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration

	mu         sync.Mutex
	queue      []*queueEntry
	processing bool
	processed  int
}

// NewDispatcher creates a dispatcher whose worker stops when ctx ends.
func NewDispatcher(ctx context.Context, process Processor, pacing PacingConfig, logger *logrus.Logger) *Dispatcher {
	if pacing.BatchSize <= 0 {
		pacing.BatchSize = constants.DefaultPacingBatchSize
	}
	return &Dispatcher{
		process: process,
		pacing:  pacing,
		logger:  logger,
		ctx:     ctx,
		sleep:   retry.Sleep,
		jitter:  pacing.Jitter,
	}
}

// Enqueue appends req and returns the channel its outcome is delivered on.
func (d *Dispatcher) Enqueue(req *models.DeliveryRequest) <-chan models.DispatchOutcome {
	entry := &queueEntry{req: req, done: make(chan models.DispatchOutcome, 1)}

	d.mu.Lock()
	d.queue = append(d.queue, entry)
	depth := len(d.queue)
	start := !d.processing
	d.processing = true
	d.mu.Unlock()

	metrics.SetGauge(metrics.SendQueueDepth, float64(depth), nil, "Requests waiting for the send worker")
	d.logger.WithFields(logrus.Fields{
		LogFieldRequestID:  req.ID,
		LogFieldQueueDepth: depth,
	}).Debug("Request queued")

	if start {
		go d.run()
	}
	return entry.done
}

// Submit enqueues req and waits for its outcome. Giving up on ctx does not
// remove the request from the queue.
func (d *Dispatcher) Submit(ctx context.Context, req *models.DeliveryRequest) (models.DispatchOutcome, error) {
	done := d.Enqueue(req)
	select {
	case outcome := <-done:
		return outcome, nil
	case <-ctx.Done():
		return models.DispatchOutcome{}, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "gave up waiting for dispatch")
	}
}

// Depth returns the number of requests waiting for the worker.
func (d *Dispatcher) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Processed returns the number of requests the worker has completed.
func (d *Dispatcher) Processed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processed
}

func (d *Dispatcher) run() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.processing = false
			d.mu.Unlock()
			return
		}
		entry := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		depth := len(d.queue)
		d.mu.Unlock()

		metrics.SetGauge(metrics.SendQueueDepth, float64(depth), nil, "Requests waiting for the send worker")

		if d.ctx.Err() != nil {
			entry.done <- shutdownOutcome(entry.req)
			continue
		}

		entry.done <- d.process(d.ctx, entry.req)

		d.mu.Lock()
		d.processed++
		count := d.processed
		d.mu.Unlock()

		pause := d.jitter()
		if count%d.pacing.BatchSize == 0 {
			pause += d.pacing.BatchPause
			d.logger.WithField(LogFieldCount, count).Info("Batch limit reached, pausing send queue")
		}
		_ = d.sleep(d.ctx, pause)
	}
}

func shutdownOutcome(req *models.DeliveryRequest) models.DispatchOutcome {
	return models.DispatchOutcome{
		RequestID:    req.ID,
		Status:       models.DispatchReportedFailure,
		PrimaryError: ErrDispatcherShutdown,
		CompletedAt:  time.Now(),
	}
}
