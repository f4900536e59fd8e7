package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
)

// RecordCleaner removes delivery records older than the retention window.
type RecordCleaner interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error)
}

// Scheduler runs the delivery log retention cleanup on a cron schedule.
type Scheduler struct {
	cleaner       RecordCleaner
	retentionDays int
	schedule      string
	logger        *logrus.Logger

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a cleanup scheduler. An empty schedule uses the
// nightly default.
func NewScheduler(cleaner RecordCleaner, retentionDays int, schedule string, logger *logrus.Logger) *Scheduler {
	if schedule == "" {
		schedule = constants.DefaultCleanupSchedule
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	return &Scheduler{
		cleaner:       cleaner,
		retentionDays: retentionDays,
		schedule:      schedule,
		logger:        logger,
	}
}

// Start registers the cleanup job and starts the cron runner. The job's
// context ends with ctx or Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	if _, err := c.AddFunc(s.schedule, func() { s.runCleanup(s.ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.schedule, err)
	}

	s.c = c
	c.Start()

	s.logger.WithFields(logrus.Fields{
		"schedule":      s.schedule,
		"retentionDays": s.retentionDays,
	}).Info("Starting cleanup scheduler")
	return nil
}

// Stop halts the cron runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("Cleanup scheduler stopped")
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.WithField("retentionDays", s.retentionDays).Info("Running scheduled cleanup")

	removed, err := s.cleaner.CleanupOldRecords(ctx, s.retentionDays)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
		return
	}
	s.logger.WithField(LogFieldCount, removed).Info("Successfully completed cleanup")
}
