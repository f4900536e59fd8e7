package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
)

func TestScheduler_Defaults(t *testing.T) {
	s := NewScheduler(&mockCleaner{}, 0, "", quietLogger())
	assert.Equal(t, constants.DefaultRetentionDays, s.retentionDays)
	assert.Equal(t, constants.DefaultCleanupSchedule, s.schedule)
}

func TestScheduler_RunCleanup(t *testing.T) {
	cleaner := &mockCleaner{}
	ctx := context.Background()
	cleaner.On("CleanupOldRecords", ctx, 30).Return(int64(4), nil).Once()

	NewScheduler(cleaner, 30, "@daily", quietLogger()).runCleanup(ctx)
	cleaner.AssertExpectations(t)
}

func TestScheduler_RunCleanupError(t *testing.T) {
	cleaner := &mockCleaner{}
	ctx := context.Background()
	cleaner.On("CleanupOldRecords", ctx, 30).Return(int64(0), assert.AnError).Once()

	NewScheduler(cleaner, 30, "@daily", quietLogger()).runCleanup(ctx)
	cleaner.AssertExpectations(t)
}

func TestScheduler_StartRunsJobAndStops(t *testing.T) {
	cleaner := &mockCleaner{}
	ran := make(chan struct{}, 10)
	cleaner.On("CleanupOldRecords", mock.Anything, 7).Return(int64(0), nil).Run(func(mock.Arguments) {
		ran <- struct{}{}
	})

	s := NewScheduler(cleaner, 7, "@every 1s", quietLogger())
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start must fail")

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("cleanup job did not run")
	}

	s.Stop()
	s.Stop()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(&mockCleaner{}, 7, "not a schedule", quietLogger())
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cleanup schedule")

	// A failed start leaves the scheduler startable.
	s.schedule = "@daily"
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
