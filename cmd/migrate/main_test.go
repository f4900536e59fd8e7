package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willianmendesf/whatsapp-sender/internal/database"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func emptyDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sender.db")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}

func TestRun_MissingDatabase(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-db", filepath.Join(t.TempDir(), "nope.db")}, &out, quietLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database file not found")
}

func TestRun_StatusThenApply(t *testing.T) {
	path := emptyDB(t)

	var out bytes.Buffer
	require.NoError(t, run([]string{"-db", path, "-status"}, &out, quietLogger()))
	assert.Contains(t, out.String(), "Schema not initialized")

	out.Reset()
	require.NoError(t, run([]string{"-db", path}, &out, quietLogger()))
	assert.Contains(t, out.String(), "Applied")

	out.Reset()
	require.NoError(t, run([]string{"-db", path}, &out, quietLogger()))
	assert.Contains(t, out.String(), "nothing to apply")
}

func TestRun_Cleanup(t *testing.T) {
	path := emptyDB(t)

	db, err := database.New(path, "")
	require.NoError(t, err)
	old := time.Now().UTC().AddDate(0, 0, -40)
	for _, rec := range []*models.DeliveryRecord{
		{ID: "old", TargetType: models.TargetIndividual, ChatID: "1@c.us", Status: models.DispatchSucceeded, ReceivedAt: old, CompletedAt: old},
		{ID: "new", TargetType: models.TargetIndividual, ChatID: "2@c.us", Status: models.DispatchSucceeded, ReceivedAt: time.Now(), CompletedAt: time.Now()},
	} {
		require.NoError(t, db.SaveDelivery(context.Background(), rec))
	}
	require.NoError(t, db.Close())

	var out bytes.Buffer
	require.NoError(t, run([]string{"-db", path, "-cleanup-days", "30"}, &out, quietLogger()))
	assert.Contains(t, out.String(), "Removed 1 delivery records")

	db, err = database.New(path, "")
	require.NoError(t, err)
	defer db.Close()
	remaining, err := db.ListRecentDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].ID)
}

func TestRun_NegativeCleanupDays(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-db", emptyDB(t), "-cleanup-days", "-1"}, &out, quietLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be negative")
}
