package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willianmendesf/whatsapp-sender/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setupTestDB(t *testing.T, secret string) (*Database, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deliveries.db")
	db, err := New(path, secret)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func sampleRecord(id string, completed time.Time) *models.DeliveryRecord {
	return &models.DeliveryRecord{
		ID:          id,
		TargetType:  models.TargetIndividual,
		ChatID:      "5511999990000@c.us",
		Status:      models.DispatchSucceeded,
		ReceivedAt:  completed.Add(-2 * time.Second),
		CompletedAt: completed,
	}
}

func TestNew_InvalidPaths(t *testing.T) {
	_, err := New("", "")
	assert.Error(t, err)

	_, err = New("../outside.db", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database path")

	_, err = New(filepath.Join(t.TempDir(), "x.db"), "short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryptor")
}

func TestNew_CreatesFileWithRestrictedPermissions(t *testing.T) {
	_, path := setupTestDB(t, "")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSaveAndGetDelivery(t *testing.T) {
	db, _ := setupTestDB(t, "")
	ctx := context.Background()

	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := sampleRecord("req-1", completed)
	record.Status = models.DispatchReportedPartial
	record.FailureReason = "chat not found"
	record.FallbackResults = []models.FallbackResult{
		{Identifier: "5511888880000", Status: models.FallbackSent},
		{Identifier: "120363000000000000", Status: models.FallbackFailed, Error: "boom"},
	}
	require.NoError(t, db.SaveDelivery(ctx, record))

	got, err := db.GetDelivery(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, models.TargetIndividual, got.TargetType)
	assert.Equal(t, record.ChatID, got.ChatID)
	assert.Equal(t, models.DispatchReportedPartial, got.Status)
	assert.Equal(t, "chat not found", got.FailureReason)
	assert.Equal(t, record.FallbackResults, got.FallbackResults)
	assert.True(t, completed.Equal(got.CompletedAt))
}

func TestGetDelivery_NotFound(t *testing.T) {
	db, _ := setupTestDB(t, "")

	got, err := db.GetDelivery(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveDelivery_UpsertsOutcome(t *testing.T) {
	db, _ := setupTestDB(t, "")
	ctx := context.Background()

	record := sampleRecord("req-1", time.Now().UTC())
	record.Status = models.DispatchReportedFailure
	require.NoError(t, db.SaveDelivery(ctx, record))

	record.Status = models.DispatchSucceeded
	require.NoError(t, db.SaveDelivery(ctx, record))

	got, err := db.GetDelivery(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.DispatchSucceeded, got.Status)

	counts, err := db.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.DispatchStatus]int{models.DispatchSucceeded: 1}, counts)
}

func TestListRecentDeliveries_NewestFirst(t *testing.T) {
	db, _ := setupTestDB(t, "")
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.SaveDelivery(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Minute))))
	}

	records, err := db.ListRecentDeliveries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "b", records[1].ID)

	all, err := db.ListRecentDeliveries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCountByStatus(t *testing.T) {
	db, _ := setupTestDB(t, "")
	ctx := context.Background()

	now := time.Now().UTC()
	statuses := []models.DispatchStatus{
		models.DispatchSucceeded, models.DispatchSucceeded, models.DispatchReportedFailure,
	}
	for i, status := range statuses {
		record := sampleRecord(string(rune('a'+i)), now)
		record.Status = status
		require.NoError(t, db.SaveDelivery(ctx, record))
	}

	counts, err := db.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.DispatchSucceeded])
	assert.Equal(t, 1, counts[models.DispatchReportedFailure])
	assert.Zero(t, counts[models.DispatchReportedPartial])
}

func TestCleanupOldRecords(t *testing.T) {
	db, _ := setupTestDB(t, "")
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, db.SaveDelivery(ctx, sampleRecord("old", now.AddDate(0, 0, -40))))
	require.NoError(t, db.SaveDelivery(ctx, sampleRecord("recent", now.AddDate(0, 0, -1))))

	removed, err := db.CleanupOldRecords(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	old, err := db.GetDelivery(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)

	recent, err := db.GetDelivery(ctx, "recent")
	require.NoError(t, err)
	assert.NotNil(t, recent)

	_, err = db.CleanupOldRecords(ctx, 0)
	assert.Error(t, err)
}

func TestSaveDelivery_EncryptsChatID(t *testing.T) {
	db, _ := setupTestDB(t, testSecret)
	ctx := context.Background()
	assert.True(t, db.EncryptionEnabled())

	record := sampleRecord("enc-1", time.Now().UTC())
	require.NoError(t, db.SaveDelivery(ctx, record))

	var stored string
	require.NoError(t, db.db.QueryRowContext(ctx, "SELECT chat_id FROM deliveries WHERE id = ?", "enc-1").Scan(&stored))
	assert.NotEqual(t, record.ChatID, stored)
	assert.Contains(t, stored, ciphertextPrefix)

	got, err := db.GetDelivery(ctx, "enc-1")
	require.NoError(t, err)
	assert.Equal(t, record.ChatID, got.ChatID)
}

func TestReopenWithoutSecret_FailsOnEncryptedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deliveries.db")
	ctx := context.Background()

	db, err := New(path, testSecret)
	require.NoError(t, err)
	require.NoError(t, db.SaveDelivery(ctx, sampleRecord("enc-1", time.Now().UTC())))
	require.NoError(t, db.Close())

	reopened, err := New(path, "")
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.GetDelivery(ctx, "enc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestSaveDelivery_CancelledContext(t *testing.T) {
	db, _ := setupTestDB(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.SaveDelivery(ctx, sampleRecord("x", time.Now().UTC()))
	assert.Error(t, err)
}
