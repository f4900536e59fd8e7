package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/willianmendesf/whatsapp-sender/internal/migrations"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/security"
)

const maxListLimit = 500

// Database is the sqlite-backed delivery log.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

// New opens (creating if needed) the database at dbPath and applies
// pending migrations. A non-empty encryptionSecret encrypts chat ids at
// rest.
func New(dbPath, encryptionSecret string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	enc, err := newEncryptor(encryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks that the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// EncryptionEnabled reports whether chat ids are encrypted at rest.
func (d *Database) EncryptionEnabled() bool {
	return d.encryptor.enabled()
}

// SaveDelivery stores a terminal delivery outcome. Saving the same id twice
// updates the outcome fields.
func (d *Database) SaveDelivery(ctx context.Context, record *models.DeliveryRecord) error {
	chatID, err := d.encryptor.Encrypt(record.ChatID)
	if err != nil {
		return fmt.Errorf("failed to encrypt chat ID: %w", err)
	}

	var fallbackJSON sql.NullString
	if len(record.FallbackResults) > 0 {
		raw, err := json.Marshal(record.FallbackResults)
		if err != nil {
			return fmt.Errorf("failed to encode fallback results: %w", err)
		}
		fallbackJSON = sql.NullString{String: string(raw), Valid: true}
	}

	failureReason := sql.NullString{String: record.FailureReason, Valid: record.FailureReason != ""}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertDeliveryQuery,
			record.ID,
			string(record.TargetType),
			chatID,
			string(record.Status),
			failureReason,
			fallbackJSON,
			record.ReceivedAt.UTC(),
			record.CompletedAt.UTC(),
		)
		return err
	}, "save delivery")
}

// GetDelivery returns the record with id, or nil when none exists.
func (d *Database) GetDelivery(ctx context.Context, id string) (*models.DeliveryRecord, error) {
	row := d.db.QueryRowContext(ctx, SelectDeliveryByIDQuery, id)
	record, err := d.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return record, nil
}

// ListRecentDeliveries returns up to limit records, newest first.
func (d *Database) ListRecentDeliveries(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := d.db.QueryContext(ctx, SelectRecentDeliveriesQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var records []models.DeliveryRecord
	for rows.Next() {
		record, err := d.scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return records, nil
}

// CountByStatus returns the number of stored deliveries per status.
func (d *Database) CountByStatus(ctx context.Context) (map[models.DispatchStatus]int, error) {
	rows, err := d.db.QueryContext(ctx, CountDeliveriesByStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DispatchStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan delivery count: %w", err)
		}
		counts[models.DispatchStatus(status)] = n
	}
	return counts, rows.Err()
}

// CleanupOldRecords deletes deliveries completed more than retentionDays
// ago and returns how many were removed.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	var removed int64
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, DeleteDeliveriesBeforeQuery, cutoff)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	}, "cleanup deliveries")
	return removed, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanDelivery(row rowScanner) (*models.DeliveryRecord, error) {
	var (
		record        models.DeliveryRecord
		targetType    string
		status        string
		chatID        string
		failureReason sql.NullString
		fallbackJSON  sql.NullString
	)

	if err := row.Scan(&record.ID, &targetType, &chatID, &status, &failureReason,
		&fallbackJSON, &record.ReceivedAt, &record.CompletedAt); err != nil {
		return nil, err
	}

	plain, err := d.encryptor.Decrypt(chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt chat ID: %w", err)
	}

	record.TargetType = models.TargetType(targetType)
	record.Status = models.DispatchStatus(status)
	record.ChatID = plain
	record.FailureReason = failureReason.String

	if fallbackJSON.Valid && fallbackJSON.String != "" {
		if err := json.Unmarshal([]byte(fallbackJSON.String), &record.FallbackResults); err != nil {
			return nil, fmt.Errorf("failed to decode fallback results: %w", err)
		}
	}
	return &record, nil
}
