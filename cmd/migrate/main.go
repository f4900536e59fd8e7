package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/database"
	"github.com/willianmendesf/whatsapp-sender/internal/migrations"
)

const migrateTimeout = 2 * time.Minute

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(os.Args[1:], os.Stdout, logger); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}
}

// run upgrades the delivery log schema and optionally prunes old records.
func run(args []string, out io.Writer, logger *logrus.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	dbPath := fs.String("db", "./whatsapp-sender.db", "Path to the database file")
	statusOnly := fs.Bool("status", false, "Print the schema version and exit without changes")
	cleanupDays := fs.Int("cleanup-days", 0, "Delete delivery records older than this many days (0 skips cleanup)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		return fmt.Errorf("database file not found: %s", *dbPath)
	}
	if *cleanupDays < 0 {
		return fmt.Errorf("cleanup-days must not be negative, got %d", *cleanupDays)
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	if err := migrate(ctx, *dbPath, *statusOnly, out, logger); err != nil {
		return err
	}
	if *statusOnly || *cleanupDays == 0 {
		return nil
	}

	db, err := database.New(*dbPath, "")
	if err != nil {
		return err
	}
	defer db.Close()

	removed, err := db.CleanupOldRecords(ctx, *cleanupDays)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"removed":        removed,
		"retention_days": *cleanupDays,
	}).Info("Old delivery records removed")
	fmt.Fprintf(out, "Removed %d delivery records older than %d days\n", removed, *cleanupDays)
	return nil
}

func migrate(ctx context.Context, dbPath string, statusOnly bool, out io.Writer, logger *logrus.Logger) error {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	available, err := migrations.Load()
	if err != nil {
		return err
	}
	latest := 0
	if len(available) > 0 {
		latest = available[len(available)-1].Version
	}

	if statusOnly {
		current, err := migrations.CurrentVersion(ctx, db)
		if err != nil {
			fmt.Fprintf(out, "Schema not initialized, latest version is %d\n", latest)
			return nil
		}
		fmt.Fprintf(out, "Schema version %d, latest version is %d\n", current, latest)
		return nil
	}

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		return err
	}
	current, err := migrations.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"applied": applied,
		"version": current,
	}).Info("Schema migrations complete")
	if applied == 0 {
		fmt.Fprintf(out, "Schema already at version %d, nothing to apply\n", current)
	} else {
		fmt.Fprintf(out, "Applied %d migrations, schema now at version %d\n", applied, current)
	}
	return nil
}
