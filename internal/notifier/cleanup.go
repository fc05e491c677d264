package notifier

import (
	"log/slog"
	"time"

	"github.com/voicetel/freescout-sla-tray/internal/database"
)

const defaultRetentionDays = 90

// CleanupOldBreaches removes breach history past the retention window.
// Queued breaches are kept regardless of age.
func CleanupOldBreaches(db *database.DB, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}

	result, err := db.Exec(`
		DELETE FROM sla_breaches
		WHERE status != 'queued'
			AND detected_at < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}

	removed, err := result.RowsAffected()
	if err == nil && removed > 0 {
		slog.Info("cleaned up old breach records", "count", removed)
	}

	result, err = db.Exec(`
		DELETE FROM business_hours_log
		WHERE event_time < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return removed, err
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		slog.Info("cleaned up old business hours log entries", "count", rows)
	}

	return removed, nil
}

// VacuumDatabase performs SQLite VACUUM to reclaim disk space
func VacuumDatabase(db *database.DB) error {
	slog.Info("performing database vacuum")
	start := time.Now()

	if _, err := db.Exec("VACUUM"); err != nil {
		return err
	}

	slog.Info("database vacuum completed", "duration", time.Since(start).String())
	return nil
}
