package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/voicetel/freescout-sla-tray/internal/models"
)

type DB struct {
	*sql.DB
}

func InitSQLite(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "/" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// A second connection to ":memory:" would be a different database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}

func InitSchema(db *DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS options (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sla_breaches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id TEXT NOT NULL,
		ticket_number TEXT,
		ticket_subject TEXT,
		customer_name TEXT,
		deadline TIMESTAMP NOT NULL,
		detected_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		notified_at TIMESTAMP DEFAULT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		UNIQUE(ticket_id, deadline)
	);

	CREATE INDEX IF NOT EXISTS idx_breach_queue ON sla_breaches(status, detected_at);

	CREATE TABLE IF NOT EXISTS business_hours_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		event_time TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		notifications_sent INTEGER DEFAULT 0
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// RecordBreach stores a breach unless the same ticket deadline was already
// recorded. It reports whether a new row was written.
func (db *DB) RecordBreach(b models.Breach) (bool, error) {
	result, err := db.Exec(`
		INSERT OR IGNORE INTO sla_breaches (
			ticket_id, ticket_number, ticket_subject, customer_name, deadline, status
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.TicketID, b.Number, b.Subject, b.Customer, b.Deadline.UTC(), b.Status)
	if err != nil {
		return false, fmt.Errorf("failed to record breach: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (db *DB) MarkBreachSent(ticketID string, deadline time.Time) error {
	_, err := db.Exec(`
		UPDATE sla_breaches
		SET status = ?, notified_at = CURRENT_TIMESTAMP
		WHERE ticket_id = ? AND deadline = ?
	`, models.BreachSent, ticketID, deadline.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark breach sent: %w", err)
	}
	return nil
}

// QueuedBreaches returns breaches waiting for business hours, oldest first.
func (db *DB) QueuedBreaches(limit int) ([]models.Breach, error) {
	rows, err := db.Query(`
		SELECT id, ticket_id, ticket_number, ticket_subject, customer_name, deadline, detected_at, status
		FROM sla_breaches
		WHERE status = 'queued'
		ORDER BY detected_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued breaches: %w", err)
	}
	defer rows.Close()

	var breaches []models.Breach
	for rows.Next() {
		var b models.Breach
		var number, subject, customer sql.NullString
		if err := rows.Scan(&b.ID, &b.TicketID, &number, &subject, &customer, &b.Deadline, &b.DetectedAt, &b.Status); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		b.Number = number.String
		b.Subject = subject.String
		b.Customer = customer.String
		breaches = append(breaches, b)
	}

	return breaches, rows.Err()
}

func (db *DB) LogBurst(sent int) error {
	_, err := db.Exec(`
		INSERT INTO business_hours_log (event_type, notifications_sent)
		VALUES ('burst_sent', ?)
	`, sent)
	return err
}

// GetBreachStats returns statistics about recorded SLA breaches
func (db *DB) GetBreachStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	err := db.QueryRow("SELECT COUNT(*) FROM sla_breaches").Scan(&total)
	if err != nil {
		return nil, err
	}
	stats["total_breaches"] = total

	rows, err := db.Query(`
		SELECT status, COUNT(*)
		FROM sla_breaches
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statusCounts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		statusCounts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["by_status"] = statusCounts

	var last24h int
	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM sla_breaches
		WHERE detected_at > datetime('now', '-24 hours')
	`).Scan(&last24h)
	if err != nil {
		return nil, err
	}
	stats["breaches_last_24h"] = last24h

	var queueSize int
	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM sla_breaches
		WHERE status = 'queued'
	`).Scan(&queueSize)
	if err != nil {
		return nil, err
	}
	stats["current_queue_size"] = queueSize

	var burstEvents, totalBurstSent int
	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(notifications_sent), 0)
		FROM business_hours_log
		WHERE event_type = 'burst_sent'
		AND event_time > datetime('now', '-7 days')
	`).Scan(&burstEvents, &totalBurstSent)
	if err != nil {
		return nil, err
	}
	stats["burst_events_7d"] = burstEvents
	stats["burst_notifications_7d"] = totalBurstSent

	return stats, nil
}
