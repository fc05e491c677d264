package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/voicetel/freescout-sla-tray/internal/config"
	"github.com/voicetel/freescout-sla-tray/internal/models"
)

// FreeScout conversation codes.
const (
	lastReplyFromCustomer = 1
	statePublished        = 1
	statusActive          = 1
	statusPending         = 2
)

// waitingSinceLayout matches how FreeScout renders timestamps: UTC without a zone.
const waitingSinceLayout = "2006-01-02 15:04:05"

func ConnectFreeScout(cfg config.FreeScoutConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Duration)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// OpenFreeScout prepares the pool without requiring the server to be
// reachable yet; the tray starts offline and probes until it is.
func OpenFreeScout(cfg config.FreeScoutConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// IsAuthError reports whether err is MySQL refusing the credentials.
func IsAuthError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1044 || myErr.Number == 1045
	}
	return false
}

func GetMailboxName(ctx context.Context, db *sql.DB, mailboxID int) (string, error) {
	var name string
	err := db.QueryRowContext(ctx, "SELECT name FROM mailboxes WHERE id = ?", mailboxID).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	return name, nil
}

// GetOpenConversations returns the active and pending conversations of a
// mailbox as raw entries, in the same loose shape the dashboard emits.
// folderID 0 means every folder.
func GetOpenConversations(ctx context.Context, db *sql.DB, mailboxID, folderID int) ([]models.RawEntry, error) {
	query := `
		SELECT
			c.id,
			c.number,
			COALESCE(c.subject, ''),
			c.status,
			CONCAT(COALESCE(cust.first_name, ''), ' ', COALESCE(cust.last_name, '')) AS customer_name,
			c.last_reply_at,
			c.last_reply_from,
			c.updated_at
		FROM conversations c
		LEFT JOIN customers cust ON c.customer_id = cust.id
		WHERE c.mailbox_id = ?
			AND c.state = ?
			AND c.status IN (?, ?)`
	args := []any{mailboxID, statePublished, statusActive, statusPending}

	if folderID > 0 {
		query += `
			AND c.folder_id = ?`
		args = append(args, folderID)
	}
	query += `
		ORDER BY c.last_reply_at ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

func scanConversations(rows *sql.Rows) ([]models.RawEntry, error) {
	entries := []models.RawEntry{}

	for rows.Next() {
		var (
			id, number, status int
			subject, customer  string
			lastReplyAt        sql.NullTime
			lastReplyFrom      sql.NullInt64
			updatedAt          time.Time
		)

		if err := rows.Scan(&id, &number, &subject, &status, &customer, &lastReplyAt, &lastReplyFrom, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		// Only conversations whose last word came from the customer are
		// waiting on an agent.
		waitingSince := ""
		if lastReplyAt.Valid && lastReplyFrom.Valid && lastReplyFrom.Int64 == lastReplyFromCustomer {
			waitingSince = lastReplyAt.Time.UTC().Format(waitingSinceLayout)
		}

		entries = append(entries, models.RawEntry{
			"id":           id,
			"number":       number,
			"subject":      subject,
			"status":       status,
			"customer":     map[string]any{"fullName": strings.TrimSpace(customer)},
			"waitingSince": waitingSince,
			"modifiedAt":   updatedAt,
		})
	}

	return entries, rows.Err()
}
