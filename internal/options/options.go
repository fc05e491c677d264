// Package options is the persisted key-value store for user preferences the
// tray reads at every decision point.
package options

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/voicetel/freescout-sla-tray/internal/database"
)

const (
	MailboxFolderURL = "mailboxFolderURL"
	TimerView        = "timerView"
	HideClock        = "hideClock"
	SLA              = "sla"
	FilterPending    = "filterPending"
)

type Kind int

const (
	KindString Kind = iota
	KindBool
	KindNumber
)

type Option struct {
	Kind    Kind
	Default string
}

// ErrUnknownOption is returned for names outside the schema.
var ErrUnknownOption = errors.New("unknown option")

// Schema returns the recognized options. dashboardURL is the default
// mailbox folder URL.
func Schema(dashboardURL string) map[string]Option {
	return map[string]Option{
		MailboxFolderURL: {Kind: KindString, Default: dashboardURL},
		TimerView:        {Kind: KindBool, Default: "true"},
		HideClock:        {Kind: KindBool, Default: "false"},
		SLA:              {Kind: KindNumber, Default: "24"},
		FilterPending:    {Kind: KindBool, Default: "true"},
	}
}

// Store reads options from SQLite on every call; nothing is cached.
type Store struct {
	db     *database.DB
	schema map[string]Option
}

func NewStore(db *database.DB, schema map[string]Option) *Store {
	return &Store{db: db, schema: schema}
}

// Get returns the stored value of name, or its default.
func (s *Store) Get(name string) (string, error) {
	opt, ok := s.schema[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM options WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return opt.Default, nil
	}
	if err != nil {
		return opt.Default, fmt.Errorf("failed to read option %s: %w", name, err)
	}

	return value, nil
}

// Set validates value against the option's kind and stores it.
func (s *Store) Set(name, value string) error {
	opt, ok := s.schema[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}

	switch opt.Kind {
	case KindBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("option %s expects a boolean: %w", name, err)
		}
	case KindNumber:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("option %s expects a number: %w", name, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("option %s must be a finite number", name)
		}
		if f < 0 {
			return fmt.Errorf("option %s must not be negative", name)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO options (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, name, value)
	if err != nil {
		return fmt.Errorf("failed to write option %s: %w", name, err)
	}
	return nil
}

// Reset restores name to its default.
func (s *Store) Reset(name string) error {
	if _, ok := s.schema[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}

	if _, err := s.db.Exec("DELETE FROM options WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to reset option %s: %w", name, err)
	}
	return nil
}

// String, Bool and Float never fail: read errors are logged and the
// default is used.

func (s *Store) String(name string) string {
	v, err := s.Get(name)
	if err != nil {
		slog.Warn("option read failed", "option", name, "error", err.Error())
	}
	return v
}

func (s *Store) Bool(name string) bool {
	v := s.String(name)
	b, err := strconv.ParseBool(v)
	if err != nil {
		def, _ := strconv.ParseBool(s.schema[name].Default)
		return def
	}
	return b
}

func (s *Store) Float(name string) float64 {
	v := s.String(name)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		def, _ := strconv.ParseFloat(s.schema[name].Default, 64)
		return def
	}
	return f
}
