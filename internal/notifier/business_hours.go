package notifier

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/voicetel/freescout-sla-tray/internal/config"
)

// openingWindow is how long after the start hour counts as the start of
// the business day.
const openingWindow = 5 * time.Minute

type BusinessHours struct {
	enabled      bool
	startHour    int
	endHour      int
	timezone     *time.Location
	workDays     map[time.Weekday]bool
	holidays     map[string]bool
	notifyOnOpen bool
}

type HolidaysFile struct {
	Holidays []string `json:"holidays"`
}

func NewBusinessHours(cfg config.BusinessHoursConfig) *BusinessHours {
	bh := &BusinessHours{
		enabled:      cfg.Enabled,
		startHour:    cfg.StartHour,
		endHour:      cfg.EndHour,
		workDays:     make(map[time.Weekday]bool),
		holidays:     make(map[string]bool),
		notifyOnOpen: cfg.NotifyOnOpen,
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Warn("unknown business hours timezone, using UTC", "timezone", cfg.Timezone, "error", err.Error())
		loc = time.UTC
	}
	bh.timezone = loc

	for _, day := range cfg.WorkDays {
		bh.workDays[day] = true
	}

	if cfg.HolidaysFile != "" {
		if err := bh.loadHolidays(cfg.HolidaysFile); err != nil {
			slog.Warn("failed to load holidays file", "file", cfg.HolidaysFile, "error", err.Error())
		}
	}

	return bh
}

func (bh *BusinessHours) Location() *time.Location { return bh.timezone }

// NotifyOnOpen reports whether queued alerts go out once business hours begin.
func (bh *BusinessHours) NotifyOnOpen() bool { return !bh.enabled || bh.notifyOnOpen }

func (bh *BusinessHours) IsBusinessHours(t time.Time) bool {
	if !bh.enabled {
		return true
	}

	localTime := t.In(bh.timezone)

	if bh.holidays[localTime.Format("2006-01-02")] {
		return false
	}

	if !bh.workDays[localTime.Weekday()] {
		return false
	}

	hour := localTime.Hour()
	return hour >= bh.startHour && hour < bh.endHour
}

func (bh *BusinessHours) IsStartOfBusinessDay(t time.Time) bool {
	if !bh.enabled || !bh.notifyOnOpen {
		return false
	}

	if !bh.IsBusinessHours(t) {
		return false
	}

	localTime := t.In(bh.timezone)
	opening := time.Date(localTime.Year(), localTime.Month(), localTime.Day(), bh.startHour, 0, 0, 0, bh.timezone)
	return localTime.Sub(opening) < openingWindow
}

func (bh *BusinessHours) loadHolidays(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	var hf HolidaysFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return err
	}

	for _, holiday := range hf.Holidays {
		bh.holidays[holiday] = true
	}

	return nil
}
