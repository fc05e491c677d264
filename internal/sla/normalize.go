package sla

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/voicetel/freescout-sla-tray/internal/models"
)

// ErrMalformedEntry is matched by every *MalformedEntryError.
var ErrMalformedEntry = errors.New("malformed ticket entry")

type MalformedEntryError struct {
	Field string
	Err   error
}

func (e *MalformedEntryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed ticket entry: field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("malformed ticket entry: missing field %q", e.Field)
}

func (e *MalformedEntryError) Is(target error) bool { return target == ErrMalformedEntry }

func (e *MalformedEntryError) Unwrap() error { return e.Err }

// Normalize converts a raw entry into a Ticket whose deadline is
// waitingSince plus slaHours.
func Normalize(raw models.RawEntry, slaHours float64) (models.Ticket, error) {
	var t models.Ticket

	id, err := requiredText(raw, "id")
	if err != nil {
		return t, err
	}
	subject, err := requiredText(raw, "subject")
	if err != nil {
		return t, err
	}
	number, err := requiredText(raw, "number")
	if err != nil {
		return t, err
	}
	status, err := requiredInt(raw, "status")
	if err != nil {
		return t, err
	}
	waitingSince, err := resolveWaitingSince(raw)
	if err != nil {
		return t, err
	}

	t.ID = id
	t.Customer = customerName(raw["customer"])
	t.Subject = subject
	t.Number = number
	t.Status = status
	t.WaitingSince = waitingSince
	t.SLA = waitingSince.Add(Hours(slaHours))

	return t, nil
}

// NormalizeBatch normalizes every entry, dropping the malformed ones.
// The returned errors describe each dropped entry.
func NormalizeBatch(raws []models.RawEntry, slaHours float64) ([]models.Ticket, []error) {
	tickets := make([]models.Ticket, 0, len(raws))
	var errs []error

	for i, raw := range raws {
		t, err := Normalize(raw, slaHours)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		tickets = append(tickets, t)
	}

	return tickets, errs
}

// Hours converts a fractional hour count to a Duration. Negative values count
// as zero; values past what a Duration can hold are clamped.
func Hours(h float64) time.Duration {
	if h <= 0 || math.IsNaN(h) {
		return 0
	}
	d := h * float64(time.Hour)
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// resolveWaitingSince applies the source's precedence: a non-empty string is
// parsed as UTC, an empty string falls back to modifiedAt, anything else is
// already a timestamp.
func resolveWaitingSince(raw models.RawEntry) (time.Time, error) {
	v, ok := raw["waitingSince"]
	if !ok || v == nil {
		return time.Time{}, &MalformedEntryError{Field: "waitingSince"}
	}

	s, isString := v.(string)
	switch {
	case isString && s != "":
		ts, err := dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return time.Time{}, &MalformedEntryError{Field: "waitingSince", Err: err}
		}
		return ts.UTC(), nil
	case isString:
		ts, err := toTime(raw["modifiedAt"])
		if err != nil {
			return time.Time{}, &MalformedEntryError{Field: "modifiedAt", Err: err}
		}
		return ts, nil
	default:
		ts, err := toTime(v)
		if err != nil {
			return time.Time{}, &MalformedEntryError{Field: "waitingSince", Err: err}
		}
		return ts, nil
	}
}

func toTime(v any) (time.Time, error) {
	switch value := v.(type) {
	case time.Time:
		return value, nil
	case *time.Time:
		if value == nil {
			return time.Time{}, errors.New("nil timestamp")
		}
		return *value, nil
	case string:
		if value == "" {
			return time.Time{}, errors.New("empty timestamp")
		}
		return dateparse.ParseIn(value, time.UTC)
	case float64:
		return time.UnixMilli(int64(value)).UTC(), nil
	case int64:
		return time.UnixMilli(value).UTC(), nil
	case int:
		return time.UnixMilli(int64(value)).UTC(), nil
	case nil:
		return time.Time{}, errors.New("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func requiredText(raw models.RawEntry, field string) (string, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return "", &MalformedEntryError{Field: field}
	}

	switch value := v.(type) {
	case string:
		return value, nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case fmt.Stringer:
		return value.String(), nil
	default:
		return "", &MalformedEntryError{Field: field, Err: fmt.Errorf("unsupported type %T", v)}
	}
}

func requiredInt(raw models.RawEntry, field string) (int, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return 0, &MalformedEntryError{Field: field}
	}

	switch value := v.(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		return int(value), nil
	case string:
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, &MalformedEntryError{Field: field, Err: err}
		}
		return n, nil
	default:
		return 0, &MalformedEntryError{Field: field, Err: fmt.Errorf("unsupported type %T", v)}
	}
}

func customerName(v any) string {
	switch c := v.(type) {
	case map[string]any:
		name, _ := c["fullName"].(string)
		return name
	case models.RawEntry:
		name, _ := c["fullName"].(string)
		return name
	case string:
		return c
	default:
		return ""
	}
}
