package models

import "time"

// StatusPending is the conversation status code for pending/snoozed tickets.
const StatusPending = 2

type Ticket struct {
	ID           string
	Customer     string
	Subject      string
	Number       string
	Status       int
	WaitingSince time.Time
	SLA          time.Time
}

// RawEntry is one scraped ticket record before validation.
type RawEntry map[string]any

// EmptyFolderNotice is shown when the tracked folder has no open tickets.
type EmptyFolderNotice struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

type Breach struct {
	ID         int
	TicketID   string
	Number     string
	Subject    string
	Customer   string
	Deadline   time.Time
	DetectedAt time.Time
	Status     BreachStatus
}

type BreachStatus string

const (
	BreachQueued      BreachStatus = "queued"
	BreachSent        BreachStatus = "sent"
	BreachDesktopOnly BreachStatus = "desktop_only"
)
