// Package notifier delivers SLA breach alerts: a desktop notification right
// away, and a Slack message during business hours. Breaches outside business
// hours wait in the local queue for the start of the next business day.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/voicetel/freescout-sla-tray/internal/config"
	"github.com/voicetel/freescout-sla-tray/internal/database"
	"github.com/voicetel/freescout-sla-tray/internal/models"
	"github.com/voicetel/freescout-sla-tray/internal/slack"
)

const (
	queueSize  = 32
	burstLimit = 20
	burstDelay = 2 * time.Second
)

// Sender posts a Slack message.
type Sender interface {
	Enabled() bool
	SendMessage(ctx context.Context, text string) error
}

type Notifier struct {
	// mu keeps the worker and the scheduled flush from sending the same
	// queued breach twice.
	mu         sync.Mutex
	localDB    *database.DB
	slack      Sender
	bizHours   *BusinessHours
	desktop    func(title, message string) error
	baseURL    string
	queue      chan models.Ticket
	burstDelay time.Duration
	now        func() time.Time
	log        *slog.Logger
}

func New(localDB *database.DB, cfg *config.Config, log *slog.Logger) *Notifier {
	n := newNotifier(localDB, slack.NewClient(cfg.Slack), NewBusinessHours(cfg.BusinessHours), cfg.FreeScout.URL, log)
	if cfg.Tray.DesktopAlerts {
		n.desktop = func(title, message string) error {
			return beeep.Notify(title, message, "")
		}
	}
	return n
}

func newNotifier(localDB *database.DB, sender Sender, bizHours *BusinessHours, baseURL string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		localDB:    localDB,
		slack:      sender,
		bizHours:   bizHours,
		baseURL:    strings.TrimRight(baseURL, "/"),
		queue:      make(chan models.Ticket, queueSize),
		burstDelay: burstDelay,
		now:        time.Now,
		log:        log,
	}
}

// Breached hands a breached ticket to the worker. It never blocks; if the
// worker is hopelessly behind the alert is dropped.
func (n *Notifier) Breached(t models.Ticket) {
	select {
	case n.queue <- t:
	default:
		n.log.Warn("alert queue full, dropping breach alert", "ticket", t.Number)
	}
}

// Run delivers alerts until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-n.queue:
			if err := n.Process(ctx, t); err != nil {
				n.log.Error("failed to deliver breach alert", "ticket", t.Number, "error", err.Error())
			}
		}
	}
}

// Process records a breach and alerts on it. A ticket deadline that was
// already recorded is not alerted again.
func (n *Notifier) Process(ctx context.Context, t models.Ticket) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	inHours := n.bizHours.IsBusinessHours(now)

	status := models.BreachQueued
	if !n.slack.Enabled() {
		status = models.BreachDesktopOnly
	}

	breach := models.Breach{
		TicketID: t.ID,
		Number:   t.Number,
		Subject:  t.Subject,
		Customer: t.Customer,
		Deadline: t.SLA,
		Status:   status,
	}

	created, err := n.localDB.RecordBreach(breach)
	if err != nil {
		return err
	}
	if !created {
		n.log.Debug("breach already recorded", "ticket", t.Number, "deadline", t.SLA)
		return nil
	}

	n.notifyDesktop(breach)

	if status != models.BreachQueued {
		return nil
	}
	if !inHours {
		n.log.Info("queued breach alert until business hours", "ticket", t.Number)
		return nil
	}

	return n.send(ctx, breach)
}

// Tick runs on a schedule and flushes queued alerts once business hours are on.
func (n *Notifier) Tick(ctx context.Context) {
	now := n.now()
	if !n.bizHours.NotifyOnOpen() || !n.bizHours.IsBusinessHours(now) {
		return
	}

	sent, err := n.FlushQueued(ctx)
	if err != nil {
		n.log.Error("failed to flush queued breach alerts", "error", err.Error())
	}
	if sent > 0 {
		n.log.Info("sent queued breach alerts", "count", sent, "start_of_day", n.bizHours.IsStartOfBusinessDay(now))
	}
}

// FlushQueued sends breaches that were queued outside business hours, oldest
// first, and logs the burst.
func (n *Notifier) FlushQueued(ctx context.Context) (int, error) {
	if !n.slack.Enabled() {
		return 0, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	breaches, err := n.localDB.QueuedBreaches(burstLimit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i, b := range breaches {
		if i > 0 && n.burstDelay > 0 {
			select {
			case <-ctx.Done():
				return sent, n.logBurst(sent, ctx.Err())
			case <-time.After(n.burstDelay):
			}
		}

		if err := n.send(ctx, b); err != nil {
			n.log.Error("failed to send queued breach alert", "ticket", b.Number, "error", err.Error())
			continue
		}
		sent++
	}

	return sent, n.logBurst(sent, nil)
}

func (n *Notifier) logBurst(sent int, err error) error {
	if sent > 0 {
		if logErr := n.localDB.LogBurst(sent); logErr != nil {
			n.log.Warn("failed to log business hours event", "error", logErr.Error())
		}
	}
	return err
}

func (n *Notifier) send(ctx context.Context, b models.Breach) error {
	if err := n.slack.SendMessage(ctx, n.formatSlackMessage(b)); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return n.localDB.MarkBreachSent(b.TicketID, b.Deadline)
}

func (n *Notifier) notifyDesktop(b models.Breach) {
	if n.desktop == nil {
		return
	}
	title := fmt.Sprintf("Ticket #%s breached its SLA", b.Number)
	if err := n.desktop(title, b.Subject); err != nil {
		n.log.Warn("failed to show desktop notification", "ticket", b.Number, "error", err.Error())
	}
}

func (n *Notifier) formatSlackMessage(b models.Breach) string {
	overdue := n.now().Sub(b.Deadline)
	if overdue < 0 {
		overdue = 0
	}

	customer := b.Customer
	if customer == "" {
		customer = "Unknown"
	}

	message := fmt.Sprintf("🚨 Ticket #%s breached its SLA\n", b.Number)
	message += fmt.Sprintf("*Subject:* %s\n", b.Subject)
	message += fmt.Sprintf("*Customer:* %s\n", customer)
	message += fmt.Sprintf("*Deadline:* %s (%s ago)\n", b.Deadline.In(n.bizHours.Location()).Format("Mon Jan 2 15:04 MST"), formatDuration(overdue))
	message += fmt.Sprintf("*View ticket:* <%s/conversation/%s|Open in FreeScout>", n.baseURL, b.TicketID)

	return message
}

func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours == 1 {
		if minutes == 0 {
			return "1 hour"
		}
		return fmt.Sprintf("1 hour %d minutes", minutes)
	}

	if minutes == 0 {
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d hours %d minutes", hours, minutes)
}
