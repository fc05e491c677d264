// Package source feeds the session machine from the FreeScout database,
// standing in for the dashboard page: each cycle it reports which page it
// landed on, then the folder's tickets or an empty folder notice.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voicetel/freescout-sla-tray/internal/database"
	"github.com/voicetel/freescout-sla-tray/internal/models"
	"github.com/voicetel/freescout-sla-tray/internal/options"
	"github.com/voicetel/freescout-sla-tray/internal/session"
)

var ErrNotMailboxURL = errors.New("not a mailbox folder URL")

type Sink interface {
	Submit(ctx context.Context, ev session.Event) error
}

type OptionReader interface {
	String(name string) string
}

type Poller struct {
	db       *sql.DB
	opts     OptionReader
	routes   session.Routes
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	reload   chan struct{}
	lastPage string
	log      *slog.Logger
}

func NewPoller(db *sql.DB, opts OptionReader, routes session.Routes, interval, timeout time.Duration, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		db:       db,
		opts:     opts,
		routes:   routes,
		interval: interval,
		timeout:  timeout,
		reload:   make(chan struct{}, 1),
		log:      log,
	}
}

// SetSink wires the poller to the machine it feeds.
func (p *Poller) SetSink(sink Sink) { p.sink = sink }

// Reload schedules an immediate poll. Requests made while one is already
// pending collapse into it.
func (p *Poller) Reload() {
	select {
	case p.reload <- struct{}{}:
	default:
	}
}

// Probe checks that the FreeScout database answers.
func (p *Poller) Probe(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Run polls immediately, then on every interval or reload request.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		case <-p.reload:
			// The machine asked for a fresh picture: report the page again.
			p.lastPage = ""
			p.Poll(ctx)
			ticker.Reset(p.interval)
		}
	}
}

// Poll runs one cycle.
func (p *Poller) Poll(ctx context.Context) {
	folderURL := p.opts.String(options.MailboxFolderURL)

	if p.routes.Classify(folderURL) != session.PageMailbox {
		p.land(ctx, folderURL)
		return
	}

	mailboxID, folderID, err := ParseFolderURL(folderURL)
	if err != nil {
		p.land(ctx, folderURL)
		p.emit(ctx, session.LoadFailed{Err: err})
		return
	}

	queryCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	name, entries, err := p.fetch(queryCtx, mailboxID, folderID)
	if err != nil {
		p.fail(ctx, err)
		return
	}

	p.land(ctx, folderURL)

	if len(entries) == 0 {
		p.emit(ctx, session.Huzzah{
			Folder: name,
			Notice: &models.EmptyFolderNotice{
				Title: "All caught up!",
				Body:  fmt.Sprintf("No open conversations in %s.", name),
				URL:   folderURL,
			},
		})
		return
	}

	p.emit(ctx, session.Tickets{Entries: entries, Folder: name})
}

func (p *Poller) fetch(ctx context.Context, mailboxID, folderID int) (string, []models.RawEntry, error) {
	name, err := database.GetMailboxName(ctx, p.db, mailboxID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load mailbox %d: %w", mailboxID, err)
	}

	entries, err := database.GetOpenConversations(ctx, p.db, mailboxID, folderID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	return name, entries, nil
}

// fail sorts a failed cycle into refused credentials, lost connectivity or a
// plain load failure.
func (p *Poller) fail(ctx context.Context, err error) {
	if database.IsAuthError(err) {
		p.log.Warn("FreeScout rejected credentials", "error", err.Error())
		p.land(ctx, p.routes.Login())
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	pingErr := p.db.PingContext(pingCtx)
	cancel()
	if pingErr != nil {
		p.log.Warn("FreeScout unreachable", "error", pingErr.Error())
		p.lastPage = ""
		p.emit(ctx, session.WentOffline{})
		return
	}

	p.emit(ctx, session.LoadFailed{Err: err})
}

// land reports a page change. Staying on the same page is not news.
func (p *Poller) land(ctx context.Context, page string) {
	if page == p.lastPage {
		return
	}
	p.lastPage = page
	p.emit(ctx, session.Navigated{URL: page})
}

func (p *Poller) emit(ctx context.Context, ev session.Event) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Submit(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Error("failed to deliver event", "event", fmt.Sprintf("%T", ev), "error", err.Error())
	}
}

// ParseFolderURL extracts the mailbox and optional folder id from a
// ".../mailbox/{mailbox}/{folder}" URL. A missing folder is returned as 0.
func ParseFolderURL(raw string) (mailboxID, folderID int, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrNotMailboxURL, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	idx := -1
	for i, part := range parts {
		if part == "mailbox" {
			idx = i
			break
		}
	}
	if idx < 0 || idx+1 >= len(parts) {
		return 0, 0, fmt.Errorf("%w: %s", ErrNotMailboxURL, raw)
	}

	mailboxID, err = strconv.Atoi(parts[idx+1])
	if err != nil || mailboxID <= 0 {
		return 0, 0, fmt.Errorf("%w: bad mailbox id in %s", ErrNotMailboxURL, raw)
	}

	if idx+2 < len(parts) {
		folderID, err = strconv.Atoi(parts[idx+2])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: bad folder id in %s", ErrNotMailboxURL, raw)
		}
	}

	return mailboxID, folderID, nil
}
