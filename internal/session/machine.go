// Package session holds the connectivity and session state machine that owns
// the tray. It is the only component that renders; normalization, selection
// and countdown formatting are pure helpers from package sla.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/voicetel/freescout-sla-tray/internal/models"
	"github.com/voicetel/freescout-sla-tray/internal/options"
	"github.com/voicetel/freescout-sla-tray/internal/sla"
)

type State int

const (
	Offline State = iota
	Syncing
	LoggedOut
	FolderEmpty
	Error
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Syncing:
		return "syncing"
	case LoggedOut:
		return "logged_out"
	case FolderEmpty:
		return "folder_empty"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	eventBuffer  = 16
	probeTimeout = 10 * time.Second
)

type Config struct {
	Routes        Routes
	TickInterval  time.Duration
	ProbeInterval time.Duration
	Location      *time.Location   // deadline view time zone
	Now           func() time.Time // defaults to time.Now
	Logger        *slog.Logger
}

type Machine struct {
	cfg     Config
	opts    Options
	render  Renderer
	loader  Loader
	prober  Prober
	alerter Alerter
	log     *slog.Logger
	now     func() time.Time

	events chan Event
	ctx    context.Context

	state     State
	clock     *sla.Clock
	selected  *models.Ticket
	displayed []models.Ticket
	folder    string
	alerted   map[string]bool
	view      View
	rendered  bool

	poll    context.CancelFunc
	pollSeq uint64
}

// New builds a machine in the Offline state. alerter may be nil.
func New(cfg Config, opts Options, render Renderer, loader Loader, prober Prober, alerter Alerter) *Machine {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Machine{
		cfg:     cfg,
		opts:    opts,
		render:  render,
		loader:  loader,
		prober:  prober,
		alerter: alerter,
		log:     log,
		now:     now,
		events:  make(chan Event, eventBuffer),
		ctx:     context.Background(),
		state:   Offline,
		clock:   sla.NewClock(cfg.TickInterval),
		alerted: make(map[string]bool),
	}
}

func (m *Machine) State() State { return m.state }

// View returns what the tray currently shows.
func (m *Machine) View() View { return m.view }

// Events is the channel Run reads; the connectivity poll posts here too.
func (m *Machine) Events() <-chan Event { return m.events }

// Submit queues an event for Run.
func (m *Machine) Submit(ctx context.Context, ev Event) error {
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the machine and handles events and clock ticks one at a time
// until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	m.Start(ctx)
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			m.Handle(ev)
		case now := <-m.clock.C():
			m.Tick(now)
		}
	}
}

// Start probes connectivity once. Unreachable means Offline plus a poll task
// that posts CameOnline when the probe finally succeeds.
func (m *Machine) Start(ctx context.Context) {
	m.ctx = ctx
	m.show(loadingView())

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	if err != nil {
		m.log.Warn("help desk unreachable at startup", "error", err.Error())
		m.enterOffline()
		return
	}

	m.setState(Syncing)
}

// Handle applies one event.
func (m *Machine) Handle(ev Event) {
	switch e := ev.(type) {
	case Tickets:
		m.onTickets(e)
	case Huzzah:
		m.onHuzzah(e)
	case Navigated:
		m.onNavigated(e)
	case LoadFailed:
		m.onLoadFailed(e)
	case WentOffline:
		if m.state != Offline {
			m.enterOffline()
		}
	case CameOnline:
		m.onOnline(e)
	case Reload:
		m.onReload()
	case LogOut:
		if err := m.opts.Reset(options.MailboxFolderURL); err != nil {
			m.log.Error("failed to reset mailbox folder", "error", err.Error())
		}
		m.enterLoggedOut()
	default:
		m.log.Debug("ignoring unknown event", "event", fmt.Sprintf("%T", ev))
	}
}

// Tick refreshes the countdown. Without an active deadline it does nothing.
func (m *Machine) Tick(now time.Time) {
	if m.state != Syncing {
		return
	}
	if _, active := m.clock.Deadline(); !active {
		return
	}
	m.refresh(now)
}

func (m *Machine) onTickets(e Tickets) {
	if m.state != Syncing && m.state != FolderEmpty {
		m.log.Debug("dropping ticket batch", "state", m.state.String())
		return
	}

	tickets, errs := sla.NormalizeBatch(e.Entries, m.opts.Float(options.SLA))
	for _, err := range errs {
		m.log.Warn("dropped malformed ticket", "error", err.Error())
	}

	sel := sla.Select(tickets, m.opts.Bool(options.FilterPending))
	m.setState(Syncing)
	m.folder = e.Folder
	m.displayed = sel.Displayed
	m.selected = sel.Selected

	if sel.Selected != nil {
		m.clock.Update(sel.Selected.SLA)
	} else {
		m.clock.Stop()
	}

	m.log.Debug("ticket batch applied", "received", len(e.Entries), "tracked", len(tickets), "displayed", len(sel.Displayed))
	m.refresh(m.now())
}

func (m *Machine) onHuzzah(e Huzzah) {
	if m.state != Syncing && m.state != FolderEmpty {
		return
	}
	if e.Notice == nil {
		m.log.Warn("empty folder notice unavailable", "error", ErrEmptyFolderLookup.Error())
		return
	}

	m.stopTracking()
	m.folder = e.Folder
	m.setState(FolderEmpty)

	title := SentenceCase(e.Notice.Title)
	if m.opts.Bool(options.HideClock) {
		title = ""
	}

	menu := append(folderHeader(e.Folder), MenuItem{
		Label:   e.Notice.Body,
		Enabled: e.Notice.URL != "",
		URL:     e.Notice.URL,
	})
	m.show(View{Title: title, Menu: menu})
}

func (m *Machine) onNavigated(e Navigated) {
	if m.state == Offline {
		return
	}

	switch m.cfg.Routes.Classify(e.URL) {
	case PageLogin:
		m.enterLoggedOut()
	case PageDashboardRoot:
		m.stopTracking()
		m.setState(Syncing)
		m.show(placeholderView())
	case PageMailbox, PageDashboard:
		m.render.HideWindow()
		m.render.HideDock()
		if m.state == LoggedOut || m.state == Error || m.state == FolderEmpty {
			m.setState(Syncing)
			m.show(loadingView())
		}
	default:
		m.log.Debug("ignoring navigation", "url", e.URL)
	}
}

func (m *Machine) onLoadFailed(e LoadFailed) {
	if m.state != Syncing && m.state != FolderEmpty {
		return
	}

	if e.Err != nil {
		m.log.Error("mailbox failed to load", "error", e.Err.Error())
	}
	m.stopTracking()
	m.setState(Error)
	m.show(stuckView())
}

func (m *Machine) onOnline(e CameOnline) {
	if e.Poll != 0 && e.Poll != m.pollSeq {
		return
	}
	m.cancelPoll()

	if m.state == Offline || m.state == Error {
		m.setState(Syncing)
		m.show(loadingView())
	}
	m.loader.Reload()
}

func (m *Machine) onReload() {
	switch m.state {
	case Offline:
		return
	case Error:
		m.setState(Syncing)
		m.show(loadingView())
	}
	m.loader.Reload()
}

func (m *Machine) enterOffline() {
	m.stopTracking()
	m.setState(Offline)
	m.show(offlineView())
	m.startPoll()
}

func (m *Machine) enterLoggedOut() {
	m.stopTracking()
	m.setState(LoggedOut)
	m.show(View{})
	m.render.ShowDock()
	m.render.ShowWindow()
}

func (m *Machine) stopTracking() {
	m.clock.Stop()
	m.selected = nil
	m.displayed = nil
}

// refresh renders the Syncing view for now.
func (m *Machine) refresh(now time.Time) {
	window := sla.Hours(m.opts.Float(options.SLA))
	hideClock := m.opts.Bool(options.HideClock)
	timerView := m.opts.Bool(options.TimerView)

	var view View
	if text, tier, ok := m.clock.Read(now, window); ok {
		if !timerView {
			deadline, _ := m.clock.Deadline()
			text = sla.FormatDeadline(deadline, now, m.cfg.Location)
		}
		if !hideClock {
			view.Title = text
		}
		view.Icon = Icon{Tier: tier}

		if tier == sla.TierOverdue && m.selected != nil {
			m.alertOnce(*m.selected)
		}
	} else if !hideClock {
		view.Title = noSLATitle
	}

	view.Menu = folderHeader(m.folder)
	for _, t := range m.displayed {
		when := sla.FormatTimer(t.SLA, now)
		if !timerView {
			when = sla.FormatDeadline(t.SLA, now, m.cfg.Location)
		}
		view.Menu = append(view.Menu, MenuItem{
			Label:   fmt.Sprintf("%s — %s", t.Number, when),
			Icon:    Icon{Tier: sla.StatusIcon(t.SLA, now, window)},
			Enabled: true,
			URL:     m.cfg.Routes.Conversation(t.ID),
		})
	}

	m.show(view)
}

func (m *Machine) alertOnce(t models.Ticket) {
	key := t.ID + "@" + t.SLA.UTC().Format(time.RFC3339)
	if m.alerted[key] {
		return
	}
	m.alerted[key] = true

	m.log.Info("ticket breached SLA", "ticket", t.Number, "deadline", t.SLA)
	if m.alerter != nil {
		m.alerter.Breached(t)
	}
}

// show pushes the parts of v that differ from what is on screen.
func (m *Machine) show(v View) {
	if m.rendered && m.view.Equal(v) {
		return
	}
	if !m.rendered || m.view.Title != v.Title {
		m.render.SetTitle(v.Title)
	}
	if !m.rendered || m.view.Icon != v.Icon {
		m.render.SetIcon(v.Icon)
	}
	if !m.rendered || !slices.Equal(m.view.Menu, v.Menu) {
		m.render.SetMenu(v.Menu)
	}
	m.view = v
	m.rendered = true
}

func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	m.log.Info("session state changed", "from", m.state.String(), "to", s.String())
	m.state = s
}

// startPoll replaces any running connectivity poll with a new one.
func (m *Machine) startPoll() {
	m.cancelPoll()

	ctx, cancel := context.WithCancel(m.ctx)
	m.poll = cancel
	m.pollSeq++
	seq := m.pollSeq
	interval := m.cfg.ProbeInterval

	go func() {
		err := retry.Do(
			func() error {
				probeCtx, done := context.WithTimeout(ctx, probeTimeout)
				defer done()
				return m.prober.Probe(probeCtx)
			},
			retry.Attempts(0),
			retry.Delay(interval),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
		)
		if err != nil {
			return
		}

		select {
		case m.events <- CameOnline{Poll: seq}:
		case <-ctx.Done():
		}
	}()
}

func (m *Machine) cancelPoll() {
	if m.poll != nil {
		m.poll()
		m.poll = nil
	}
}

func (m *Machine) shutdown() {
	m.cancelPoll()
	m.clock.Stop()
}
