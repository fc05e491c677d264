package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicetel/freescout-sla-tray/internal/models"
	"github.com/voicetel/freescout-sla-tray/internal/options"
	"github.com/voicetel/freescout-sla-tray/internal/sla"
)

const baseURL = "https://support.example.com"

type fakeRenderer struct {
	titles  []string
	icons   []Icon
	menus   [][]MenuItem
	window  bool
	dock    bool
	showWin int
}

func (r *fakeRenderer) SetTitle(title string)    { r.titles = append(r.titles, title) }
func (r *fakeRenderer) SetIcon(icon Icon)        { r.icons = append(r.icons, icon) }
func (r *fakeRenderer) SetMenu(items []MenuItem) { r.menus = append(r.menus, items) }
func (r *fakeRenderer) ShowWindow()              { r.window = true; r.showWin++ }
func (r *fakeRenderer) HideWindow()              { r.window = false }
func (r *fakeRenderer) ShowDock()                { r.dock = true }
func (r *fakeRenderer) HideDock()                { r.dock = false }

type fakeOptions struct {
	values map[string]string
	resets []string
}

func newFakeOptions() *fakeOptions {
	values := make(map[string]string)
	for name, opt := range options.Schema(baseURL + "/") {
		values[name] = opt.Default
	}
	return &fakeOptions{values: values}
}

func (o *fakeOptions) String(name string) string { return o.values[name] }

func (o *fakeOptions) Bool(name string) bool {
	b, _ := strconv.ParseBool(o.values[name])
	return b
}

func (o *fakeOptions) Float(name string) float64 {
	f, _ := strconv.ParseFloat(o.values[name], 64)
	return f
}

func (o *fakeOptions) Reset(name string) error {
	o.resets = append(o.resets, name)
	o.values[name] = options.Schema(baseURL + "/")[name].Default
	return nil
}

type countingLoader struct{ reloads int }

func (l *countingLoader) Reload() { l.reloads++ }

// scriptedProber fails until healthy is set.
type scriptedProber struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (p *scriptedProber) Probe(ctx context.Context) error {
	p.calls.Add(1)
	if p.healthy.Load() {
		return nil
	}
	return errors.New("network unreachable")
}

type recordingAlerter struct {
	mu      sync.Mutex
	tickets []models.Ticket
}

func (a *recordingAlerter) Breached(t models.Ticket) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tickets = append(a.tickets, t)
}

type harness struct {
	m       *Machine
	render  *fakeRenderer
	opts    *fakeOptions
	loader  *countingLoader
	prober  *scriptedProber
	alerter *recordingAlerter
	now     time.Time
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()

	h := &harness{
		render:  &fakeRenderer{},
		opts:    newFakeOptions(),
		loader:  &countingLoader{},
		prober:  &scriptedProber{},
		alerter: &recordingAlerter{},
		now:     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	h.prober.healthy.Store(online)

	h.m = New(Config{
		Routes:        NewRoutes(baseURL),
		TickInterval:  time.Hour,
		ProbeInterval: 5 * time.Millisecond,
		Location:      time.UTC,
		Now:           func() time.Time { return h.now },
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, h.opts, h.render, h.loader, h.prober, h.alerter)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		h.m.shutdown()
	})
	h.m.Start(ctx)

	return h
}

func (h *harness) lastTitle() string {
	if len(h.render.titles) == 0 {
		return ""
	}
	return h.render.titles[len(h.render.titles)-1]
}

func (h *harness) lastIcon() Icon {
	if len(h.render.icons) == 0 {
		return Icon{}
	}
	return h.render.icons[len(h.render.icons)-1]
}

func (h *harness) lastMenu() []MenuItem {
	if len(h.render.menus) == 0 {
		return nil
	}
	return h.render.menus[len(h.render.menus)-1]
}

func entry(id int, status int, waitingSince string) models.RawEntry {
	return models.RawEntry{
		"id":           float64(id),
		"customer":     map[string]any{"fullName": "Customer " + strconv.Itoa(id)},
		"subject":      "Subject " + strconv.Itoa(id),
		"number":       float64(100 + id),
		"status":       float64(status),
		"waitingSince": waitingSince,
		"modifiedAt":   "2024-01-01T00:00:00Z",
	}
}

func TestStartOnlineEntersSyncing(t *testing.T) {
	h := newHarness(t, true)

	assert.Equal(t, Syncing, h.m.State())
	assert.Equal(t, 0, h.loader.reloads)
}

func TestOfflineAtStartupThenRecovers(t *testing.T) {
	h := newHarness(t, false)

	require.Equal(t, Offline, h.m.State())
	assert.Equal(t, Icon{Offline: true}, h.lastIcon())
	assert.Equal(t, []MenuItem{{Label: offlineLabel}}, h.lastMenu())

	h.prober.healthy.Store(true)

	select {
	case ev := <-h.m.Events():
		h.m.Handle(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("connectivity poll never reported online")
	}

	assert.Equal(t, Syncing, h.m.State())
	assert.Equal(t, 1, h.loader.reloads)

	// The poll has been torn down: nothing else arrives.
	select {
	case ev := <-h.m.Events():
		t.Fatalf("unexpected event after recovery: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, h.loader.reloads)
}

func TestStalePollResultIgnored(t *testing.T) {
	h := newHarness(t, true)

	h.m.Handle(WentOffline{})
	require.Equal(t, Offline, h.m.State())
	staleSeq := h.m.pollSeq

	// A second disconnect while offline keeps the same poll.
	h.m.Handle(WentOffline{})
	assert.Equal(t, staleSeq, h.m.pollSeq)

	h.m.Handle(CameOnline{Poll: staleSeq + 7})
	assert.Equal(t, Offline, h.m.State())
	assert.Equal(t, 0, h.loader.reloads)

	h.m.Handle(CameOnline{})
	assert.Equal(t, Syncing, h.m.State())
	assert.Equal(t, 1, h.loader.reloads)
}

func TestTicketsSelectMostUrgent(t *testing.T) {
	h := newHarness(t, true)

	h.m.Handle(Tickets{
		Folder: "Support",
		Entries: []models.RawEntry{
			entry(1, 1, "2024-01-01 06:00:00"),
			entry(2, models.StatusPending, "2024-01-01 01:00:00"),
			entry(3, 1, "2024-01-01 03:00:00"),
		},
	})

	// Ticket 3 waits since 03:00, due 03:00 tomorrow: 15h left at noon.
	assert.Equal(t, "15h 0m", h.lastTitle())
	assert.Equal(t, Icon{Tier: sla.TierPlenty}, h.lastIcon())

	menu := h.lastMenu()
	require.Len(t, menu, 3)
	assert.Equal(t, MenuItem{Label: "Support"}, menu[0])
	assert.Equal(t, "103 — 15h 0m", menu[1].Label)
	assert.Equal(t, baseURL+"/conversation/3", menu[1].URL)
	assert.True(t, menu[1].Enabled)
	assert.Equal(t, "101 — 18h 0m", menu[2].Label)

	deadline, active := h.m.clock.Deadline()
	require.True(t, active)
	assert.True(t, deadline.Equal(time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)))
}

func TestTicketsWithoutPendingFilter(t *testing.T) {
	h := newHarness(t, true)
	h.opts.values[options.FilterPending] = "false"

	h.m.Handle(Tickets{Entries: []models.RawEntry{
		entry(1, 1, "2024-01-01 06:00:00"),
		entry(2, models.StatusPending, "2024-01-01 01:00:00"),
	}})

	assert.Equal(t, "13h 0m", h.lastTitle())
	assert.Len(t, h.lastMenu(), 2, "no folder header when the folder is unknown")
}

func TestMalformedEntriesDropped(t *testing.T) {
	h := newHarness(t, true)
	bad := entry(9, 1, "")
	delete(bad, "status")

	h.m.Handle(Tickets{Entries: []models.RawEntry{bad, entry(1, 1, "2024-01-01 06:00:00")}})

	assert.Equal(t, "18h 0m", h.lastTitle())
	assert.Len(t, h.lastMenu(), 1)
}

func TestNoSLAWhenNothingTracked(t *testing.T) {
	h := newHarness(t, true)

	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(2, models.StatusPending, "")}})
	assert.Equal(t, noSLATitle, h.lastTitle())
	assert.Equal(t, Icon{}, h.lastIcon())
	_, active := h.m.clock.Deadline()
	assert.False(t, active)

	h.opts.values[options.HideClock] = "true"
	h.m.Handle(Tickets{Entries: nil, Folder: "Support"})
	assert.Equal(t, "", h.lastTitle())
}

func TestHideClockKeepsIcon(t *testing.T) {
	h := newHarness(t, true)
	h.opts.values[options.HideClock] = "true"

	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})

	assert.Equal(t, "", h.m.View().Title)
	assert.Equal(t, Icon{Tier: sla.TierPlenty}, h.m.View().Icon)
}

func TestDeadlineView(t *testing.T) {
	h := newHarness(t, true)
	h.opts.values[options.TimerView] = "false"

	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})
	assert.Equal(t, "Tue 06:00", h.lastTitle())
	require.Len(t, h.lastMenu(), 1)
	assert.Equal(t, "101 — Tue 06:00", h.lastMenu()[0].Label)
}

func TestTickRefreshesAndAlertsOnce(t *testing.T) {
	h := newHarness(t, true)
	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})

	h.m.Tick(time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC))
	assert.Equal(t, "5h 0m", h.lastTitle())
	assert.Equal(t, Icon{Tier: sla.TierApproaching}, h.lastIcon())
	assert.Empty(t, h.alerter.tickets)

	h.m.Tick(time.Date(2024, 1, 2, 7, 30, 0, 0, time.UTC))
	assert.Equal(t, "-1h 30m", h.lastTitle())
	assert.Equal(t, Icon{Tier: sla.TierOverdue}, h.lastIcon())

	h.m.Tick(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	require.Len(t, h.alerter.tickets, 1)
	assert.Equal(t, "1", h.alerter.tickets[0].ID)
}

func TestTickAfterStopShowsNothing(t *testing.T) {
	h := newHarness(t, true)
	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})
	h.m.Handle(Huzzah{Notice: &models.EmptyFolderNotice{Title: "ALL CLEAR", Body: "Nothing here"}})

	titles := len(h.render.titles)
	h.m.Tick(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	assert.Len(t, h.render.titles, titles)
	assert.Equal(t, "All clear", h.lastTitle())
	assert.Nil(t, h.m.clock.C())
}

func TestHuzzah(t *testing.T) {
	h := newHarness(t, true)

	h.m.Handle(Huzzah{
		Folder: "Support",
		Notice: &models.EmptyFolderNotice{Title: "All done!", Body: "Read the docs", URL: "https://docs.example.com"},
	})

	assert.Equal(t, FolderEmpty, h.m.State())
	assert.Equal(t, "All done!", h.lastTitle())
	assert.Equal(t, []MenuItem{
		{Label: "Support"},
		{Label: "Read the docs", Enabled: true, URL: "https://docs.example.com"},
	}, h.lastMenu())

	h.m.Handle(Huzzah{Notice: &models.EmptyFolderNotice{Title: "hOORAY", Body: "No link"}})
	assert.Equal(t, "Hooray", h.lastTitle())
	assert.Equal(t, []MenuItem{{Label: "No link"}}, h.lastMenu())

	// A new batch starts the next cycle.
	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})
	assert.Equal(t, Syncing, h.m.State())
}

func TestNavigationLeavesEmptyFolder(t *testing.T) {
	h := newHarness(t, true)
	h.m.Handle(Huzzah{Folder: "Support", Notice: &models.EmptyFolderNotice{Title: "All done!", Body: "Nothing here"}})
	require.Equal(t, FolderEmpty, h.m.State())

	h.m.Handle(Navigated{URL: baseURL + "/mailbox/3/9"})

	assert.Equal(t, Syncing, h.m.State())
	assert.Equal(t, []MenuItem{{Label: loadingLabel}}, h.lastMenu())
	assert.Equal(t, "", h.lastTitle())
}

func TestHuzzahLookupFailureKeepsState(t *testing.T) {
	h := newHarness(t, true)
	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})
	before := h.m.View()

	h.m.Handle(Huzzah{})

	assert.Equal(t, Syncing, h.m.State())
	assert.True(t, before.Equal(h.m.View()))
	_, active := h.m.clock.Deadline()
	assert.True(t, active)
}

func TestLoadFailureAndReload(t *testing.T) {
	h := newHarness(t, true)
	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})

	h.m.Handle(LoadFailed{Err: errors.New("502 bad gateway")})
	assert.Equal(t, Error, h.m.State())
	assert.Equal(t, []MenuItem{{Label: stuckLabel}}, h.lastMenu())
	assert.Equal(t, "", h.lastTitle())
	_, active := h.m.clock.Deadline()
	assert.False(t, active)

	// Data does not revive the error state by itself.
	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})
	assert.Equal(t, Error, h.m.State())

	h.m.Handle(Reload{})
	assert.Equal(t, Syncing, h.m.State())
	assert.Equal(t, 1, h.loader.reloads)
}

func TestOnlineSignalRecoversFromError(t *testing.T) {
	h := newHarness(t, true)
	h.m.Handle(LoadFailed{})

	h.m.Handle(CameOnline{})
	assert.Equal(t, Syncing, h.m.State())
	assert.Equal(t, 1, h.loader.reloads)
}

func TestNavigation(t *testing.T) {
	h := newHarness(t, true)
	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})

	h.m.Handle(Navigated{URL: baseURL + "/login?redirect=%2F"})
	assert.Equal(t, LoggedOut, h.m.State())
	assert.True(t, h.render.window)
	assert.True(t, h.render.dock)
	assert.Equal(t, "", h.lastTitle())
	assert.Empty(t, h.lastMenu())
	_, active := h.m.clock.Deadline()
	assert.False(t, active)

	h.m.Handle(Navigated{URL: baseURL + "/mailbox/3"})
	assert.Equal(t, Syncing, h.m.State())
	assert.False(t, h.render.window)
	assert.False(t, h.render.dock)

	h.m.Handle(Navigated{URL: baseURL + "/"})
	assert.Equal(t, Syncing, h.m.State())
	assert.Equal(t, []MenuItem{{Label: placeholderLabel}}, h.lastMenu())

	h.m.Handle(Navigated{URL: "https://elsewhere.example.com/login"})
	assert.Equal(t, Syncing, h.m.State())
}

func TestNavigationIgnoredWhileOffline(t *testing.T) {
	h := newHarness(t, false)

	h.m.Handle(Navigated{URL: baseURL + "/login"})
	assert.Equal(t, Offline, h.m.State())
	assert.Equal(t, 0, h.render.showWin)
}

func TestDisconnectFromAnyState(t *testing.T) {
	h := newHarness(t, true)
	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})

	h.m.Handle(WentOffline{})
	assert.Equal(t, Offline, h.m.State())
	assert.Equal(t, "", h.lastTitle())
	assert.Equal(t, Icon{Offline: true}, h.lastIcon())
	assert.Equal(t, []MenuItem{{Label: offlineLabel}}, h.lastMenu())
	_, active := h.m.clock.Deadline()
	assert.False(t, active)

	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})
	assert.Equal(t, Offline, h.m.State(), "batches are ignored while offline")
	h.m.Handle(Reload{})
	assert.Equal(t, 0, h.loader.reloads)
}

func TestLogOutResetsFolder(t *testing.T) {
	h := newHarness(t, true)
	h.opts.values[options.MailboxFolderURL] = baseURL + "/mailbox/3"

	h.m.Handle(LogOut{})

	assert.Equal(t, LoggedOut, h.m.State())
	assert.Equal(t, []string{options.MailboxFolderURL}, h.opts.resets)
	assert.Equal(t, baseURL+"/", h.opts.values[options.MailboxFolderURL])
}

func TestRenderSkipsUnchangedParts(t *testing.T) {
	h := newHarness(t, true)
	h.now = h.now.Add(30 * time.Second)
	h.m.Handle(Tickets{Entries: []models.RawEntry{entry(1, 1, "2024-01-01 06:00:00")}})
	titles := len(h.render.titles)
	menus := len(h.render.menus)
	icons := len(h.render.icons)

	h.m.Tick(h.now.Add(20 * time.Second))

	assert.Equal(t, "17h 59m", h.lastTitle())
	assert.Len(t, h.render.titles, titles)
	assert.Len(t, h.render.menus, menus)
	assert.Len(t, h.render.icons, icons)
}

func TestRunProcessesEvents(t *testing.T) {
	h := &harness{render: &fakeRenderer{}, opts: newFakeOptions(), loader: &countingLoader{}, prober: &scriptedProber{}}
	h.prober.healthy.Store(true)
	m := New(Config{Routes: NewRoutes(baseURL), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
		h.opts, h.render, h.loader, h.prober, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, m.Submit(ctx, Huzzah{Notice: &models.EmptyFolderNotice{Title: "done", Body: "b"}}))
	require.NoError(t, m.Submit(ctx, Reload{}))

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSentenceCase(t *testing.T) {
	assert.Equal(t, "All done!", SentenceCase("All done!"))
	assert.Equal(t, "All done!", SentenceCase("ALL DONE!"))
	assert.Equal(t, "Émile est là", SentenceCase("émile EST LÀ"))
	assert.Equal(t, "", SentenceCase(""))
	assert.False(t, strings.HasPrefix(SentenceCase("  spaced"), " "))
}
