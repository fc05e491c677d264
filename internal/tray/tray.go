// Package tray draws the session view into the system tray.
package tray

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"reflect"
	"runtime"
	"sync"

	"github.com/energye/systray"
	"github.com/voicetel/freescout-sla-tray/internal/session"
)

const tooltip = "FreeScout SLA"

// Sink receives the menu's own actions.
type Sink interface {
	Submit(ctx context.Context, ev session.Event) error
}

// backend is the slice of the tray toolkit the renderer drives.
type backend interface {
	SetTitle(title string)
	SetTooltip(tooltip string)
	SetIcon(png []byte)
	ResetMenu()
	AddItem(label string, icon []byte, enabled bool, onClick func())
	AddSeparator()
	Quit()
}

// Tray implements session.Renderer.
type Tray struct {
	mu       sync.Mutex
	ctx      context.Context
	ui       backend
	icons    *iconSet
	routes   session.Routes
	sink     Sink
	open     func(url string) error
	lastMenu []session.MenuItem
	built    bool
	window   bool
	dock     bool
	log      *slog.Logger
}

func New(ctx context.Context, routes session.Routes, log *slog.Logger) *Tray {
	return newTray(ctx, systrayBackend{}, routes, openBrowser, log)
}

func newTray(ctx context.Context, ui backend, routes session.Routes, open func(string) error, log *slog.Logger) *Tray {
	if log == nil {
		log = slog.Default()
	}
	return &Tray{
		ctx:    ctx,
		ui:     ui,
		icons:  newIconSet(),
		routes: routes,
		open:   open,
		log:    log,
	}
}

// SetSink wires the Reload and Log out items to the machine.
func (t *Tray) SetSink(sink Sink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// Ready finishes tray setup once the toolkit is up.
func (t *Tray) Ready() {
	t.ui.SetTooltip(tooltip)
	systray.SetOnClick(showMenu)
	systray.SetOnRClick(showMenu)
}

func (t *Tray) SetTitle(title string) {
	t.ui.SetTitle(title)
}

func (t *Tray) SetIcon(icon session.Icon) {
	b := t.icons.get(icon)
	if b == nil {
		t.log.Warn("failed to draw tray icon", "tier", icon.Tier.String(), "offline", icon.Offline)
		return
	}
	t.ui.SetIcon(b)
}

// SetMenu rebuilds the menu only when the items actually changed.
func (t *Tray) SetMenu(items []session.MenuItem) {
	t.mu.Lock()
	if t.built && reflect.DeepEqual(t.lastMenu, items) {
		t.mu.Unlock()
		return
	}
	t.lastMenu = append([]session.MenuItem(nil), items...)
	t.built = true
	t.mu.Unlock()

	t.ui.ResetMenu()
	for _, item := range items {
		var onClick func()
		if item.Enabled && item.URL != "" {
			url := item.URL
			onClick = func() { t.openURL(url) }
		}
		var icon []byte
		if item.Icon != (session.Icon{}) {
			icon = t.icons.get(item.Icon)
		}
		t.ui.AddItem(item.Label, icon, item.Enabled, onClick)
	}

	if len(items) > 0 {
		t.ui.AddSeparator()
	}
	t.ui.AddItem("Reload", nil, true, func() { t.submit(session.Reload{}) })
	t.ui.AddItem("Log out", nil, true, func() { t.submit(session.LogOut{}) })
	t.ui.AddItem("Quit", nil, true, t.ui.Quit)
}

// ShowWindow sends the user to the login page in their browser.
func (t *Tray) ShowWindow() {
	t.mu.Lock()
	shown := t.window
	t.window = true
	t.mu.Unlock()

	if !shown {
		t.openURL(t.routes.Login())
	}
}

func (t *Tray) HideWindow() {
	t.mu.Lock()
	t.window = false
	t.mu.Unlock()
}

// The tray has no dock presence; only the request is tracked.
func (t *Tray) ShowDock() { t.setDock(true) }
func (t *Tray) HideDock() { t.setDock(false) }

func (t *Tray) setDock(visible bool) {
	t.mu.Lock()
	changed := t.dock != visible
	t.dock = visible
	t.mu.Unlock()

	if changed {
		t.log.Debug("dock visibility changed", "visible", visible)
	}
}

func (t *Tray) openURL(url string) {
	if err := t.open(url); err != nil {
		t.log.Error("failed to open browser", "url", url, "error", err.Error())
	}
}

func (t *Tray) submit(ev session.Event) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()

	if sink == nil {
		return
	}
	if err := sink.Submit(t.ctx, ev); err != nil {
		t.log.Warn("menu action dropped", "event", fmt.Sprintf("%T", ev), "error", err.Error())
	}
}

func showMenu(menu systray.IMenu) {
	if menu == nil {
		return
	}
	if err := menu.ShowMenu(); err != nil {
		slog.Warn("failed to show menu", "error", err.Error())
	}
}

// openBrowser opens url in the default browser.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

type systrayBackend struct{}

func (systrayBackend) SetTitle(title string)     { systray.SetTitle(title) }
func (systrayBackend) SetTooltip(tooltip string) { systray.SetTooltip(tooltip) }
func (systrayBackend) SetIcon(png []byte)        { systray.SetIcon(png) }
func (systrayBackend) ResetMenu()                { systray.ResetMenu() }
func (systrayBackend) AddSeparator()             { systray.AddSeparator() }
func (systrayBackend) Quit()                     { systray.Quit() }

func (systrayBackend) AddItem(label string, icon []byte, enabled bool, onClick func()) {
	item := systray.AddMenuItem(label, "")
	if icon != nil {
		item.SetIcon(icon)
	}
	if !enabled {
		item.Disable()
	}
	if onClick != nil {
		item.Click(onClick)
	}
}
