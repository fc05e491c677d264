package session

import (
	"context"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/voicetel/freescout-sla-tray/internal/models"
	"github.com/voicetel/freescout-sla-tray/internal/sla"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Icon selects the tray image: an urgency tier, or the offline image.
type Icon struct {
	Tier    sla.Tier
	Offline bool
}

type MenuItem struct {
	Label   string
	Icon    Icon
	Enabled bool
	URL     string // opened on click when set
}

// View is everything the tray shows at one moment.
type View struct {
	Title string
	Icon  Icon
	Menu  []MenuItem
}

func (v View) Equal(o View) bool {
	return v.Title == o.Title && v.Icon == o.Icon && slices.Equal(v.Menu, o.Menu)
}

// Renderer draws the tray. Calls are fire and forget.
type Renderer interface {
	SetTitle(title string)
	SetIcon(icon Icon)
	SetMenu(items []MenuItem)
	ShowWindow()
	HideWindow()
	ShowDock()
	HideDock()
}

// Loader reloads the mailbox source.
type Loader interface {
	Reload()
}

// Prober checks whether the help desk is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Options is read on every decision; implementations must not cache.
type Options interface {
	String(name string) string
	Bool(name string) bool
	Float(name string) float64
	Reset(name string) error
}

// Alerter is told once when the most urgent ticket misses its deadline.
type Alerter interface {
	Breached(t models.Ticket)
}

// Fixed menu labels.
const (
	offlineLabel     = "You appear to be offline."
	stuckLabel       = "Unable to load the mailbox."
	placeholderLabel = "Choose a mailbox folder to track."
	loadingLabel     = "Loading mailbox…"
	noSLATitle       = "No SLA"
)

// SentenceCase upper-cases the first letter of s and lower-cases the rest.
func SentenceCase(s string) string {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + cases.Lower(language.Und).String(s[size:])
}

func offlineView() View {
	return View{
		Icon: Icon{Offline: true},
		Menu: []MenuItem{{Label: offlineLabel}},
	}
}

func stuckView() View {
	return View{
		Icon: Icon{Offline: true},
		Menu: []MenuItem{{Label: stuckLabel}},
	}
}

func placeholderView() View {
	return View{Menu: []MenuItem{{Label: placeholderLabel}}}
}

func loadingView() View {
	return View{Menu: []MenuItem{{Label: loadingLabel}}}
}

func folderHeader(folder string) []MenuItem {
	if folder == "" {
		return nil
	}
	return []MenuItem{{Label: folder}}
}
