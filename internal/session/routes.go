package session

import (
	"net/url"
	"strings"
)

type Page int

const (
	PageUnknown Page = iota
	PageLogin
	PageDashboardRoot
	PageDashboard
	PageMailbox
)

// Routes recognizes the help desk's pages by URL.
type Routes struct {
	base string
}

func NewRoutes(baseURL string) Routes {
	return Routes{base: strings.TrimRight(baseURL, "/")}
}

func (r Routes) Root() string    { return r.base + "/" }
func (r Routes) Login() string   { return r.base + "/login" }
func (r Routes) Mailbox() string { return r.base + "/mailbox/" }

func (r Routes) Conversation(id string) string {
	return r.base + "/conversation/" + url.PathEscape(id)
}

// Classify maps a URL to a page. Query strings and fragments are ignored.
func (r Routes) Classify(raw string) Page {
	u := raw
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}

	switch {
	case u == r.base || u == r.Root():
		return PageDashboardRoot
	case strings.HasPrefix(u, r.Login()):
		return PageLogin
	case strings.HasPrefix(u, r.base+"/dashboard/"):
		return PageDashboard
	case strings.HasPrefix(u, r.base+"/mailbox"):
		return PageMailbox
	default:
		return PageUnknown
	}
}
