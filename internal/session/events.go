package session

import (
	"errors"

	"github.com/voicetel/freescout-sla-tray/internal/models"
)

// ErrEmptyFolderLookup is logged when a huzzah message arrives without the
// empty folder marker.
var ErrEmptyFolderLookup = errors.New("empty folder content not found")

// Event is anything the machine reacts to. Every event is handled to
// completion before the next one is read.
type Event interface {
	event()
}

// Tickets carries one scrape cycle's raw entries.
type Tickets struct {
	Entries []models.RawEntry
	Folder  string
}

// Huzzah reports the tracked folder as empty. A nil Notice means the
// empty-state marker could not be found.
type Huzzah struct {
	Notice *models.EmptyFolderNotice
	Folder string
}

// Navigated reports that the mailbox surface loaded URL.
type Navigated struct {
	URL string
}

// LoadFailed reports a page or query load failure.
type LoadFailed struct {
	Err error
}

// WentOffline reports detected connectivity loss.
type WentOffline struct{}

// CameOnline reports restored connectivity. Poll is set by the machine's own
// connectivity poll; external signals leave it zero.
type CameOnline struct {
	Poll uint64
}

// Reload asks for the mailbox to be loaded again.
type Reload struct{}

// LogOut forgets the tracked folder and requires the user to sign in again.
type LogOut struct{}

func (Tickets) event()     {}
func (Huzzah) event()      {}
func (Navigated) event()   {}
func (LoadFailed) event()  {}
func (WentOffline) event() {}
func (CameOnline) event()  {}
func (Reload) event()      {}
func (LogOut) event()      {}
