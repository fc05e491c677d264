package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicetel/freescout-sla-tray/internal/options"
	"github.com/voicetel/freescout-sla-tray/internal/session"
)

const baseURL = "https://support.example.com"

type staticOptions map[string]string

func (o staticOptions) String(name string) string { return o[name] }

type recordingSink struct {
	events []session.Event
}

func (s *recordingSink) Submit(ctx context.Context, ev session.Event) error {
	s.events = append(s.events, ev)
	return nil
}

var conversationColumns = []string{
	"id", "number", "subject", "status", "customer_name", "last_reply_at", "last_reply_from", "updated_at",
}

func newTestPoller(t *testing.T, folderURL string) (*Poller, sqlmock.Sqlmock, *recordingSink) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sink := &recordingSink{}
	p := NewPoller(db, staticOptions{options.MailboxFolderURL: folderURL}, session.NewRoutes(baseURL),
		time.Minute, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.SetSink(sink)

	return p, mock, sink
}

func TestPollEmitsTickets(t *testing.T) {
	p, mock, sink := newTestPoller(t, baseURL+"/mailbox/3/7")
	updated := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT name FROM mailboxes").WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Support"))
	mock.ExpectQuery("FROM conversations c").WithArgs(3, 1, 1, 2, 7).
		WillReturnRows(sqlmock.NewRows(conversationColumns).
			AddRow(int64(11), int64(501), "Refund", int64(1), "Ada", updated, int64(1), updated))

	p.Poll(context.Background())

	require.Len(t, sink.events, 2)
	assert.Equal(t, session.Navigated{URL: baseURL + "/mailbox/3/7"}, sink.events[0])
	tickets, ok := sink.events[1].(session.Tickets)
	require.True(t, ok)
	assert.Equal(t, "Support", tickets.Folder)
	require.Len(t, tickets.Entries, 1)
	assert.Equal(t, "2024-03-11 08:00:00", tickets.Entries[0]["waitingSince"])
	require.NoError(t, mock.ExpectationsWereMet())

	// Same page next cycle: no repeated navigation.
	mock.ExpectQuery("SELECT name FROM mailboxes").WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Support"))
	mock.ExpectQuery("FROM conversations c").WillReturnRows(sqlmock.NewRows(conversationColumns))

	p.Poll(context.Background())

	require.Len(t, sink.events, 3)
	huzzah, ok := sink.events[2].(session.Huzzah)
	require.True(t, ok)
	require.NotNil(t, huzzah.Notice)
	assert.Equal(t, "No open conversations in Support.", huzzah.Notice.Body)
	assert.Equal(t, baseURL+"/mailbox/3/7", huzzah.Notice.URL)
}

func TestPollDashboardRootOnlyNavigates(t *testing.T) {
	p, mock, sink := newTestPoller(t, baseURL+"/")

	p.Poll(context.Background())
	p.Poll(context.Background())

	assert.Equal(t, []session.Event{session.Navigated{URL: baseURL + "/"}}, sink.events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPollAuthErrorLandsOnLogin(t *testing.T) {
	p, mock, sink := newTestPoller(t, baseURL+"/mailbox/3")

	mock.ExpectQuery("SELECT name FROM mailboxes").
		WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})

	p.Poll(context.Background())

	assert.Equal(t, []session.Event{session.Navigated{URL: baseURL + "/login"}}, sink.events)
}

func TestPollConnectivityLoss(t *testing.T) {
	p, mock, sink := newTestPoller(t, baseURL+"/mailbox/3")

	mock.ExpectQuery("SELECT name FROM mailboxes").WillReturnError(errors.New("broken pipe"))
	mock.ExpectPing().WillReturnError(errors.New("dial tcp: no route to host"))

	p.Poll(context.Background())

	assert.Equal(t, []session.Event{session.WentOffline{}}, sink.events)
}

func TestPollLoadFailure(t *testing.T) {
	p, mock, sink := newTestPoller(t, baseURL+"/mailbox/3")

	mock.ExpectQuery("SELECT name FROM mailboxes").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Support"))
	mock.ExpectQuery("FROM conversations c").WillReturnError(errors.New("unknown column"))
	mock.ExpectPing()

	p.Poll(context.Background())

	require.Len(t, sink.events, 1)
	failed, ok := sink.events[0].(session.LoadFailed)
	require.True(t, ok)
	assert.ErrorContains(t, failed.Err, "unknown column")
}

func TestReloadCollapses(t *testing.T) {
	p, _, _ := newTestPoller(t, baseURL+"/")

	p.Reload()
	p.Reload()

	assert.Len(t, p.reload, 1)
}

func TestProbe(t *testing.T) {
	p, mock, _ := newTestPoller(t, baseURL+"/")

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, p.Probe(context.Background()))

	mock.ExpectPing()
	assert.NoError(t, p.Probe(context.Background()))
}

func TestParseFolderURL(t *testing.T) {
	tests := []struct {
		url      string
		mailbox  int
		folder   int
		wantFail bool
	}{
		{url: baseURL + "/mailbox/3", mailbox: 3},
		{url: baseURL + "/mailbox/3/7?page=2", mailbox: 3, folder: 7},
		{url: "https://example.com/helpdesk/mailbox/12/40/", mailbox: 12, folder: 40},
		{url: baseURL + "/mailbox/", wantFail: true},
		{url: baseURL + "/mailbox/abc", wantFail: true},
		{url: baseURL + "/conversation/3", wantFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			mailbox, folder, err := ParseFolderURL(tt.url)
			if tt.wantFail {
				assert.ErrorIs(t, err, ErrNotMailboxURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mailbox, mailbox)
			assert.Equal(t, tt.folder, folder)
		})
	}
}
