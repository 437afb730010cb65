// Copyright 2025 Joseph Cumines

package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/joeycumines/apple-mcp/internal/apperr"
	"github.com/joeycumines/apple-mcp/internal/automation"
	"github.com/joeycumines/apple-mcp/internal/automation/automationtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probe = "count every account"

func fiveUnread() string {
	var groups []string
	for i := 1; i <= 5; i++ {
		groups = append(groups, fmt.Sprintf(
			`{subject:"Invoice %d, final", sender:"Billing <billing%d@example.com>", dateSent:"Monday, 6 January 2025 at 09:0%d:00", content:"Please pay invoice %d.", isRead:false, mailbox:"INBOX"}`,
			i, i, i, i))
	}
	return "{" + strings.Join(groups, ", ") + "}"
}

func newClient(exec *automationtest.Exec) *Client {
	return New(automationtest.Bridge(exec), 0)
}

func TestGetUnreadMails_RespectsLimit(t *testing.T) {
	exec := automationtest.New().
		On(automation.AppleScript, probe, "1").
		On(automation.AppleScript, "read status is false", fiveUnread())

	msgs, err := newClient(exec).GetUnreadMails(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, EmailMessage{
		Subject:  "Invoice 1, final",
		Sender:   "Billing <billing1@example.com>",
		DateSent: "Monday, 6 January 2025 at 09:01:00",
		Content:  "Please pay invoice 1.",
		Mailbox:  "INBOX",
		IsRead:   false,
	}, msgs[0])
	assert.Equal(t, "Invoice 2, final", msgs[1].Subject)

	script, ok := exec.Last(automation.AppleScript, "read status is false")
	require.True(t, ok)
	assert.Contains(t, script, "if msgCount >= 2 then exit repeat")
	assert.Equal(t, 0, exec.Count(automation.JXA, ""), "fallback must not run when the primary succeeds")
}

func TestGetUnreadMails_PlaceholdersAndPreview(t *testing.T) {
	long := strings.Repeat("é", 700)
	out := fmt.Sprintf(`{{subject:"Hello", sender:missing value, content:%q}, {dateSent:"yesterday"}}`, long)
	exec := automationtest.New().
		On(automation.AppleScript, probe, "1").
		On(automation.AppleScript, "read status is false", out)

	msgs, err := newClient(exec).GetUnreadMails(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "groups without subject or sender are dropped")

	m := msgs[0]
	assert.Equal(t, "Hello", m.Subject)
	assert.Equal(t, UnknownSender, m.Sender)
	assert.Equal(t, UnknownDate, m.DateSent)
	assert.Equal(t, UnknownMailbox, m.Mailbox)
	assert.Equal(t, DefaultPreviewLength, utf8.RuneCountInString(m.Content))
	assert.True(t, strings.HasSuffix(m.Content, automation.TruncationMarker))
}

func TestGetUnreadMails_FallsBackToObjectModel(t *testing.T) {
	exec := automationtest.New().
		On(automation.AppleScript, probe, "1").
		Fail(automation.AppleScript, "read status is false", errors.New("Mail got an error: AppleEvent timed out")).
		On(automation.JXA, "readStatus: false", `[{"subject":"From JXA","sender":"a@example.com","isRead":false,"mailbox":"Inbox"},{"subject":"Second","sender":"b@example.com"}]`)

	msgs, err := newClient(exec).GetUnreadMailsIn(context.Background(), "iCloud", "Inbox", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "From JXA", msgs[0].Subject)
	assert.Equal(t, NoContent, msgs[0].Content)
	assert.Equal(t, UnknownDate, msgs[0].DateSent)

	script, _ := exec.Last(automation.AppleScript, "read status is false")
	assert.Contains(t, script, `{account "iCloud"}`)
	assert.Contains(t, script, `whose name is "Inbox"`)
	jxa, _ := exec.Last(automation.JXA, "readStatus")
	assert.Contains(t, jxa, `const account = "iCloud", mailbox = "Inbox";`)
}

func TestGetUnreadMails_RawDiagnostic(t *testing.T) {
	exec := automationtest.New().
		On(automation.AppleScript, probe, "1").
		On(automation.AppleScript, "read status is false", `subject: <<class ctnt>> of item 1 -- truncated`)

	msgs, err := newClient(exec).GetUnreadMails(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Unparsed Mail output", msgs[0].Subject)
	assert.Contains(t, msgs[0].Content, "<<class ctnt>>")
}

func TestGetUnreadMails_Unreachable(t *testing.T) {
	exec := automationtest.New().
		Fail(automation.AppleScript, probe, errors.New("not authorized to send Apple events")).
		Fail(automation.AppleScript, "get version", errors.New("not authorized to send Apple events"))

	_, err := newClient(exec).GetUnreadMails(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrApplicationUnreachable))
}

func TestSearchMails(t *testing.T) {
	exec := automationtest.New().
		On(automation.AppleScript, probe, "1").
		On(automation.AppleScript, "subject contains", `{{subject:"Quarterly \"report\"", sender:"cfo@example.com", isRead:true}}`)

	msgs, err := newClient(exec).SearchMails(context.Background(), `report "Q3"`, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `Quarterly "report"`, msgs[0].Subject)
	assert.True(t, msgs[0].IsRead)

	script, _ := exec.Last(automation.AppleScript, "subject contains")
	assert.Contains(t, script, `subject contains "report \"Q3\"" or sender contains "report \"Q3\""`)
	assert.Contains(t, script, fmt.Sprintf("if msgCount >= %d then exit repeat", DefaultLimit))

	_, err = newClient(exec).SearchMails(context.Background(), "  ", 5)
	assert.True(t, errors.Is(err, apperr.ErrInvalidArguments))
}

func TestSendMail(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		exec := automationtest.New().
			On(automation.AppleScript, probe, "1").
			On(automation.AppleScript, "make new outgoing message", `"success"`)

		got, err := newClient(exec).SendMail(context.Background(), Outgoing{
			To: "a@example.com, b@example.com", CC: "c@example.com", Subject: "Hi", Body: "Body",
		})
		require.NoError(t, err)
		assert.Equal(t, `Email sent to a@example.com, b@example.com with subject "Hi"`, got)

		script, _ := exec.Last(automation.AppleScript, "outgoing message")
		assert.Contains(t, script, `make new to recipient at end of to recipients with properties {address:"b@example.com"}`)
		assert.Contains(t, script, `make new cc recipient at end of cc recipients with properties {address:"c@example.com"}`)
		assert.NotContains(t, script, "bcc recipient")
	})

	t.Run("primary throws, fallback succeeds", func(t *testing.T) {
		exec := automationtest.New().
			On(automation.AppleScript, probe, "1").
			Fail(automation.AppleScript, "make new outgoing message", errors.New("execution error: Mail got an error (-1743)")).
			On(automation.JXA, "Mail.OutgoingMessage", "success")

		got, err := newClient(exec).SendMail(context.Background(), Outgoing{To: "a@example.com", Subject: "Fallback", Body: "x"})
		require.NoError(t, err)
		assert.Equal(t, `Email sent to a@example.com with subject "Fallback"`, got)
		assert.Equal(t, 1, exec.Count(automation.JXA, "Mail.OutgoingMessage"))
	})

	t.Run("both fail", func(t *testing.T) {
		second := errors.New("Error: Can't get object")
		exec := automationtest.New().
			On(automation.AppleScript, probe, "1").
			Fail(automation.AppleScript, "make new outgoing message", errors.New("first")).
			Fail(automation.JXA, "Mail.OutgoingMessage", second)

		_, err := newClient(exec).SendMail(context.Background(), Outgoing{To: "a@example.com"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, second))
		assert.True(t, errors.Is(err, apperr.ErrAutomationQueryFailed))
	})

	t.Run("no recipients", func(t *testing.T) {
		_, err := newClient(automationtest.New()).SendMail(context.Background(), Outgoing{To: " , "})
		assert.True(t, errors.Is(err, apperr.ErrInvalidArguments))
	})
}

func TestLists(t *testing.T) {
	exec := automationtest.New().
		On(automation.AppleScript, probe, "1").
		On(automation.AppleScript, "every mailbox of account", `{"INBOX", "Archive"}`).
		On(automation.AppleScript, "name of every mailbox", `{"INBOX", "Sent", "Drafts"}`).
		On(automation.AppleScript, "name of every account", `{}`)
	c := newClient(exec)

	boxes, err := c.GetMailboxes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Sent", "Drafts"}, boxes)

	accounts, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, accounts, "empty results are empty slices, not nil")
	assert.Empty(t, accounts)

	boxes, err = c.GetMailboxesForAccount(context.Background(), "Work")
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Archive"}, boxes)
	script, _ := exec.Last(automation.AppleScript, "every mailbox of account")
	assert.Contains(t, script, `account "Work"`)

	_, err = c.GetMailboxesForAccount(context.Background(), "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidArguments))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(500))
}
