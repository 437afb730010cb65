// Copyright 2025 Joseph Cumines

// Package mail reads and sends email through Mail.app.
//
// Queries try AppleScript first and fall back to JXA only when the
// AppleScript run fails. Every EmailMessage has all of its fields populated,
// with placeholders standing in for values Mail did not supply.
package mail

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joeycumines/apple-mcp/internal/apperr"
	"github.com/joeycumines/apple-mcp/internal/automation"
)

// Placeholders for fields Mail did not supply.
const (
	NoSubject      = "No subject"
	UnknownSender  = "Unknown sender"
	UnknownDate    = "Unknown date"
	NoContent      = "[No content]"
	UnknownMailbox = "Unknown mailbox"
)

const (
	// DefaultPreviewLength bounds EmailMessage.Content, in runes.
	DefaultPreviewLength = 500
	// DefaultLimit is used when a caller passes a non-positive limit.
	DefaultLimit = 10
	// MaxLimit caps every query.
	MaxLimit = 50

	sendSentinel = "success"
)

// EmailMessage is one message as reported by Mail.
type EmailMessage struct {
	Subject  string `json:"subject"`
	Sender   string `json:"sender"`
	DateSent string `json:"dateSent"`
	// Content is a preview bounded to the client's preview length.
	Content string `json:"content"`
	Mailbox string `json:"mailbox"`
	IsRead  bool   `json:"isRead"`
}

// Target is the Mail application, probed by counting accounts and, failing
// that, reading its version.
var Target = automation.Target{
	App:      "Mail",
	Probe:    `tell application "Mail" to count every account`,
	AltProbe: `tell application "Mail" to get version`,
}

// Client is the mail collaborator. It is safe for concurrent use.
type Client struct {
	bridge  *automation.Bridge
	schema  automation.Schema[EmailMessage]
	preview int
}

// New returns a Client. A non-positive previewLength uses
// DefaultPreviewLength.
func New(bridge *automation.Bridge, previewLength int) *Client {
	if previewLength <= 0 {
		previewLength = DefaultPreviewLength
	}
	return &Client{
		bridge:  bridge,
		schema:  newSchema(previewLength),
		preview: previewLength,
	}
}

func newSchema(preview int) automation.Schema[EmailMessage] {
	return automation.Schema[EmailMessage]{
		Fields: []automation.Field{
			{Name: "subject", Placeholder: NoSubject},
			{Name: "sender", Placeholder: UnknownSender},
			{Name: "dateSent", Placeholder: UnknownDate},
			{Name: "content", Placeholder: NoContent, MaxLen: preview},
			{Name: "isRead", Placeholder: "false"},
			{Name: "mailbox", Placeholder: UnknownMailbox},
		},
		Identifying: []string{"subject", "sender"},
		Build: func(f automation.Fields) EmailMessage {
			read, _ := strconv.ParseBool(f["isRead"])
			return EmailMessage{
				Subject:  f["subject"],
				Sender:   f["sender"],
				DateSent: f["dateSent"],
				Content:  f["content"],
				IsRead:   read,
				Mailbox:  f["mailbox"],
			}
		},
		Diagnostic: func(raw string) automation.Fields {
			return automation.Fields{
				"subject": "Unparsed Mail output",
				"sender":  "Mail",
				"content": raw,
			}
		},
	}
}

// ClampLimit applies DefaultLimit and MaxLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// GetUnreadMails returns up to limit unread messages from every mailbox.
func (c *Client) GetUnreadMails(ctx context.Context, limit int) ([]EmailMessage, error) {
	return c.GetUnreadMailsIn(ctx, "", "", limit)
}

// GetUnreadMailsIn returns up to limit unread messages, optionally
// restricted to one account and/or one mailbox name.
func (c *Client) GetUnreadMailsIn(ctx context.Context, account, mailbox string, limit int) ([]EmailMessage, error) {
	limit = ClampLimit(limit)
	res, err := automation.Query(ctx, c.bridge, automation.QuerySpec[EmailMessage]{
		Op:       "mail.unread",
		Target:   Target,
		Limit:    limit,
		Primary:  &automation.ScriptStrategy[EmailMessage]{Schema: c.schema, Script: unreadScript(account, mailbox, limit, c.preview)},
		Fallback: &automation.ObjectModelStrategy[EmailMessage]{Schema: c.schema, Script: unreadJXA(account, mailbox, limit, c.preview)},
	})
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// SearchMails returns up to limit messages whose subject or sender contains
// term.
func (c *Client) SearchMails(ctx context.Context, term string, limit int) ([]EmailMessage, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, apperr.New(apperr.KindInvalidArguments, "mail.search", "search term is required")
	}
	limit = ClampLimit(limit)
	res, err := automation.Query(ctx, c.bridge, automation.QuerySpec[EmailMessage]{
		Op:       "mail.search",
		Target:   Target,
		Limit:    limit,
		Primary:  &automation.ScriptStrategy[EmailMessage]{Schema: c.schema, Script: searchScript(term, limit, c.preview)},
		Fallback: &automation.ObjectModelStrategy[EmailMessage]{Schema: c.schema, Script: searchJXA(term, limit, c.preview)},
	})
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Outgoing is a message to send. Recipient fields hold comma-separated
// addresses.
type Outgoing struct {
	To      string
	Subject string
	Body    string
	CC      string
	BCC     string
}

// SendMail sends msg and returns a confirmation.
func (c *Client) SendMail(ctx context.Context, msg Outgoing) (string, error) {
	to := splitAddresses(msg.To)
	if len(to) == 0 {
		return "", apperr.New(apperr.KindInvalidArguments, "mail.send", "at least one recipient is required")
	}
	cc, bcc := splitAddresses(msg.CC), splitAddresses(msg.BCC)

	err := c.bridge.Send(ctx, automation.SendSpec{
		Op:             "mail.send",
		Target:         Target,
		Script:         sendScript(to, cc, bcc, msg.Subject, msg.Body),
		FallbackScript: sendJXA(to, cc, bcc, msg.Subject, msg.Body),
		Sentinel:       sendSentinel,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Email sent to %s with subject %q", strings.Join(to, ", "), msg.Subject), nil
}

// GetMailboxes returns the names of every mailbox across all accounts.
func (c *Client) GetMailboxes(ctx context.Context) ([]string, error) {
	return c.list(ctx, "mail.mailboxes",
		`tell application "Mail" to get name of every mailbox`,
		`JSON.stringify(Application("Mail").mailboxes.name())`)
}

// GetAccounts returns the names of every account.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	return c.list(ctx, "mail.accounts",
		`tell application "Mail" to get name of every account`,
		`JSON.stringify(Application("Mail").accounts.name())`)
}

// GetMailboxesForAccount returns the mailbox names of one account.
func (c *Client) GetMailboxesForAccount(ctx context.Context, account string) ([]string, error) {
	if strings.TrimSpace(account) == "" {
		return nil, apperr.New(apperr.KindInvalidArguments, "mail.mailboxes", "account name is required")
	}
	return c.list(ctx, "mail.mailboxes",
		fmt.Sprintf(`tell application "Mail" to get name of every mailbox of account %s`, automation.QuoteAppleScript(account)),
		fmt.Sprintf(`JSON.stringify(Application("Mail").accounts.byName(%s).mailboxes.name())`, automation.QuoteJS(account)))
}

func (c *Client) list(ctx context.Context, op, script, fallback string) ([]string, error) {
	return c.bridge.List(ctx, automation.ListSpec{
		Op:             op,
		Target:         Target,
		Script:         script,
		FallbackScript: fallback,
	})
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
