// Copyright 2025 Joseph Cumines

// Package messages sends iMessages through Messages.app and reads history
// from the Messages database.
package messages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/apple-mcp/internal/apperr"
	"github.com/joeycumines/apple-mcp/internal/automation"
	"github.com/joeycumines/apple-mcp/internal/contacts"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultLimit is used when a caller passes a non-positive limit.
	DefaultLimit = 10
	// MaxLimit caps the number of messages returned.
	MaxLimit = 100

	// resolveConcurrency bounds concurrent contact lookups per read.
	resolveConcurrency = 4

	sendSentinel = "success"
)

// Message is one message from the Messages database.
type Message struct {
	Date           time.Time `json:"date"`
	Content        string    `json:"content"`
	Sender         string    `json:"sender"`
	SenderName     string    `json:"senderName,omitempty"`
	IsFromMe       bool      `json:"isFromMe"`
	HasAttachments bool      `json:"hasAttachments"`
}

// Resolver maps a phone number or address to a contact name, or "".
type Resolver interface {
	FindContactByPhone(ctx context.Context, phone string) (string, error)
}

// Target is the Messages application.
var Target = automation.Target{
	App:      "Messages",
	Probe:    `tell application "Messages" to count every chat`,
	AltProbe: `tell application "Messages" to get version`,
}

// Client is the messages collaborator.
type Client struct {
	bridge   *automation.Bridge
	store    *Store
	resolver Resolver
	log      *slog.Logger
}

// New returns a Client. A nil resolver leaves sender names empty.
func New(bridge *automation.Bridge, store *Store, resolver Resolver, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{bridge: bridge, store: store, resolver: resolver, log: log}
}

// ClampLimit maps limit into 1..MaxLimit, with DefaultLimit for unset.
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

// Send sends text to phoneNumber over iMessage.
func (c *Client) Send(ctx context.Context, phoneNumber, text string) (string, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return "", apperr.New(apperr.KindInvalidArguments, "messages.send", "phoneNumber is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.New(apperr.KindInvalidArguments, "messages.send", "message is required")
	}

	err := c.bridge.Send(ctx, automation.SendSpec{
		Op:             "messages.send",
		Target:         Target,
		Script:         sendScript(phoneNumber, text),
		FallbackScript: sendJXA(phoneNumber, text),
		Sentinel:       sendSentinel,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Message sent to %s", phoneNumber), nil
}

// Read returns up to limit of the newest messages exchanged with
// phoneNumber, newest first.
func (c *Client) Read(ctx context.Context, phoneNumber string, limit int) ([]Message, error) {
	const op = "messages.read"
	phoneNumber = strings.TrimSpace(phoneNumber)
	want := contacts.NormalizePhone(phoneNumber)
	if want == "" && !strings.Contains(phoneNumber, "@") {
		return nil, apperr.New(apperr.KindInvalidArguments, op, "phoneNumber must contain digits or be an address")
	}

	handles, err := c.store.Handles(ctx, func(handle string) bool {
		if strings.Contains(handle, "@") || want == "" {
			return strings.EqualFold(handle, phoneNumber)
		}
		return contacts.PhonesMatch(want, contacts.NormalizePhone(handle))
	})
	if err != nil {
		return nil, c.dbError(op, err)
	}
	ids := make([]int64, 0, len(handles))
	for id := range handles {
		ids = append(ids, id)
	}

	rows, err := c.store.Conversation(ctx, ids, ClampLimit(limit))
	if err != nil {
		return nil, c.dbError(op, err)
	}
	return c.resolve(ctx, rows), nil
}

// Unread returns up to limit of the newest unread incoming messages.
func (c *Client) Unread(ctx context.Context, limit int) ([]Message, error) {
	rows, err := c.store.Unread(ctx, ClampLimit(limit))
	if err != nil {
		return nil, c.dbError("messages.unread", err)
	}
	return c.resolve(ctx, rows), nil
}

func (c *Client) dbError(op string, err error) error {
	return apperr.Wrap(apperr.KindAutomationQueryFailed, op,
		fmt.Errorf("%w (reading %s requires Full Disk Access)", err, c.store.Path()))
}

// resolve converts rows, looking up each distinct sender once. Lookups run
// as one bounded batch; a failed lookup leaves that name empty.
func (c *Client) resolve(ctx context.Context, rows []row) []Message {
	out := make([]Message, 0, len(rows))
	seen := make(map[string]bool)
	var handles []string
	for _, r := range rows {
		out = append(out, Message{
			Date:           r.date,
			Content:        r.text,
			Sender:         r.handle,
			IsFromMe:       r.isFromMe,
			HasAttachments: r.hasAttachments,
		})
		if r.handle != "" && !seen[r.handle] {
			seen[r.handle] = true
			handles = append(handles, r.handle)
		}
	}
	if c.resolver == nil || len(handles) == 0 {
		return out
	}

	var (
		mu      sync.Mutex
		g       errgroup.Group
		senders = make(map[string]string, len(handles))
	)
	g.SetLimit(resolveConcurrency)
	for _, handle := range handles {
		g.Go(func() error {
			name, err := c.resolver.FindContactByPhone(ctx, handle)
			if err != nil {
				c.log.Debug("contact lookup failed", slog.String("handle", handle), slog.Any("error", err))
				return nil
			}
			mu.Lock()
			senders[handle] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for i := range out {
		out[i].SenderName = senders[out[i].Sender]
	}
	return out
}

func sendScript(phone, text string) string {
	return fmt.Sprintf(`tell application "Messages"
	set targetService to 1st account whose service type = iMessage
	set targetBuddy to participant %s of targetService
	send %s to targetBuddy
end tell
return %s`, automation.QuoteAppleScript(phone), automation.QuoteAppleScript(text), automation.QuoteAppleScript(sendSentinel))
}

func sendJXA(phone, text string) string {
	return fmt.Sprintf(`(() => {
	const Messages = Application("Messages");
	const service = Messages.accounts.whose({serviceType: "iMessage"})()[0];
	const buddy = service.participants.whose({handle: %s})()[0];
	if (!buddy) throw new Error("no iMessage participant for handle");
	Messages.send(%s, {to: buddy});
	return %s;
})()`, automation.QuoteJS(phone), automation.QuoteJS(text), automation.QuoteJS(sendSentinel))
}
