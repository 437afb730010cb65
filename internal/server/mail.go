// Copyright 2025 Joseph Cumines
//
// Mail tool

package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/joeycumines/apple-mcp/internal/loader"
	"github.com/joeycumines/apple-mcp/internal/mail"
)

// MailService is the mail collaborator as seen by the dispatcher.
type MailService interface {
	GetUnreadMailsIn(ctx context.Context, account, mailbox string, limit int) ([]mail.EmailMessage, error)
	SearchMails(ctx context.Context, term string, limit int) ([]mail.EmailMessage, error)
	SendMail(ctx context.Context, msg mail.Outgoing) (string, error)
	GetMailboxes(ctx context.Context) ([]string, error)
	GetMailboxesForAccount(ctx context.Context, account string) ([]string, error)
	GetAccounts(ctx context.Context) ([]string, error)
}

func (s *MCPServer) mailTool() *Tool {
	return &Tool{
		Name:        "mail",
		Description: "Interact with Apple Mail: read unread mail, search, send, and list mailboxes or accounts",
		InputSchema: objectSchema(map[string]any{
			"operation":  enumProp("Operation to perform", "unread", "search", "send", "mailboxes", "accounts"),
			"account":    stringProp("Account name, to restrict unread or mailboxes"),
			"mailbox":    stringProp("Mailbox name, to restrict unread"),
			"limit":      integerProp(fmt.Sprintf("Maximum number of emails (default %d, max %d)", mail.DefaultLimit, mail.MaxLimit)),
			"searchTerm": stringProp("Text to find in subject or sender (search)"),
			"to":         stringProp("Comma-separated recipient addresses (send)"),
			"subject":    stringProp("Subject (send)"),
			"body":       stringProp("Body text (send)"),
			"cc":         stringProp("Comma-separated CC addresses (send)"),
			"bcc":        stringProp("Comma-separated BCC addresses (send)"),
		}, "operation"),
		Handler: s.handleMail,
	}
}

func (s *MCPServer) handleMail(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	svc, err := loader.Get[MailService](ctx, s.loader, loader.Mail)
	if err != nil {
		return nil, err
	}
	args := call.Arguments

	switch op := stringArg(args, "operation"); op {
	case "unread":
		msgs, err := svc.GetUnreadMailsIn(ctx, stringArg(args, "account"), stringArg(args, "mailbox"), intArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return textResult("No unread emails found."), nil
		}
		return textResult(formatEmails(fmt.Sprintf("Found %d unread email(s):", len(msgs)), msgs)), nil

	case "search":
		term := stringArg(args, "searchTerm")
		if strings.TrimSpace(term) == "" {
			return nil, operationError(call.Name, op, "searchTerm")
		}
		msgs, err := svc.SearchMails(ctx, term, intArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return textResultf("No emails found for %q.", term), nil
		}
		return textResult(formatEmails(fmt.Sprintf("Found %d email(s) for %q:", len(msgs), term), msgs)), nil

	case "send":
		for _, field := range []string{"to", "subject", "body"} {
			if strings.TrimSpace(stringArg(args, field)) == "" {
				return nil, operationError(call.Name, op, field)
			}
		}
		confirmation, err := svc.SendMail(ctx, mail.Outgoing{
			To:      stringArg(args, "to"),
			Subject: stringArg(args, "subject"),
			Body:    stringArg(args, "body"),
			CC:      stringArg(args, "cc"),
			BCC:     stringArg(args, "bcc"),
		})
		if err != nil {
			return nil, err
		}
		return textResult(confirmation), nil

	case "mailboxes":
		var (
			boxes []string
			err   error
		)
		if account := stringArg(args, "account"); account != "" {
			boxes, err = svc.GetMailboxesForAccount(ctx, account)
		} else {
			boxes, err = svc.GetMailboxes(ctx)
		}
		if err != nil {
			return nil, err
		}
		return textResult(formatNames("mailbox", "mailboxes", boxes)), nil

	case "accounts":
		accounts, err := svc.GetAccounts(ctx)
		if err != nil {
			return nil, err
		}
		return textResult(formatNames("account", "accounts", accounts)), nil

	default:
		return nil, operationError(call.Name, op, "a valid operation")
	}
}

func formatEmails(header string, msgs []mail.EmailMessage) string {
	var b strings.Builder
	b.WriteString(header)
	for _, m := range msgs {
		status := "unread"
		if m.IsRead {
			status = "read"
		}
		fmt.Fprintf(&b, "\n\n[%s] From: %s\nMailbox: %s (%s)\nSubject: %s\n%s", m.DateSent, m.Sender, m.Mailbox, status, m.Subject, m.Content)
	}
	return b.String()
}

// formatNames renders a list of names, one per line.
func formatNames(singular, plural string, names []string) string {
	switch len(names) {
	case 0:
		return fmt.Sprintf("No %s found.", plural)
	case 1:
		return fmt.Sprintf("Found 1 %s:\n%s", singular, names[0])
	default:
		return fmt.Sprintf("Found %d %s:\n%s", len(names), plural, strings.Join(names, "\n"))
	}
}
