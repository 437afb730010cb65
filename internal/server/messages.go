// Copyright 2025 Joseph Cumines
//
// Messages tool

package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/apple-mcp/internal/loader"
	"github.com/joeycumines/apple-mcp/internal/messages"
)

// MessagesService is the messages collaborator as seen by the dispatcher.
type MessagesService interface {
	Send(ctx context.Context, phoneNumber, text string) (string, error)
	Read(ctx context.Context, phoneNumber string, limit int) ([]messages.Message, error)
	Unread(ctx context.Context, limit int) ([]messages.Message, error)
}

func (s *MCPServer) messagesTool() *Tool {
	return &Tool{
		Name:        "messages",
		Description: "Send iMessages and read message history from Apple Messages",
		InputSchema: objectSchema(map[string]any{
			"operation":   enumProp("Operation to perform", "send", "read", "unread"),
			"phoneNumber": stringProp("Phone number or address of the other party (send, read)"),
			"message":     stringProp("Text to send (send)"),
			"limit":       integerProp(fmt.Sprintf("Maximum number of messages (default %d, max %d)", messages.DefaultLimit, messages.MaxLimit)),
		}, "operation"),
		Handler: s.handleMessages,
	}
}

func (s *MCPServer) handleMessages(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	svc, err := loader.Get[MessagesService](ctx, s.loader, loader.Messages)
	if err != nil {
		return nil, err
	}
	args := call.Arguments

	switch op := stringArg(args, "operation"); op {
	case "send":
		for _, field := range []string{"phoneNumber", "message"} {
			if strings.TrimSpace(stringArg(args, field)) == "" {
				return nil, operationError(call.Name, op, field)
			}
		}
		confirmation, err := svc.Send(ctx, stringArg(args, "phoneNumber"), stringArg(args, "message"))
		if err != nil {
			return nil, err
		}
		return textResult(confirmation), nil

	case "read":
		phone := stringArg(args, "phoneNumber")
		if strings.TrimSpace(phone) == "" {
			return nil, operationError(call.Name, op, "phoneNumber")
		}
		msgs, err := svc.Read(ctx, phone, intArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return textResultf("No messages found for %s.", phone), nil
		}
		return textResult(formatMessages(fmt.Sprintf("Found %d message(s) with %s:", len(msgs), phone), msgs)), nil

	case "unread":
		msgs, err := svc.Unread(ctx, intArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return textResult("No unread messages found."), nil
		}
		return textResult(formatMessages(fmt.Sprintf("Found %d unread message(s):", len(msgs)), msgs)), nil

	default:
		return nil, operationError(call.Name, op, "a valid operation")
	}
}

func formatMessages(header string, msgs []messages.Message) string {
	var b strings.Builder
	b.WriteString(header)
	for _, m := range msgs {
		from := "Me"
		if !m.IsFromMe {
			from = m.Sender
			if m.SenderName != "" {
				from = fmt.Sprintf("%s (%s)", m.SenderName, m.Sender)
			}
		}
		fmt.Fprintf(&b, "\n[%s] %s: %s", m.Date.Local().Format(time.DateTime), from, m.Content)
		if m.HasAttachments {
			b.WriteString(" [attachment]")
		}
	}
	return b.String()
}
