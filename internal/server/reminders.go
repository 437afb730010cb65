// Copyright 2025 Joseph Cumines
//
// Reminders tool

package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/joeycumines/apple-mcp/internal/loader"
	"github.com/joeycumines/apple-mcp/internal/reminders"
)

// RemindersService is the reminders collaborator as seen by the dispatcher.
type RemindersService interface {
	GetLists(ctx context.Context) ([]string, error)
	GetReminders(ctx context.Context, limit int) ([]reminders.Reminder, error)
	Search(ctx context.Context, text string, limit int) ([]reminders.Reminder, error)
	Create(ctx context.Context, r reminders.NewReminder) (string, error)
}

func (s *MCPServer) remindersTool() *Tool {
	return &Tool{
		Name:        "reminders",
		Description: "List, search and create reminders in Apple Reminders",
		InputSchema: objectSchema(map[string]any{
			"operation":  enumProp("Operation to perform", "list", "search", "create"),
			"searchText": stringProp("Text to find in reminder names and notes (search)"),
			"limit":      integerProp(fmt.Sprintf("Maximum number of reminders (default %d, max %d)", reminders.DefaultLimit, reminders.MaxLimit)),
			"name":       stringProp("Name of the new reminder (create)"),
			"listName":   stringProp("List for the new reminder, created if missing (create)"),
			"notes":      stringProp("Notes for the new reminder (create)"),
			"dueDate":    stringProp("Due date in ISO 8601, such as 2025-03-01 or 2025-03-01T09:30 (create)"),
		}, "operation"),
		Handler: s.handleReminders,
	}
}

func (s *MCPServer) handleReminders(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	svc, err := loader.Get[RemindersService](ctx, s.loader, loader.Reminders)
	if err != nil {
		return nil, err
	}
	args := call.Arguments

	switch op := stringArg(args, "operation"); op {
	case "list":
		lists, err := svc.GetLists(ctx)
		if err != nil {
			return nil, err
		}
		items, err := svc.GetReminders(ctx, intArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		b.WriteString(formatNames("list", "lists", lists))
		b.WriteString("\n\n")
		if len(items) == 0 {
			b.WriteString("No open reminders found.")
		} else {
			b.WriteString(formatReminders(fmt.Sprintf("Found %d open reminder(s):", len(items)), items))
		}
		return textResult(b.String()), nil

	case "search":
		text := stringArg(args, "searchText")
		if strings.TrimSpace(text) == "" {
			return nil, operationError(call.Name, op, "searchText")
		}
		items, err := svc.Search(ctx, text, intArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return textResultf("No reminders found for %q.", text), nil
		}
		return textResult(formatReminders(fmt.Sprintf("Found %d reminder(s) for %q:", len(items), text), items)), nil

	case "create":
		name := stringArg(args, "name")
		if strings.TrimSpace(name) == "" {
			return nil, operationError(call.Name, op, "name")
		}
		due, err := reminders.ParseDue(stringArg(args, "dueDate"))
		if err != nil {
			return nil, err
		}
		confirmation, err := svc.Create(ctx, reminders.NewReminder{
			Name:     name,
			ListName: stringArg(args, "listName"),
			Notes:    stringArg(args, "notes"),
			Due:      due,
		})
		if err != nil {
			return nil, err
		}
		return textResult(confirmation), nil

	default:
		return nil, operationError(call.Name, op, "a valid operation")
	}
}

func formatReminders(header string, items []reminders.Reminder) string {
	var b strings.Builder
	b.WriteString(header)
	for _, r := range items {
		fmt.Fprintf(&b, "\n- %s [%s] due: %s", r.Name, r.List, r.DueDate)
		if r.Notes != "" {
			fmt.Fprintf(&b, "\n  %s", r.Notes)
		}
	}
	return b.String()
}
