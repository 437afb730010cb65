// Copyright 2025 Joseph Cumines
//
// Contacts tool

package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/joeycumines/apple-mcp/internal/contacts"
	"github.com/joeycumines/apple-mcp/internal/loader"
)

// ContactsService is the contacts collaborator as seen by the dispatcher.
type ContactsService interface {
	GetAllNumbers(ctx context.Context) ([]contacts.Contact, error)
	FindNumber(ctx context.Context, name string) ([]contacts.Contact, error)
}

func (s *MCPServer) contactsTool() *Tool {
	return &Tool{
		Name:        "contacts",
		Description: "Search Apple Contacts and return phone numbers. Without a name, lists every contact with a phone number",
		InputSchema: objectSchema(map[string]any{
			"name": stringProp("Name, or part of a name, to search for"),
		}),
		Handler: s.handleContacts,
	}
}

func (s *MCPServer) handleContacts(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	svc, err := loader.Get[ContactsService](ctx, s.loader, loader.Contacts)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(stringArg(call.Arguments, "name"))
	if name == "" {
		all, err := svc.GetAllNumbers(ctx)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return textResult("No contacts with phone numbers found."), nil
		}
		return textResult(formatContacts(fmt.Sprintf("Found %d contact(s):", len(all)), all)), nil
	}

	found, err := svc.FindNumber(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return textResultf("No contacts found for %q.", name), nil
	}
	return textResult(formatContacts(fmt.Sprintf("Found %d contact(s) for %q:", len(found), name), found)), nil
}

func formatContacts(header string, list []contacts.Contact) string {
	var b strings.Builder
	b.WriteString(header)
	for _, c := range list {
		fmt.Fprintf(&b, "\n%s: %s", c.Name, strings.Join(c.Phones, ", "))
	}
	return b.String()
}
