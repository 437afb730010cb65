// Copyright 2025 Joseph Cumines
//
// Notes tool

package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/joeycumines/apple-mcp/internal/loader"
	"github.com/joeycumines/apple-mcp/internal/notes"
)

// NotesService is the notes collaborator as seen by the dispatcher.
type NotesService interface {
	List(ctx context.Context, limit int) ([]notes.Note, error)
	Search(ctx context.Context, text string, limit int) ([]notes.Note, error)
	Create(ctx context.Context, title, body, folder string) (string, error)
}

func (s *MCPServer) notesTool() *Tool {
	return &Tool{
		Name:        "notes",
		Description: "Search, list and create notes in Apple Notes",
		InputSchema: objectSchema(map[string]any{
			"operation":  enumProp("Operation to perform", "search", "list", "create"),
			"searchText": stringProp("Text to find in note titles and bodies (search)"),
			"limit":      integerProp(fmt.Sprintf("Maximum number of notes (default %d, max %d)", notes.DefaultLimit, notes.MaxLimit)),
			"title":      stringProp("Title of the new note (create)"),
			"body":       stringProp("Plain text body of the new note (create)"),
			"folderName": stringProp("Folder for the new note, created if missing (create)"),
		}, "operation"),
		Handler: s.handleNotes,
	}
}

func (s *MCPServer) handleNotes(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	svc, err := loader.Get[NotesService](ctx, s.loader, loader.Notes)
	if err != nil {
		return nil, err
	}
	args := call.Arguments

	switch op := stringArg(args, "operation"); op {
	case "search":
		text := stringArg(args, "searchText")
		if strings.TrimSpace(text) == "" {
			return nil, operationError(call.Name, op, "searchText")
		}
		found, err := svc.Search(ctx, text, intArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return textResultf("No notes found for %q.", text), nil
		}
		return textResult(formatNotes(fmt.Sprintf("Found %d note(s) for %q:", len(found), text), found)), nil

	case "list":
		all, err := svc.List(ctx, intArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return textResult("No notes found."), nil
		}
		return textResult(formatNotes(fmt.Sprintf("Found %d note(s):", len(all)), all)), nil

	case "create":
		for _, field := range []string{"title", "body"} {
			if strings.TrimSpace(stringArg(args, field)) == "" {
				return nil, operationError(call.Name, op, field)
			}
		}
		confirmation, err := svc.Create(ctx, stringArg(args, "title"), stringArg(args, "body"), stringArg(args, "folderName"))
		if err != nil {
			return nil, err
		}
		return textResult(confirmation), nil

	default:
		return nil, operationError(call.Name, op, "a valid operation")
	}
}

func formatNotes(header string, list []notes.Note) string {
	var b strings.Builder
	b.WriteString(header)
	for _, n := range list {
		fmt.Fprintf(&b, "\n\n%s (%s, modified %s)\n%s", n.Name, n.Folder, n.Modified, n.Content)
	}
	return b.String()
}
