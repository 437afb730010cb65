// Copyright 2025 Joseph Cumines

// Package notes searches, lists and creates notes in Notes.app.
package notes

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/joeycumines/apple-mcp/internal/apperr"
	"github.com/joeycumines/apple-mcp/internal/automation"
)

// Placeholders for fields Notes did not supply.
const (
	Untitled      = "Untitled note"
	NoContent     = "[No content]"
	UnknownFolder = "Notes"
	UnknownDate   = "Unknown date"
)

const (
	// DefaultPreviewLength bounds Note.Content, in runes.
	DefaultPreviewLength = 500
	// DefaultLimit is used when a caller passes a non-positive limit.
	DefaultLimit = 10
	// MaxLimit caps the number of notes returned.
	MaxLimit = 50

	createSentinel = "success"
)

// Note is one note as reported by Notes.
type Note struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Folder   string `json:"folder"`
	Modified string `json:"modified"`
}

// Target is the Notes application.
var Target = automation.Target{
	App:      "Notes",
	Probe:    `tell application "Notes" to count every note`,
	AltProbe: `tell application "Notes" to get version`,
}

// Client is the notes collaborator.
type Client struct {
	bridge  *automation.Bridge
	schema  automation.Schema[Note]
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
		preview: previewLength,
		schema: automation.Schema[Note]{
			Fields: []automation.Field{
				{Name: "name", Placeholder: Untitled},
				{Name: "content", Placeholder: NoContent, MaxLen: previewLength},
				{Name: "folder", Placeholder: UnknownFolder},
				{Name: "modified", Placeholder: UnknownDate},
			},
			Identifying: []string{"name", "content"},
			Build: func(f automation.Fields) Note {
				return Note{Name: f["name"], Content: f["content"], Folder: f["folder"], Modified: f["modified"]}
			},
			Diagnostic: func(raw string) automation.Fields {
				return automation.Fields{"name": "Unparsed Notes output", "content": raw}
			},
		},
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// List returns up to limit notes.
func (c *Client) List(ctx context.Context, limit int) ([]Note, error) {
	return c.query(ctx, "notes.list", "", clampLimit(limit))
}

// Search returns up to limit notes whose title or text contains text.
func (c *Client) Search(ctx context.Context, text string, limit int) ([]Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.KindInvalidArguments, "notes.search", "search text is required")
	}
	return c.query(ctx, "notes.search", text, clampLimit(limit))
}

func (c *Client) query(ctx context.Context, op, term string, limit int) ([]Note, error) {
	res, err := automation.Query(ctx, c.bridge, automation.QuerySpec[Note]{
		Op:       op,
		Target:   Target,
		Limit:    limit,
		Primary:  &automation.ScriptStrategy[Note]{Schema: c.schema, Script: listScript(term, limit, c.preview)},
		Fallback: &automation.ObjectModelStrategy[Note]{Schema: c.schema, Script: listJXA(term, limit, c.preview)},
	})
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Create makes a note titled title in folder, creating the folder if
// needed. An empty folder uses the default folder.
func (c *Client) Create(ctx context.Context, title, body, folder string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperr.New(apperr.KindInvalidArguments, "notes.create", "title is required")
	}
	folder = strings.TrimSpace(folder)

	err := c.bridge.Send(ctx, automation.SendSpec{
		Op:             "notes.create",
		Target:         Target,
		Script:         createScript(title, htmlBody(body), folder),
		FallbackScript: createJXA(title, htmlBody(body), folder),
		Sentinel:       createSentinel,
	})
	if err != nil {
		return "", err
	}
	if folder == "" {
		return fmt.Sprintf("Created note %q", title), nil
	}
	return fmt.Sprintf("Created note %q in folder %q", title, folder), nil
}

// htmlBody renders plain text as the HTML Notes stores.
func htmlBody(s string) string {
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br>")
}

func listScript(term string, limit, preview int) string {
	notes := "every note"
	if term != "" {
		q := automation.QuoteAppleScript(term)
		notes = fmt.Sprintf("(every note whose name contains %s or plaintext contains %s)", q, q)
	}
	return fmt.Sprintf(`tell application "Notes"
	set resultList to {}
	set noteCount to 0
	repeat with n in %s
		if noteCount >= %d then exit repeat
		try
			set noteText to plaintext of n
			if length of noteText > %d then set noteText to text 1 thru %d of noteText
			set end of resultList to {name:(name of n), content:noteText, folder:(name of container of n), modified:((modification date of n) as string)}
			set noteCount to noteCount + 1
		end try
	end repeat
	return resultList
end tell`, notes, limit, preview, preview+1)
}

func listJXA(term string, limit, preview int) string {
	return fmt.Sprintf(`(() => {
	const Notes = Application("Notes");
	const term = %s, limit = %d, preview = %d;
	const notes = term
		? Notes.notes.whose({_or: [{name: {_contains: term}}, {plaintext: {_contains: term}}]})()
		: Notes.notes();
	const out = [];
	for (const n of notes) {
		if (out.length >= limit) break;
		try {
			let text = n.plaintext() || "";
			if (text.length > preview) text = text.slice(0, preview + 1);
			out.push({name: n.name(), content: text, folder: n.container().name(), modified: String(n.modificationDate())});
		} catch (e) {}
	}
	return JSON.stringify(out);
})()`, automation.QuoteJS(term), limit, preview)
}

func createScript(title, body, folder string) string {
	var b strings.Builder
	b.WriteString("tell application \"Notes\"\n")
	if folder == "" {
		fmt.Fprintf(&b, "\tmake new note with properties {name:%s, body:%s}\n",
			automation.QuoteAppleScript(title), automation.QuoteAppleScript(body))
	} else {
		f := automation.QuoteAppleScript(folder)
		fmt.Fprintf(&b, "\tif not (exists folder %s) then make new folder with properties {name:%s}\n", f, f)
		fmt.Fprintf(&b, "\tmake new note at folder %s with properties {name:%s, body:%s}\n",
			f, automation.QuoteAppleScript(title), automation.QuoteAppleScript(body))
	}
	b.WriteString("end tell\n")
	fmt.Fprintf(&b, "return %s", automation.QuoteAppleScript(createSentinel))
	return b.String()
}

func createJXA(title, body, folder string) string {
	return fmt.Sprintf(`(() => {
	const Notes = Application("Notes");
	const folderName = %s;
	let notes = Notes.defaultAccount().defaultFolder().notes;
	if (folderName) {
		const found = Notes.folders.whose({name: folderName})();
		let folder = found.length > 0 ? found[0] : null;
		if (!folder) {
			folder = Notes.Folder({name: folderName});
			Notes.folders.push(folder);
		}
		notes = folder.notes;
	}
	notes.push(Notes.Note({name: %s, body: %s}));
	return %s;
})()`, automation.QuoteJS(folder), automation.QuoteJS(title), automation.QuoteJS(body), automation.QuoteJS(createSentinel))
}
