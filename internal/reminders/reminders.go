// Copyright 2025 Joseph Cumines

// Package reminders lists, searches and creates reminders in Reminders.app.
package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/apple-mcp/internal/apperr"
	"github.com/joeycumines/apple-mcp/internal/automation"
)

// Placeholders for fields Reminders did not supply.
const (
	Unnamed     = "Untitled reminder"
	UnknownList = "Reminders"
	NoDueDate   = "No due date"
)

const (
	// DefaultLimit is used when a caller passes a non-positive limit.
	DefaultLimit = 20
	// MaxLimit caps the number of reminders returned.
	MaxLimit = 100

	createSentinel = "success"
)

// Reminder is one incomplete reminder.
type Reminder struct {
	Name    string `json:"name"`
	List    string `json:"list"`
	Notes   string `json:"notes,omitempty"`
	DueDate string `json:"dueDate"`
}

// NewReminder describes a reminder to create. Only Name is required.
type NewReminder struct {
	Due      *time.Time
	Name     string
	ListName string
	Notes    string
}

// Target is the Reminders application.
var Target = automation.Target{
	App:      "Reminders",
	Probe:    `tell application "Reminders" to count every list`,
	AltProbe: `tell application "Reminders" to get version`,
}

var schema = automation.Schema[Reminder]{
	Fields: []automation.Field{
		{Name: "name", Placeholder: Unnamed},
		{Name: "list", Placeholder: UnknownList},
		{Name: "notes", MaxLen: 500},
		{Name: "dueDate", Placeholder: NoDueDate},
	},
	Identifying: []string{"name"},
	Build: func(f automation.Fields) Reminder {
		return Reminder{Name: f["name"], List: f["list"], Notes: f["notes"], DueDate: f["dueDate"]}
	},
	Diagnostic: func(raw string) automation.Fields {
		return automation.Fields{"name": "Unparsed Reminders output", "notes": raw}
	},
}

// Client is the reminders collaborator.
type Client struct {
	bridge *automation.Bridge
}

// New returns a Client that runs its scripts through bridge.
func New(bridge *automation.Bridge) *Client {
	return &Client{bridge: bridge}
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

// GetLists returns the names of every reminder list.
func (c *Client) GetLists(ctx context.Context) ([]string, error) {
	return c.bridge.List(ctx, automation.ListSpec{
		Op:             "reminders.lists",
		Target:         Target,
		Script:         `tell application "Reminders" to return name of every list`,
		FallbackScript: `JSON.stringify(Application("Reminders").lists.name())`,
	})
}

// GetReminders returns up to limit incomplete reminders across all lists.
func (c *Client) GetReminders(ctx context.Context, limit int) ([]Reminder, error) {
	return c.query(ctx, "reminders.list", "", ClampLimit(limit))
}

// Search returns incomplete reminders whose name or notes contain text.
func (c *Client) Search(ctx context.Context, text string, limit int) ([]Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.KindInvalidArguments, "reminders.search", "search text is required")
	}
	return c.query(ctx, "reminders.search", text, ClampLimit(limit))
}

func (c *Client) query(ctx context.Context, op, term string, limit int) ([]Reminder, error) {
	res, err := automation.Query(ctx, c.bridge, automation.QuerySpec[Reminder]{
		Op:       op,
		Target:   Target,
		Limit:    limit,
		Primary:  &automation.ScriptStrategy[Reminder]{Schema: schema, Script: listScript(term, limit)},
		Fallback: &automation.ObjectModelStrategy[Reminder]{Schema: schema, Script: listJXA(term, limit)},
	})
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Create adds a reminder and returns a confirmation.
func (c *Client) Create(ctx context.Context, r NewReminder) (string, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.ListName = strings.TrimSpace(r.ListName)
	if r.Name == "" {
		return "", apperr.New(apperr.KindInvalidArguments, "reminders.create", "name is required")
	}

	err := c.bridge.Send(ctx, automation.SendSpec{
		Op:             "reminders.create",
		Target:         Target,
		Script:         createScript(r),
		FallbackScript: createJXA(r),
		Sentinel:       createSentinel,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Created reminder %q", r.Name)
	if r.ListName != "" {
		fmt.Fprintf(&b, " in list %q", r.ListName)
	}
	if r.Due != nil {
		fmt.Fprintf(&b, " due %s", r.Due.Format("2006-01-02 15:04"))
	}
	return b.String(), nil
}

var dueLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDue parses an ISO 8601 date or date-time. Values without a zone
// are local time.
func ParseDue(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.New(apperr.KindInvalidArguments, "reminders.create", "invalid dueDate %q: want an ISO 8601 date such as 2025-03-01 or 2025-03-01T09:30", s)
}

func listScript(term string, limit int) string {
	filter := "(reminders of l whose completed is false)"
	if term != "" {
		q := automation.QuoteAppleScript(term)
		filter = fmt.Sprintf("(reminders of l whose completed is false and (name contains %s or body contains %s))", q, q)
	}
	return fmt.Sprintf(`tell application "Reminders"
	set resultList to {}
	set itemCount to 0
	repeat with l in every list
		if itemCount >= %d then exit repeat
		repeat with r in %s
			if itemCount >= %d then exit repeat
			try
				set dueText to missing value
				if due date of r is not missing value then set dueText to (due date of r) as string
				set end of resultList to {name:(name of r), list:(name of l), notes:(body of r), dueDate:dueText}
				set itemCount to itemCount + 1
			end try
		end repeat
	end repeat
	return resultList
end tell`, limit, filter, limit)
}

func listJXA(term string, limit int) string {
	return fmt.Sprintf(`(() => {
	const Reminders = Application("Reminders");
	const term = %s, limit = %d;
	const out = [];
	for (const l of Reminders.lists()) {
		if (out.length >= limit) break;
		const filter = term
			? {completed: false, _or: [{name: {_contains: term}}, {body: {_contains: term}}]}
			: {completed: false};
		for (const r of l.reminders.whose(filter)()) {
			if (out.length >= limit) break;
			try {
				const due = r.dueDate();
				out.push({name: r.name(), list: l.name(), notes: r.body(), dueDate: due ? String(due) : null});
			} catch (e) {}
		}
	}
	return JSON.stringify(out);
})()`, automation.QuoteJS(term), limit)
}

func createScript(r NewReminder) string {
	props := fmt.Sprintf("name:%s", automation.QuoteAppleScript(r.Name))
	if r.Notes != "" {
		props += fmt.Sprintf(", body:%s", automation.QuoteAppleScript(r.Notes))
	}

	var b strings.Builder
	b.WriteString("tell application \"Reminders\"\n")
	if r.Due != nil {
		// Built field by field so the result does not depend on the locale's
		// date format.
		d := *r.Due
		fmt.Fprintf(&b, "\tset dueDate to current date\n\tset day of dueDate to 1\n\tset year of dueDate to %d\n\tset month of dueDate to %d\n\tset day of dueDate to %d\n\tset time of dueDate to %d\n",
			d.Year(), int(d.Month()), d.Day(), d.Hour()*3600+d.Minute()*60+d.Second())
		props += ", due date:dueDate"
	}
	if r.ListName == "" {
		b.WriteString("\tset targetList to default list\n")
	} else {
		l := automation.QuoteAppleScript(r.ListName)
		fmt.Fprintf(&b, "\tif not (exists list %s) then make new list with properties {name:%s}\n\tset targetList to list %s\n", l, l, l)
	}
	fmt.Fprintf(&b, "\tmake new reminder at end of reminders of targetList with properties {%s}\n", props)
	b.WriteString("end tell\n")
	fmt.Fprintf(&b, "return %s", automation.QuoteAppleScript(createSentinel))
	return b.String()
}

func createJXA(r NewReminder) string {
	due := "null"
	if r.Due != nil {
		d := *r.Due
		due = fmt.Sprintf("new Date(%d, %d, %d, %d, %d, %d)", d.Year(), int(d.Month())-1, d.Day(), d.Hour(), d.Minute(), d.Second())
	}
	return fmt.Sprintf(`(() => {
	const Reminders = Application("Reminders");
	const listName = %s, notes = %s, due = %s;
	let list = Reminders.defaultList();
	if (listName) {
		const found = Reminders.lists.whose({name: listName})();
		if (found.length > 0) {
			list = found[0];
		} else {
			list = Reminders.List({name: listName});
			Reminders.lists.push(list);
		}
	}
	const props = {name: %s};
	if (notes) props.body = notes;
	if (due) props.dueDate = due;
	list.reminders.push(Reminders.Reminder(props));
	return %s;
})()`, automation.QuoteJS(r.ListName), automation.QuoteJS(r.Notes), due, automation.QuoteJS(r.Name), automation.QuoteJS(createSentinel))
}
