// Copyright 2025 Joseph Cumines

// Package contacts looks up people and phone numbers in Contacts.app.
package contacts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/apple-mcp/internal/automation"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a full address book listing is reused for
// phone number lookups.
const DefaultCacheTTL = 30 * time.Second

// UnknownName is the placeholder for a person without a name.
const UnknownName = "Unknown contact"

// Contact is a person with at least one phone number.
type Contact struct {
	Name   string   `json:"name"`
	Phones []string `json:"phones"`
}

// Target is the Contacts application.
var Target = automation.Target{
	App:      "Contacts",
	Probe:    `tell application "Contacts" to count every person`,
	AltProbe: `tell application "Contacts" to get version`,
}

var schema = automation.Schema[Contact]{
	Fields: []automation.Field{
		{Name: "name", Placeholder: UnknownName},
		{Name: "phones", Placeholder: "{}"},
	},
	Identifying: []string{"name"},
	Build: func(f automation.Fields) Contact {
		return Contact{Name: f["name"], Phones: automation.ParseList(f["phones"])}
	},
}

// Client is the contacts collaborator. It is safe for concurrent use.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Client struct {
	bridge *automation.Bridge
	now    func() time.Time
	group  singleflight.Group
	ttl    time.Duration

	mu       sync.Mutex
	cached   []Contact
	cachedAt time.Time
}

// New returns a Client. A zero ttl uses DefaultCacheTTL; a negative ttl
// disables caching.
func New(bridge *automation.Bridge, ttl time.Duration) *Client {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	return &Client{bridge: bridge, ttl: ttl, now: time.Now}
}

// GetAllNumbers returns every contact with a phone number, sorted by name.
func (c *Client) GetAllNumbers(ctx context.Context) ([]Contact, error) {
	return c.query(ctx, "contacts.all", "")
}

// FindNumber returns the contacts whose name contains name, ignoring case.
func (c *Client) FindNumber(ctx context.Context, name string) ([]Contact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return c.GetAllNumbers(ctx)
	}
	return c.query(ctx, "contacts.find", name)
}

// FindContactByPhone returns the name of the contact owning phone, or "" if
// there is none. Numbers are compared on their trailing digits, so
// "+1 (555) 010-9999" matches "5550109999". The address book listing is
// cached, and concurrent callers share one fetch.
func (c *Client) FindContactByPhone(ctx context.Context, phone string) (string, error) {
	want := NormalizePhone(phone)
	if want == "" {
		return "", nil
	}
	all, err := c.snapshot(ctx)
	if err != nil {
		return "", err
	}
	for _, contact := range all {
		for _, p := range contact.Phones {
			if PhonesMatch(want, NormalizePhone(p)) {
				return contact.Name, nil
			}
		}
	}
	return "", nil
}

func (c *Client) snapshot(ctx context.Context) ([]Contact, error) {
	if c.ttl > 0 {
		c.mu.Lock()
		if c.cached != nil && c.now().Sub(c.cachedAt) < c.ttl {
			all := c.cached
			c.mu.Unlock()
			return all, nil
		}
		c.mu.Unlock()
	}

	v, err, _ := c.group.Do("all", func() (any, error) {
		all, err := c.GetAllNumbers(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cached, c.cachedAt = all, c.now()
		c.mu.Unlock()
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Contact), nil
}

func (c *Client) query(ctx context.Context, op, name string) ([]Contact, error) {
	res, err := automation.Query(ctx, c.bridge, automation.QuerySpec[Contact]{
		Op:       op,
		Target:   Target,
		Primary:  &automation.ScriptStrategy[Contact]{Schema: schema, Script: listScript(name)},
		Fallback: &automation.ObjectModelStrategy[Contact]{Schema: schema, Script: listJXA(name)},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Contact, 0, len(res.Records))
	for _, rec := range res.Records {
		if len(rec.Phones) > 0 {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func listScript(name string) string {
	people := "every person"
	if name != "" {
		people = fmt.Sprintf("(every person whose name contains %s)", automation.QuoteAppleScript(name))
	}
	return fmt.Sprintf(`tell application "Contacts"
	set resultList to {}
	repeat with p in %s
		try
			set phoneList to value of every phone of p
			if (count of phoneList) > 0 then set end of resultList to {name:(name of p), phones:phoneList}
		end try
	end repeat
	return resultList
end tell`, people)
}

func listJXA(name string) string {
	return fmt.Sprintf(`(() => {
	const Contacts = Application("Contacts");
	const term = %s;
	const people = term ? Contacts.people.whose({name: {_contains: term}})() : Contacts.people();
	const out = [];
	for (const p of people) {
		try {
			const phones = p.phones.value();
			if (phones.length > 0) out.push({name: p.name(), phones: phones});
		} catch (e) {}
	}
	return JSON.stringify(out);
})()`, automation.QuoteJS(name))
}

// NormalizePhone strips everything but digits.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// minPhoneMatch is the number of trailing digits two numbers must share.
const minPhoneMatch = 7

// PhonesMatch reports whether two normalized numbers refer to the same line,
// allowing for a missing country code or trunk zero on either side.
func PhonesMatch(a, b string) bool {
	a, b = strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= minPhoneMatch && strings.HasSuffix(long, short)
}
