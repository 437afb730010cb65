// Copyright 2025 Joseph Cumines

// Package guard protects the protocol channel from everything that is not a
// protocol frame.
//
// The process writes JSON-RPC frames and, potentially, stray diagnostic text
// to the same stdout. A Guard sits in front of the real stdout: writes that
// do not look like a frame are dropped, and frames larger than the client
// profile allows have their first text content truncated so that the client
// still receives a well-formed response.
package guard

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/joeycumines/apple-mcp/internal/config"
)

// TruncationMargin is subtracted from the profile limit to size the
// truncated text, leaving room for the rest of the frame.
const TruncationMargin = 1000

// previewLen bounds how much of a suppressed write is logged.
const previewLen = 120

// Stats counts what the guard did with each write.
type Stats struct {
	Passed     uint64
	Suppressed uint64
	Truncated  uint64
	// Oversized counts frames over the limit that were written unchanged
	// because truncating their text could not make them fit.
	Oversized uint64
}

// Guard is an io.Writer that filters writes before forwarding them to the
// underlying writer. It is safe for concurrent use; each Write is forwarded
// atomically.
type Guard struct {
	w          io.Writer
	log        *slog.Logger
	profile    config.ClientProfile
	mu         sync.Mutex
	passed     atomic.Uint64
	suppressed atomic.Uint64
	truncated  atomic.Uint64
	oversized  atomic.Uint64
}

// New returns a Guard forwarding to w under profile.
func New(w io.Writer, profile config.ClientProfile, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{w: w, profile: profile, log: log}
}

// Write filters p and forwards what survives. It always reports len(p), nil:
// callers never observe suppression, truncation or downstream failures.
func (g *Guard) Write(p []byte) (int, error) {
	n := len(p)
	frame := g.filter(p)
	if frame == nil {
		return n, nil
	}

	g.mu.Lock()
	_, err := g.w.Write(frame)
	g.mu.Unlock()
	if err != nil {
		g.log.Error("failed to write frame", slog.Any("error", err), slog.Int("bytes", len(frame)))
	}
	return n, nil
}

// Capture copies r into the guard one line at a time until r is exhausted.
// It is used to drain a redirected os.Stdout, so that output from any code
// path goes through the same filter. Returns nil on EOF.
func (g *Guard) Capture(r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			_, _ = g.Write(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// Stats returns a snapshot of the counters.
func (g *Guard) Stats() Stats {
	return Stats{
		Passed:     g.passed.Load(),
		Suppressed: g.suppressed.Load(),
		Truncated:  g.truncated.Load(),
		Oversized:  g.oversized.Load(),
	}
}

// Profile returns the profile the guard enforces.
func (g *Guard) Profile() config.ClientProfile { return g.profile }

// filter returns the bytes to forward, or nil to suppress p.
func (g *Guard) filter(p []byte) []byte {
	body := bytes.TrimSpace(p)
	if len(body) == 0 || body[0] != '{' {
		g.suppress(p, "not a protocol frame")
		return nil
	}
	if g.profile.StrictFrames && !json.Valid(body) {
		g.suppress(p, "incomplete or invalid frame")
		return nil
	}

	limit := g.profile.MaxResponseBytes
	if limit <= 0 || len(p) <= limit {
		g.passed.Add(1)
		return p
	}

	var newline []byte
	if bytes.HasSuffix(p, []byte("\n")) {
		newline = []byte("\n")
	}
	out, ok := truncateFrame(body, len(p), limit-len(newline))
	if !ok {
		g.oversized.Add(1)
		g.log.Warn("oversized frame cannot be truncated to fit; passing through",
			slog.Int("bytes", len(p)), slog.Int("limit", limit))
		return p
	}
	g.truncated.Add(1)
	g.log.Warn("truncated oversized frame",
		slog.Int("bytes", len(p)), slog.Int("limit", limit), slog.Int("written", len(out)+len(newline)))
	return append(out, newline...)
}

func (g *Guard) suppress(p []byte, reason string) {
	g.suppressed.Add(1)
	preview := p
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	g.log.Debug("suppressed write to protocol channel",
		slog.String("reason", reason), slog.Int("bytes", len(p)), slog.String("preview", string(preview)))
}

// Notice returns the text appended to truncated content.
func Notice(originalSize int) string {
	return fmt.Sprintf("\n\n[Response truncated: original size %d bytes]", originalSize)
}

// truncateFrame cuts result.content[i].text, for the first content item with
// a string text field, until the encoded frame fits in budget bytes. It
// returns false when the frame has no such field, or when the frame is still
// over budget with the text cut to nothing.
func truncateFrame(body []byte, originalSize, budget int) ([]byte, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var msg map[string]any
	if err := dec.Decode(&msg); err != nil {
		return nil, false
	}
	result, ok := msg["result"].(map[string]any)
	if !ok {
		return nil, false
	}
	content, ok := result["content"].([]any)
	if !ok {
		return nil, false
	}
	var (
		item map[string]any
		text string
	)
	for _, c := range content {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := m["text"].(string); ok {
			item, text = m, s
			break
		}
	}
	if item == nil {
		return nil, false
	}

	notice := Notice(originalSize)
	cut := min(len(text), max(budget-TruncationMargin, 0))
	var out []byte
	for {
		cut = runeBoundary(text, cut)
		item["text"] = text[:cut] + notice
		encoded, err := encode(msg)
		if err != nil {
			return nil, false
		}
		out = encoded
		if len(out) <= budget {
			return out, true
		}
		if cut == 0 {
			return nil, false
		}
		cut -= max(len(out)-budget, 1)
		if cut < 0 {
			cut = 0
		}
	}
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// runeBoundary moves n back to the start of the rune containing s[n].
func runeBoundary(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
