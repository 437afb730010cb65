// Copyright 2025 Joseph Cumines

package messages

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// appleEpoch is the zero point of chat.db message dates.
var appleEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// Store reads the Messages database. It never writes.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens path read-only. The file is not touched until the first
// query.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=1")
	if err != nil {
		return nil, fmt.Errorf("open messages db: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file the store reads.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// row is a message as stored, before contact resolution.
type row struct {
	date           time.Time
	handle         string
	text           string
	id             int64
	isFromMe       bool
	hasAttachments bool
}

// Handles returns the ids of every handle matching match, keyed by ROWID.
func (s *Store) Handles(ctx context.Context, match func(handle string) bool) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ROWID, id FROM handle`)
	if err != nil {
		return nil, fmt.Errorf("query handles: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var (
			id     int64
			handle string
		)
		if err := rows.Scan(&id, &handle); err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		if match(handle) {
			out[id] = handle
		}
	}
	return out, rows.Err()
}

const selectMessages = `SELECT m.ROWID, m.text, m.attributedBody, m.date, m.is_from_me, m.cache_has_attachments, COALESCE(h.id, '')
FROM message m LEFT JOIN handle h ON h.ROWID = m.handle_id
WHERE ((m.text IS NOT NULL AND m.text != '') OR m.attributedBody IS NOT NULL) AND `

// Conversation returns the newest limit messages exchanged with any of
// handleIDs, newest first.
func (s *Store) Conversation(ctx context.Context, handleIDs []int64, limit int) ([]row, error) {
	if len(handleIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(handleIDs)+1)
	for _, id := range handleIDs {
		args = append(args, id)
	}
	args = append(args, limit)
	query := selectMessages + `m.handle_id IN (?` + strings.Repeat(`, ?`, len(handleIDs)-1) + `)
ORDER BY m.date DESC LIMIT ?`
	return s.query(ctx, query, args...)
}

// Unread returns the newest limit unread incoming messages, newest first.
func (s *Store) Unread(ctx context.Context, limit int) ([]row, error) {
	return s.query(ctx, selectMessages+`m.is_from_me = 0 AND m.is_read = 0
ORDER BY m.date DESC LIMIT ?`, limit)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			r        row
			text     sql.NullString
			body     []byte
			date     int64
			fromMe   int64
			attached int64
		)
		if err := rows.Scan(&r.id, &text, &body, &date, &fromMe, &attached, &r.handle); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.text = text.String
		if r.text == "" {
			r.text = decodeAttributedBody(body)
		}
		if r.text == "" {
			continue
		}
		r.date = appleTime(date)
		r.isFromMe = fromMe != 0
		r.hasAttachments = attached != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// appleTime converts a chat.db date, stored in seconds on older systems and
// nanoseconds on newer ones.
func appleTime(v int64) time.Time {
	if v > 1e12 || v < -1e12 {
		return appleEpoch.Add(time.Duration(v))
	}
	return appleEpoch.Add(time.Duration(v) * time.Second)
}

// decodeAttributedBody extracts the plain text from a typedstream encoded
// NSAttributedString, as stored when message.text is NULL.
func decodeAttributedBody(b []byte) string {
	i := bytes.Index(b, []byte("NSString"))
	if i < 0 {
		return ""
	}
	// class name, then a 5 byte preamble before the length
	if len(b) < i+len("NSString")+5 {
		return ""
	}
	b = b[i+len("NSString")+5:]
	if len(b) == 0 {
		return ""
	}
	var n, start int
	switch b[0] {
	case 0x81:
		if len(b) < 3 {
			return ""
		}
		n, start = int(binary.LittleEndian.Uint16(b[1:3])), 3
	case 0x82:
		if len(b) < 5 {
			return ""
		}
		n, start = int(binary.LittleEndian.Uint32(b[1:5])), 5
	default:
		n, start = int(b[0]), 1
	}
	if start+n > len(b) {
		return ""
	}
	return strings.TrimSpace(string(b[start : start+n]))
}
