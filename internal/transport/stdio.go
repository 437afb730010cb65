// Copyright 2025 Joseph Cumines
//
// Stdio transport for JSON-RPC 2.0 communication

package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport is closed")

// ErrEmptyLine is returned by ReadMessage for blank input lines.
var ErrEmptyLine = errors.New("empty line received")

// ParseError is returned by ReadMessage when a line is not valid JSON.
type ParseError struct {
	Err  error
	Line string
}

func (e *ParseError) Error() string { return fmt.Sprintf("failed to parse JSON: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// StdioTransport implements JSON-RPC 2.0 transport over line-delimited
// stdin/stdout. The writer is normally a guard wrapping the real stdout.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type StdioTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	log     *slog.Logger
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewStdioTransport creates a new stdio transport. A nil log uses
// slog.Default().
func NewStdioTransport(stdin io.Reader, stdout io.Writer, log *slog.Logger) *StdioTransport {
	if log == nil {
		log = slog.Default()
	}
	return &StdioTransport{
		reader: bufio.NewReader(stdin),
		writer: stdout,
		log:    log,
	}
}

// Message represents a JSON-RPC 2.0 message.
//
// This is a union type that can represent either a Request or a Response:
//
// Request format:
//   - JSONRPC: "2.0" (required)
//   - Method: The method name (required)
//   - Params: Method parameters (optional)
//   - ID: Request identifier (optional; omit for notifications)
//
// Response format:
//   - JSONRPC: "2.0" (required)
//   - Result: Success result (mutually exclusive with Error)
//   - Error: Error object (mutually exclusive with Result)
//   - ID: Matches the request ID (required; null for notification responses)
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Message struct {
	// Error contains error details for failed requests.
	Error *ErrorObj `json:"error,omitempty"`

	// JSONRPC is always "2.0".
	JSONRPC string `json:"jsonrpc"`

	// Method is the name of the method to invoke. Requests only.
	Method string `json:"method,omitempty"`

	// ID is the request identifier. Omitted for notifications.
	ID json.RawMessage `json:"id,omitempty"`

	// Params contains the method parameters. Requests only.
	Params json.RawMessage `json:"params,omitempty"`

	// Result contains the success response data.
	Result json.RawMessage `json:"result,omitempty"`
}

// IsNotification reports whether msg is a request that expects no response.
func (m *Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// ErrorObj represents a JSON-RPC 2.0 error object.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type ErrorObj struct {
	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Data contains additional error information.
	Data json.RawMessage `json:"data,omitempty"`

	// Code is a number indicating the error type.
	Code int `json:"code"`
}

// ReadMessage reads one JSON-RPC 2.0 message. It returns io.EOF when stdin
// is exhausted, ErrEmptyLine for blank lines and *ParseError for malformed
// lines.
func (t *StdioTransport) ReadMessage() (*Message, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if t.closed.Load() {
		return nil, ErrClosed
	}

	line, err := t.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if strings.TrimSpace(line) == "" {
				return nil, io.EOF
			}
			// Final line without a newline.
		} else {
			return nil, fmt.Errorf("failed to read line: %w", err)
		}
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyLine
	}

	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, &ParseError{Err: err, Line: line}
	}

	return &msg, nil
}

// WriteMessage writes a JSON-RPC 2.0 message followed by a newline, in a
// single Write call so the frame reaches the writer whole.
func (t *StdioTransport) WriteMessage(msg *Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close closes the transport. It is idempotent.
func (t *StdioTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// IsClosed returns whether the transport is closed
func (t *StdioTransport) IsClosed() bool {
	return t.closed.Load()
}

// Serve reads and handles messages one at a time until stdin is exhausted
// or the transport is closed. A nil response from the handler writes
// nothing. Handler errors become internal-error responses, and malformed
// lines are answered with a parse error.
func (t *StdioTransport) Serve(handler func(*Message) (*Message, error)) error {
	for {
		msg, err := t.ReadMessage()
		if err != nil {
			var perr *ParseError
			switch {
			case errors.Is(err, io.EOF):
				t.log.Info("stdin closed, exiting")
				return nil
			case errors.Is(err, ErrClosed):
				return nil
			case errors.Is(err, ErrEmptyLine):
				continue
			case errors.As(err, &perr):
				t.log.Warn("received malformed message", slog.Any("error", err))
				t.writeError(nil, ErrCodeParseError, "Parse error")
				continue
			default:
				return err
			}
		}

		response, err := handler(msg)
		if err != nil {
			t.log.Error("error handling message", slog.String("method", msg.Method), slog.Any("error", err))
			if msg.IsNotification() {
				continue
			}
			t.writeError(msg.ID, ErrCodeInternalError, err.Error())
			continue
		}

		if response != nil {
			if err := t.WriteMessage(response); err != nil {
				t.log.Error("error writing message", slog.Any("error", err))
			}
		}
	}
}

func (t *StdioTransport) writeError(id json.RawMessage, code int, message string) {
	if id == nil {
		id = json.RawMessage("null")
	}
	err := t.WriteMessage(&Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorObj{Code: code, Message: message},
	})
	if err != nil {
		t.log.Error("error writing message", slog.Any("error", err))
	}
}
