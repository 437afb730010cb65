// Copyright 2025 Joseph Cumines
//
// Developer CLI: runs one tools/call against the apple-mcp server over stdio

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/joeycumines/apple-mcp/internal/server"
	"github.com/joeycumines/apple-mcp/internal/transport"
)

func main() {
	serverPath := flag.String("server", "apple-mcp", "path to the apple-mcp server binary")
	client := flag.String("client", "cli", "client profile passed to the server")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	verbose := flag.Bool("v", false, "pass server stderr through")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <tool> [json-args]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 || flag.NArg() > 2 {
		flag.Usage()
		os.Exit(2)
	}
	args := json.RawMessage(`{}`)
	if flag.NArg() == 2 {
		args = json.RawMessage(flag.Arg(1))
		if !json.Valid(args) {
			fmt.Fprintln(os.Stderr, "mcp-tool: json-args is not valid JSON")
			os.Exit(2)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := call(ctx, *serverPath, *client, *verbose, flag.Arg(0), args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp-tool: %v\n", err)
		os.Exit(1)
	}
	for _, c := range result.Content {
		fmt.Println(c.Text)
	}
	if result.IsError {
		os.Exit(1)
	}
}

// call spawns the server, initializes a session and runs one tool.
func call(ctx context.Context, serverPath, client string, verbose bool, tool string, args json.RawMessage) (*server.ToolResult, error) {
	cmd := exec.CommandContext(ctx, serverPath, "--client="+client)
	if verbose {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}
	defer func() {
		_ = stdin.Close()
		_ = cmd.Wait()
	}()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	session := &session{tr: transport.NewStdioTransport(stdout, stdin, log)}

	if _, err := session.request(1, "initialize", map[string]any{
		"protocolVersion": server.ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcp-tool", "version": "dev"},
	}); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := session.tr.WriteMessage(&transport.Message{JSONRPC: "2.0", Method: "notifications/initialized"}); err != nil {
		return nil, err
	}

	raw, err := session.request(2, "tools/call", map[string]any{"name": tool, "arguments": args})
	if err != nil {
		return nil, fmt.Errorf("tools/call: %w", err)
	}
	var result server.ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}
	return &result, nil
}

type session struct {
	tr *transport.StdioTransport
}

// request sends a request and waits for the response with the same id,
// skipping anything else the server writes.
func (s *session) request(id int, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	want := json.RawMessage(fmt.Sprint(id))
	if err := s.tr.WriteMessage(&transport.Message{JSONRPC: "2.0", ID: want, Method: method, Params: body}); err != nil {
		return nil, err
	}
	for {
		msg, err := s.tr.ReadMessage()
		switch {
		case errors.Is(err, transport.ErrEmptyLine):
			continue
		case errors.Is(err, io.EOF):
			return nil, errors.New("server exited before responding")
		case err != nil:
			return nil, err
		}
		if strings.TrimSpace(string(msg.ID)) != string(want) {
			continue
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("%s (code %d)", msg.Error.Message, msg.Error.Code)
		}
		return msg.Result, nil
	}
}
