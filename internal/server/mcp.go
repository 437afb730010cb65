// Copyright 2025 Joseph Cumines
//
// MCP server implementation

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/joeycumines/apple-mcp/internal/apperr"
	"github.com/joeycumines/apple-mcp/internal/config"
	"github.com/joeycumines/apple-mcp/internal/loader"
	"github.com/joeycumines/apple-mcp/internal/transport"
)

// ProtocolVersion is the MCP protocol revision this server speaks.
const ProtocolVersion = "2024-11-05"

// ServerName is reported in the initialize result.
const ServerName = "apple-mcp"

// MCPServer dispatches MCP requests to the collaborator tools.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type MCPServer struct {
	loader  *loader.Loader
	profile config.ClientProfile
	log     *slog.Logger
	audit   *AuditLogger
	metrics *Metrics
	tools   map[string]*Tool
	version string
}

// Options configures an MCPServer.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Options struct {
	// Loader provides the collaborator modules.
	Loader *loader.Loader
	// Profile selects error verbosity.
	Profile config.ClientProfile
	// Log defaults to slog.Default().
	Log *slog.Logger
	// Audit is optional.
	Audit *AuditLogger
	// Metrics is optional.
	Metrics *Metrics
	// Version is reported in serverInfo.
	Version string
}

// Tool represents an MCP tool
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Tool struct {
	Handler     func(context.Context, *ToolCall) (*ToolResult, error)
	InputSchema map[string]any
	Name        string
	Description string
}

// ToolCall is a validated tool invocation.
type ToolCall struct {
	Arguments map[string]any
	Name      string
}

// ToolResult represents a tool call result
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents a content item in a tool result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewMCPServer creates a new MCP server
func NewMCPServer(opts Options) *MCPServer {
	s := &MCPServer{
		loader:  opts.Loader,
		profile: opts.Profile,
		log:     opts.Log,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		version: opts.Version,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.version == "" {
		s.version = "dev"
	}
	s.registerTools()
	return s
}

// registerTools registers all available tools
func (s *MCPServer) registerTools() {
	s.tools = make(map[string]*Tool)
	for _, t := range []*Tool{
		s.contactsTool(),
		s.notesTool(),
		s.messagesTool(),
		s.mailTool(),
		s.remindersTool(),
	} {
		s.tools[t.Name] = t
	}
}

// Tools returns the registered tools sorted by name.
func (s *MCPServer) Tools() []*Tool {
	out := make([]*Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Serve handles requests from tr, one at a time, until stdin is exhausted,
// the transport is closed, or ctx is cancelled.
func (s *MCPServer) Serve(ctx context.Context, tr *transport.StdioTransport) error {
	s.log.Info("MCP server starting", slog.String("profile", s.profile.Name), slog.Int("tools", len(s.tools)))
	stop := context.AfterFunc(ctx, func() { _ = tr.Close() })
	defer stop()
	return tr.Serve(func(msg *transport.Message) (*transport.Message, error) {
		return s.HandleMessage(ctx, msg)
	})
}

// HandleMessage handles a single MCP message. Notifications return nil.
func (s *MCPServer) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	if msg.IsNotification() {
		s.log.Debug("notification received", slog.String("method", msg.Method))
		return nil, nil
	}

	switch msg.Method {
	case "initialize":
		return s.result(msg, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": ServerName, "version": s.version},
		})

	case "ping":
		return s.result(msg, map[string]any{})

	case "tools/list":
		tools := make([]map[string]any, 0, len(s.tools))
		for _, tool := range s.Tools() {
			tools = append(tools, map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"inputSchema": tool.InputSchema,
			})
		}
		return s.result(msg, map[string]any{"tools": tools})

	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg, transport.ErrCodeInvalidParams, fmt.Sprintf("Invalid params: %v", err)), nil
		}
		return s.result(msg, s.callTool(ctx, params.Name, params.Arguments))

	default:
		return errorResponse(msg, transport.ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method)), nil
	}
}

// callTool runs one tool. Every failure, including an unknown tool, bad
// arguments or a panic, becomes an isError result.
func (s *MCPServer) callTool(ctx context.Context, name string, raw json.RawMessage) (result *ToolResult) {
	start := time.Now()
	defer func() {
		status := "success"
		if result.IsError {
			status = "error"
		}
		d := time.Since(start)
		s.metrics.RecordToolCall(name, status, d)
		s.audit.LogToolCall(name, raw, status, d)
		s.log.Debug("tool call complete", slog.String("tool", name), slog.String("status", status), slog.Duration("duration", d))
	}()

	tool, ok := s.tools[name]
	if !ok {
		return s.errorResult(name, apperr.New(apperr.KindUnknownTool, "tools/call", "tool not found: %s", name))
	}

	args := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return s.errorResult(name, apperr.Wrap(apperr.KindInvalidArguments, name, fmt.Errorf("arguments must be a JSON object: %w", err)))
		}
	}
	if err := validateToolInput(tool, args); err != nil {
		return s.errorResult(name, err)
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tool handler panicked",
				slog.String("tool", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = errorResultf("Error in %s: internal error: %v", name, r)
		}
	}()

	res, err := tool.Handler(ctx, &ToolCall{Name: name, Arguments: args})
	if err != nil {
		return s.errorResult(name, err)
	}
	if res == nil {
		return textResult("")
	}
	return res
}

// errorResult renders err for the active profile.
func (s *MCPServer) errorResult(tool string, err error) *ToolResult {
	s.log.Warn("tool call failed",
		slog.String("tool", tool),
		slog.String("reason", apperr.Reason(err)),
		slog.Any("error", err),
	)
	if s.profile.VerboseErrors {
		return errorResult(formatGRPCError(err, tool))
	}
	return errorResult(formatTerseError(err, tool))
}

func (s *MCPServer) result(msg *transport.Message, v any) (*transport.Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", msg.Method, err)
	}
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: b}, nil
}

func errorResponse(msg *transport.Message, code int, message string) *transport.Message {
	return &transport.Message{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Error:   &transport.ErrorObj{Code: code, Message: message},
	}
}

// operationError reports a missing argument required by one operation.
func operationError(tool, operation, field string) error {
	return apperr.New(apperr.KindInvalidArguments, tool, "%s is required for operation %q", field, operation)
}
