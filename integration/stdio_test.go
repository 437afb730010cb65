// Copyright 2025 Joseph Cumines
//
// MCP stdio transport integration tests - validates JSON-RPC communication
// over stdin/stdout with the apple-mcp binary.

package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

type stdioResponse struct {
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

type mcpProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	done   chan error

	stderrMu  sync.Mutex
	stderrBuf strings.Builder
}

func (p *mcpProcess) stderr() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	return p.stderrBuf.String()
}

// startMCPStdioProcess starts apple-mcp with the given client profile and
// extra environment. The process is stopped when the test ends.
func startMCPStdioProcess(t *testing.T, ctx context.Context, client string, env ...string) *mcpProcess {
	t.Helper()

	cmd := exec.CommandContext(ctx, serverBinary, "--client="+client)
	cmd.Env = append(append(os.Environ(), offlineEnv()...), env...)
	cmd.Dir = t.TempDir()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("Failed to create stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("Failed to create stdout pipe: %v", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("Failed to create stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start MCP process: %v", err)
	}
	t.Logf("MCP process started (PID: %d)", cmd.Process.Pid)

	p := &mcpProcess{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout), done: make(chan error, 1)}

	var stderrDone sync.WaitGroup
	stderrDone.Add(1)
	go func() {
		defer stderrDone.Done()
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			p.stderrMu.Lock()
			p.stderrBuf.WriteString(scanner.Text())
			p.stderrBuf.WriteString("\n")
			p.stderrMu.Unlock()
		}
	}()
	go func() {
		stderrDone.Wait()
		p.done <- cmd.Wait()
	}()

	t.Cleanup(func() {
		_ = stdin.Close()
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			t.Log("MCP process did not exit, killing...")
			_ = cmd.Process.Kill()
			<-p.done
		}
		if t.Failed() {
			t.Logf("MCP process stderr:\n%s", p.stderr())
		}
	})
	return p
}

// wait waits for the process to exit after stdin is closed or a signal is sent.
func (p *mcpProcess) wait(t *testing.T, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-p.done:
		p.done <- err
		return err
	case <-time.After(timeout):
		t.Fatalf("MCP process did not exit within %v", timeout)
		return nil
	}
}

func writeStdioMessage(stdin io.Writer, msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// Write message followed by newline
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// readStdioResponse reads a JSON-RPC response from stdout with timeout
func readStdioResponse(ctx context.Context, reader *bufio.Reader) (*stdioResponse, error) {
	type readResult struct {
		err  error
		line string
	}

	resultCh := make(chan readResult, 1)
	go func() {
		line, err := reader.ReadString('\n')
		resultCh <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read response: %w", result.err)
		}

		line := strings.TrimSpace(result.line)
		if line == "" {
			return nil, fmt.Errorf("empty response received")
		}

		var resp stdioResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w (line: %s)", err, line)
		}

		return &resp, nil
	}
}

// sendStdioRequest sends a JSON-RPC request and waits for the response
func (p *mcpProcess) sendStdioRequest(ctx context.Context, req map[string]any) (*stdioResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := writeStdioMessage(p.stdin, req); err != nil {
		return nil, err
	}
	return readStdioResponse(reqCtx, p.stdout)
}

func (p *mcpProcess) initialize(t *testing.T, ctx context.Context) {
	t.Helper()
	resp, err := p.sendStdioRequest(ctx, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test-client", "version": "1.0.0"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to send initialize request: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("Initialize returned error: code=%d, message=%s", resp.Error.Code, resp.Error.Message)
	}
	if err := writeStdioMessage(p.stdin, map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"}); err != nil {
		t.Fatalf("Failed to send initialized notification: %v", err)
	}
}

func (p *mcpProcess) callTool(t *testing.T, ctx context.Context, id int, name string, args map[string]any) *toolResult {
	t.Helper()
	resp, err := p.sendStdioRequest(ctx, map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		t.Fatalf("tools/call %s: %v", name, err)
	}
	if resp.Error != nil {
		t.Fatalf("tools/call %s returned protocol error: code=%d, message=%s", name, resp.Error.Code, resp.Error.Message)
	}
	var result toolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to parse tool result: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("tools/call %s returned no content", name)
	}
	return &result
}

// TestStdioTransport_Initialize verifies the initialize handshake and the
// advertised protocol version.
func TestStdioTransport_Initialize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	p := startMCPStdioProcess(t, ctx, "default")

	resp, err := p.sendStdioRequest(ctx, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  map[string]any{"protocolVersion": "2024-11-05"},
	})
	if err != nil {
		t.Fatalf("Failed to send initialize request: %v", err)
	}
	if resp.JSONRPC != "2.0" || string(resp.ID) != "1" {
		t.Errorf("unexpected envelope: jsonrpc=%q id=%s", resp.JSONRPC, resp.ID)
	}

	var initResult struct {
		ProtocolVersion string `json:"protocolVersion"`
		Capabilities    struct {
			Tools map[string]any `json:"tools"`
		} `json:"capabilities"`
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &initResult); err != nil {
		t.Fatalf("Failed to parse initialize result: %v", err)
	}
	if initResult.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocolVersion = %q, want 2024-11-05", initResult.ProtocolVersion)
	}
	if initResult.ServerInfo.Name != "apple-mcp" {
		t.Errorf("serverInfo.name = %q, want apple-mcp", initResult.ServerInfo.Name)
	}
	if initResult.Capabilities.Tools == nil {
		t.Error("capabilities.tools missing")
	}
}

func TestStdioTransport_ToolsList(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	p := startMCPStdioProcess(t, ctx, "cli")
	p.initialize(t, ctx)

	resp, err := p.sendStdioRequest(ctx, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list"})
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to parse tools/list result: %v", err)
	}
	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	if got := strings.Join(names, ","); got != "contacts,mail,messages,notes,reminders" {
		t.Errorf("tools = %s", got)
	}
}

func TestStdioTransport_ProtocolErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	p := startMCPStdioProcess(t, ctx, "default")
	p.initialize(t, ctx)

	resp, err := p.sendStdioRequest(ctx, map[string]any{"jsonrpc": "2.0", "id": 3, "method": "prompts/list"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("expected -32601 for an unknown method, got %+v", resp.Error)
	}

	if _, err := io.WriteString(p.stdin, "{not json\n"); err != nil {
		t.Fatal(err)
	}
	resp, err = readStdioResponse(ctx, p.stdout)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != -32700 || string(resp.ID) != "null" {
		t.Errorf("expected a -32700 parse error with a null id, got id=%s error=%+v", resp.ID, resp.Error)
	}

	// the server is still serving
	resp, err = p.sendStdioRequest(ctx, map[string]any{"jsonrpc": "2.0", "id": 4, "method": "ping"})
	if err != nil || resp.Error != nil {
		t.Errorf("ping after errors failed: %v %+v", err, resp)
	}
}

func TestStdioTransport_ToolErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	p := startMCPStdioProcess(t, ctx, "default")
	p.initialize(t, ctx)

	result := p.callTool(t, ctx, 10, "calendar", map[string]any{})
	if !result.IsError || !strings.Contains(result.Content[0].Text, "tool not found: calendar") {
		t.Errorf("unknown tool: %+v", result)
	}

	result = p.callTool(t, ctx, 11, "mail", map[string]any{"operation": "archive"})
	if !result.IsError || !strings.Contains(result.Content[0].Text, "InvalidArgument") {
		t.Errorf("bad operation: %+v", result)
	}

	result = p.callTool(t, ctx, 12, "notes", map[string]any{"operation": "list", "limit": "many"})
	if !result.IsError || !strings.Contains(result.Content[0].Text, `field "limit" must be an integer`) {
		t.Errorf("bad limit: %+v", result)
	}
}

// TestStdioTransport_UnreachableApplication checks the error envelope for
// each verbosity when the scripting subsystem cannot run at all.
func TestStdioTransport_UnreachableApplication(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t.Run("verbose", func(t *testing.T) {
		p := startMCPStdioProcess(t, ctx, "default")
		p.initialize(t, ctx)
		result := p.callTool(t, ctx, 20, "mail", map[string]any{"operation": "accounts"})
		text := result.Content[0].Text
		if !result.IsError || !strings.HasPrefix(text, "Error in mail: Unavailable - ") || !strings.Contains(text, "\nSuggestion: ") {
			t.Errorf("unexpected verbose envelope: %+v", result)
		}
	})

	t.Run("terse", func(t *testing.T) {
		p := startMCPStdioProcess(t, ctx, "desktop")
		p.initialize(t, ctx)
		result := p.callTool(t, ctx, 21, "mail", map[string]any{"operation": "accounts"})
		text := result.Content[0].Text
		if !result.IsError || !strings.Contains(text, "application unreachable") || strings.Contains(text, "Suggestion") {
			t.Errorf("unexpected terse envelope: %+v", result)
		}
		waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
		defer waitCancel()
		waitFor(t, waitCtx, 50*time.Millisecond, "safe mode log line", func() bool {
			return strings.Contains(p.stderr(), "safe mode forced")
		})
	})
}

func TestStdioTransport_ExitOnStdinClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	metricsPath := filepath.Join(t.TempDir(), "metrics.prom")
	p := startMCPStdioProcess(t, ctx, "default", "APPLE_MCP_METRICS_FILE="+metricsPath)
	p.initialize(t, ctx)
	p.callTool(t, ctx, 30, "mail", map[string]any{"operation": "accounts"})

	_ = p.stdin.Close()
	if err := p.wait(t, 10*time.Second); err != nil {
		t.Fatalf("expected a clean exit, got %v", err)
	}

	var content []byte
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	waitFor(t, waitCtx, 50*time.Millisecond, "metrics file", func() bool {
		var err error
		content, err = os.ReadFile(metricsPath)
		return err == nil && len(content) != 0
	})
	for _, want := range []string{
		`apple_mcp_tool_calls_total{tool="mail",status="error"} 1`,
		`apple_mcp_guard_frames{outcome="passed"} 2`,
	} {
		if !strings.Contains(string(content), want) {
			t.Errorf("metrics missing %q:\n%s", want, content)
		}
	}
}

func TestStdioTransport_ExitOnSignal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	p := startMCPStdioProcess(t, ctx, "desktop")
	p.initialize(t, ctx)

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	// stdin stays open; only the signal ends the process
	if err := p.wait(t, 5*time.Second); err != nil {
		t.Errorf("expected exit status 0 after SIGTERM, got %v", err)
	}
}
