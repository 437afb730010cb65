// Copyright 2025 Joseph Cumines

package server

import (
	"errors"
	"strings"
	"testing"

	"github.com/joeycumines/apple-mcp/internal/apperr"
)

func TestErrorResult(t *testing.T) {
	result := errorResult("test error")
	if !result.IsError {
		t.Error("expected IsError to be true")
	}
	if len(result.Content) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(result.Content))
	}
	if result.Content[0].Type != "text" {
		t.Errorf("expected type 'text', got %q", result.Content[0].Type)
	}
	if result.Content[0].Text != "test error" {
		t.Errorf("expected text 'test error', got %q", result.Content[0].Text)
	}
}

func TestErrorResultf(t *testing.T) {
	result := errorResultf("error %d: %s", 42, "details")
	if !result.IsError {
		t.Error("expected IsError to be true")
	}
	if result.Content[0].Text != "error 42: details" {
		t.Errorf("expected 'error 42: details', got %q", result.Content[0].Text)
	}
}

func TestTextResult(t *testing.T) {
	result := textResult("success message")
	if result.IsError {
		t.Error("expected IsError to be false")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "success message" {
		t.Errorf("unexpected content: %+v", result.Content)
	}
}

func TestTextResultf(t *testing.T) {
	result := textResultf("Found %d note(s)", 3)
	if result.IsError {
		t.Error("expected IsError to be false")
	}
	if result.Content[0].Text != "Found 3 note(s)" {
		t.Errorf("expected 'Found 3 note(s)', got %q", result.Content[0].Text)
	}
}

func TestFormatGRPCError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantPrefix string
		wantSubstr string
	}{
		{
			name:       "unreachable",
			err:        apperr.Wrap(apperr.KindApplicationUnreachable, "mail.unread", errors.New("launching Mail: exit status 1")),
			wantPrefix: "Error in mail: Unavailable - mail.unread: application unreachable: launching Mail",
			wantSubstr: "Privacy & Security > Automation",
		},
		{
			name:       "query failed",
			err:        apperr.New(apperr.KindAutomationQueryFailed, "notes.list", "both strategies failed"),
			wantPrefix: "Error in mail: Internal - notes.list: both strategies failed",
			wantSubstr: "run ID",
		},
		{
			name:       "invalid arguments",
			err:        operationError("mail", "send", "to"),
			wantPrefix: `Error in mail: InvalidArgument - mail: to is required for operation "send"`,
			wantSubstr: "invalid or missing values",
		},
		{
			name:       "unknown tool",
			err:        apperr.New(apperr.KindUnknownTool, "tools/call", "tool not found: mail"),
			wantPrefix: "Error in mail: NotFound",
			wantSubstr: "tools/list",
		},
		{
			name:       "module load failed",
			err:        apperr.Wrap(apperr.KindModuleLoadFailed, "loader.mail", errors.New("boom")),
			wantPrefix: "Error in mail: FailedPrecondition",
			wantSubstr: "retried on the next call",
		},
		{
			name:       "plain error",
			err:        errors.New("something broke"),
			wantPrefix: "Error in mail: something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatGRPCError(tt.err, "mail")
			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("formatGRPCError() = %q, want prefix %q", got, tt.wantPrefix)
			}
			if tt.wantSubstr != "" && !strings.Contains(got, "\nSuggestion: ") {
				t.Errorf("formatGRPCError() = %q, want a suggestion line", got)
			}
			if !strings.Contains(got, tt.wantSubstr) {
				t.Errorf("formatGRPCError() = %q, want it to contain %q", got, tt.wantSubstr)
			}
		})
	}

	if got := formatGRPCError(nil, "mail"); got != "" {
		t.Errorf("formatGRPCError(nil) = %q, want empty", got)
	}
}

func TestFormatTerseError(t *testing.T) {
	err := apperr.Wrap(apperr.KindApplicationUnreachable, "notes.list", errors.New("probe failed"))
	got := formatTerseError(err, "notes")
	want := "Error in notes: notes.list: application unreachable: probe failed"
	if got != want {
		t.Errorf("formatTerseError() = %q, want %q", got, want)
	}
	if strings.Contains(got, "Suggestion") || strings.Contains(got, "Unavailable") {
		t.Errorf("terse error should carry no code or suggestion: %q", got)
	}
	if formatTerseError(nil, "notes") != "" {
		t.Error("formatTerseError(nil) should be empty")
	}
}

func TestValidateToolInput(t *testing.T) {
	tool := &Tool{
		Name: "mail",
		InputSchema: objectSchema(map[string]any{
			"operation": enumProp("op", "unread", "send"),
			"limit":     integerProp("limit"),
			"to":        stringProp("to"),
			"flag":      map[string]any{"type": "boolean"},
			"ratio":     map[string]any{"type": "number"},
			"tags":      map[string]any{"type": "array"},
			"extra":     map[string]any{"type": "object"},
		}, "operation"),
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{name: "valid minimal", args: map[string]any{"operation": "unread"}},
		{name: "valid full", args: map[string]any{
			"operation": "send", "limit": float64(5), "to": "a@example.com",
			"flag": true, "ratio": 0.5, "tags": []any{"x"}, "extra": map[string]any{},
		}},
		{name: "null optional", args: map[string]any{"operation": "unread", "limit": nil}},
		{name: "unknown properties allowed", args: map[string]any{"operation": "unread", "other": 1.0}},
		{name: "missing required", args: map[string]any{}, wantErr: "missing required field: operation"},
		{name: "bad enum", args: map[string]any{"operation": "delete"}, wantErr: `field "operation" must be one of [unread, send], got "delete"`},
		{name: "enum wrong type", args: map[string]any{"operation": 3.0}, wantErr: `field "operation" must be a string, got number`},
		{name: "fractional integer", args: map[string]any{"operation": "unread", "limit": 2.5}, wantErr: `field "limit" must be an integer, got number`},
		{name: "string for integer", args: map[string]any{"operation": "unread", "limit": "5"}, wantErr: `field "limit" must be an integer, got string`},
		{name: "number for string", args: map[string]any{"operation": "send", "to": 1.0}, wantErr: `field "to" must be a string, got number`},
		{name: "string for boolean", args: map[string]any{"operation": "send", "flag": "yes"}, wantErr: `field "flag" must be a boolean, got string`},
		{name: "object for array", args: map[string]any{"operation": "send", "tags": map[string]any{}}, wantErr: `field "tags" must be an array, got object`},
		{name: "array for object", args: map[string]any{"operation": "send", "extra": []any{}}, wantErr: `field "extra" must be an object, got array`},
		{name: "first failing field in name order", args: map[string]any{"operation": "send", "to": 1.0, "limit": "x"}, wantErr: `field "limit"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateToolInput(tool, tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validateToolInput() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("validateToolInput() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateToolInput() error = %q, want it to contain %q", err, tt.wantErr)
			}
			if !errors.Is(err, apperr.ErrInvalidArguments) {
				t.Errorf("validateToolInput() error kind = %v, want INVALID_ARGUMENTS", apperr.KindOf(err))
			}
		})
	}
}

func TestValidateToolInput_NoSchema(t *testing.T) {
	if err := validateToolInput(&Tool{Name: "x"}, map[string]any{"a": 1.0}); err != nil {
		t.Errorf("validateToolInput() error = %v, want nil", err)
	}
}

func TestGetRequiredFields_FromDecodedJSON(t *testing.T) {
	got := getRequiredFields(map[string]any{"required": []any{"a", 1.0, "b"}})
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("getRequiredFields() = %v, want [a b]", got)
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{"limit": float64(7), "name": "Zoe", "bad": true}
	if got := intArg(args, "limit", 10); got != 7 {
		t.Errorf("intArg(limit) = %d, want 7", got)
	}
	if got := intArg(args, "missing", 10); got != 10 {
		t.Errorf("intArg(missing) = %d, want 10", got)
	}
	if got := stringArg(args, "name"); got != "Zoe" {
		t.Errorf("stringArg(name) = %q, want Zoe", got)
	}
	if got := stringArg(args, "bad"); got != "" {
		t.Errorf("stringArg(bad) = %q, want empty", got)
	}
}

func TestFormatNames(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{nil, "No accounts found."},
		{[]string{"iCloud"}, "Found 1 account:\niCloud"},
		{[]string{"iCloud", "Work"}, "Found 2 accounts:\niCloud\nWork"},
	}
	for _, tt := range tests {
		if got := formatNames("account", "accounts", tt.names); got != tt.want {
			t.Errorf("formatNames(%v) = %q, want %q", tt.names, got, tt.want)
		}
	}
}
