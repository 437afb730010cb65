// Copyright 2025 Joseph Cumines
//
// Helper functions for tool handlers

package server

import (
	"fmt"
	"slices"
	"strings"

	"github.com/joeycumines/apple-mcp/internal/apperr"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// errorResult creates a ToolResult with IsError=true and the given message.
func errorResult(msg string) *ToolResult {
	return &ToolResult{
		IsError: true,
		Content: []Content{{Type: "text", Text: msg}},
	}
}

// errorResultf creates a ToolResult with IsError=true and a formatted message.
func errorResultf(format string, args ...any) *ToolResult {
	return errorResult(fmt.Sprintf(format, args...))
}

// textResult creates a ToolResult with a single text content.
func textResult(text string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// textResultf creates a ToolResult with a formatted text content.
func textResultf(format string, args ...any) *ToolResult {
	return textResult(fmt.Sprintf(format, args...))
}

// formatGRPCError formats an error with context for MCP tool responses.
// It extracts the status code and message, and provides actionable
// suggestions for common failure scenarios.
func formatGRPCError(err error, toolName string) string {
	if err == nil {
		return ""
	}

	st, ok := grpcstatus.FromError(err)
	if !ok {
		return fmt.Sprintf("Error in %s: %s", toolName, err.Error())
	}

	code := st.Code()
	msg := st.Message()
	suggestion := ""

	switch code {
	case codes.Unavailable:
		suggestion = "Make sure the application is installed, and that this process is allowed to control it in System Settings > Privacy & Security > Automation"
	case codes.Internal:
		suggestion = "The automation script failed. Check the server log on stderr for the run ID and script error"
	case codes.InvalidArgument:
		suggestion = "Check the request parameters for invalid or missing values"
	case codes.NotFound:
		suggestion = "Call tools/list for the available tools"
	case codes.FailedPrecondition:
		suggestion = "The module could not be initialized. It will be retried on the next call"
	case codes.DeadlineExceeded:
		suggestion = "Operation timed out. Try a smaller limit, or raise APPLE_MCP_SCRIPT_TIMEOUT"
	case codes.PermissionDenied:
		suggestion = "Grant the required permission in System Settings > Privacy & Security"
	}

	result := fmt.Sprintf("Error in %s: %s - %s", toolName, code.String(), msg)
	if suggestion != "" {
		result += fmt.Sprintf("\nSuggestion: %s", suggestion)
	}
	return result
}

// formatTerseError formats err without status codes or suggestions.
func formatTerseError(err error, toolName string) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Error in %s: %s", toolName, err.Error())
}

// validateToolInput validates JSON arguments against a tool's InputSchema.
// It checks:
//   - All required fields are present
//   - Field types match the schema (string, number, boolean, integer, array, object)
//   - Enum values are in the allowed set (if enum is specified)
//
// Failures are apperr.KindInvalidArguments. Extra properties not defined in
// the schema are allowed.
func validateToolInput(tool *Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema == nil {
		return nil
	}

	for _, field := range getRequiredFields(schema) {
		if _, exists := args[field]; !exists {
			return apperr.New(apperr.KindInvalidArguments, tool.Name, "missing required field: %s", field)
		}
	}

	properties := getSchemaProperties(schema)
	if properties == nil {
		return nil
	}

	// sorted, so the reported field is deterministic
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, fieldName := range names {
		propSchema, exists := properties[fieldName]
		if !exists {
			continue
		}
		if err := validateFieldValue(fieldName, args[fieldName], propSchema); err != nil {
			return apperr.Wrap(apperr.KindInvalidArguments, tool.Name, err)
		}
	}

	return nil
}

// getRequiredFields extracts the "required" array from a JSON schema.
func getRequiredFields(schema map[string]any) []string {
	required, ok := schema["required"]
	if !ok {
		return nil
	}

	requiredArr, ok := required.([]string)
	if ok {
		return requiredArr
	}

	// Handle case where required is []interface{} (from JSON unmarshaling)
	requiredIface, ok := required.([]any)
	if !ok {
		return nil
	}

	result := make([]string, 0, len(requiredIface))
	for _, v := range requiredIface {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// getSchemaProperties extracts the "properties" map from a JSON schema.
func getSchemaProperties(schema map[string]any) map[string]map[string]any {
	props, ok := schema["properties"]
	if !ok {
		return nil
	}

	propsMap, ok := props.(map[string]any)
	if !ok {
		return nil
	}

	result := make(map[string]map[string]any, len(propsMap))
	for k, v := range propsMap {
		if propSchema, ok := v.(map[string]any); ok {
			result[k] = propSchema
		}
	}
	return result
}

// validateFieldValue validates a single field value against its property schema.
func validateFieldValue(fieldName string, value any, propSchema map[string]any) error {
	// null is accepted for any optional field
	if value == nil {
		return nil
	}

	schemaType, hasType := propSchema["type"].(string)
	if !hasType {
		return validateEnumValue(fieldName, value, propSchema)
	}

	if err := validateType(fieldName, value, schemaType); err != nil {
		return err
	}

	return validateEnumValue(fieldName, value, propSchema)
}

// validateType validates that a value matches the expected JSON Schema type.
func validateType(fieldName string, value any, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string, got %s", fieldName, jsonTypeName(value))
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("field %q must be a number, got %s", fieldName, jsonTypeName(value))
		}
	case "integer":
		if !isInteger(value) {
			return fmt.Errorf("field %q must be an integer, got %s", fieldName, jsonTypeName(value))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean, got %s", fieldName, jsonTypeName(value))
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q must be an array, got %s", fieldName, jsonTypeName(value))
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q must be an object, got %s", fieldName, jsonTypeName(value))
		}
	}
	return nil
}

// isInteger reports whether a decoded JSON number is a whole number.
func isInteger(value any) bool {
	v, ok := value.(float64)
	return ok && v == float64(int64(v))
}

// jsonTypeName names the JSON type of a value decoded into any.
func jsonTypeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// validateEnumValue validates that a value is in the allowed enum set.
func validateEnumValue(fieldName string, value any, propSchema map[string]any) error {
	enumValues, ok := propSchema["enum"].([]string)
	if !ok {
		return nil
	}
	valueStr, ok := value.(string)
	if !ok {
		return fmt.Errorf("field %q must be a string for enum validation, got %s", fieldName, jsonTypeName(value))
	}
	if slices.Contains(enumValues, valueStr) {
		return nil
	}
	return fmt.Errorf("field %q must be one of [%s], got %q", fieldName, strings.Join(enumValues, ", "), valueStr)
}

// intArg returns args[name] as an int, or def when absent or null. The value
// has already passed validateToolInput.
func intArg(args map[string]any, name string, def int) int {
	if v, ok := args[name].(float64); ok {
		return int(v)
	}
	return def
}

// stringArg returns args[name] as a string, or "".
func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// objectSchema builds a JSON schema for a tool's arguments.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func enumProp(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}
