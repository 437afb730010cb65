// Copyright 2025 Joseph Cumines

// Package apperr defines the error taxonomy shared by the automation bridge,
// the module loader and the tool dispatcher.
//
// Every error carries a Kind, which maps onto a gRPC status code so callers
// can classify failures with status.Code(err) without knowing the concrete
// type. The status also carries an errdetails.ErrorInfo naming the kind and
// the failing operation.
package apperr

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the ErrorInfo domain attached to every status.
const Domain = "apple-mcp"

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is the zero value; it maps to codes.Unknown.
	KindUnknown Kind = iota
	// KindApplicationUnreachable means the target application is not running
	// and could not be launched, or it refused the minimal probes.
	KindApplicationUnreachable
	// KindAutomationQueryFailed means a well-formed automation call errored or
	// produced output with no recoverable fallback.
	KindAutomationQueryFailed
	// KindInvalidArguments means a tool invocation's arguments did not match
	// the tool's declared shape.
	KindInvalidArguments
	// KindUnknownTool means the requested tool is not registered.
	KindUnknownTool
	// KindModuleLoadFailed means a collaborator module failed to initialize.
	KindModuleLoadFailed
)

// Sentinels usable with errors.Is.
var (
	ErrApplicationUnreachable = &Error{Kind: KindApplicationUnreachable}
	ErrAutomationQueryFailed  = &Error{Kind: KindAutomationQueryFailed}
	ErrInvalidArguments       = &Error{Kind: KindInvalidArguments}
	ErrUnknownTool            = &Error{Kind: KindUnknownTool}
	ErrModuleLoadFailed       = &Error{Kind: KindModuleLoadFailed}
)

func (k Kind) String() string {
	switch k {
	case KindApplicationUnreachable:
		return "APPLICATION_UNREACHABLE"
	case KindAutomationQueryFailed:
		return "AUTOMATION_QUERY_FAILED"
	case KindInvalidArguments:
		return "INVALID_ARGUMENTS"
	case KindUnknownTool:
		return "UNKNOWN_TOOL"
	case KindModuleLoadFailed:
		return "MODULE_LOAD_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Code returns the gRPC status code for the kind.
func (k Kind) Code() codes.Code {
	switch k {
	case KindApplicationUnreachable:
		return codes.Unavailable
	case KindAutomationQueryFailed:
		return codes.Internal
	case KindInvalidArguments:
		return codes.InvalidArgument
	case KindUnknownTool:
		return codes.NotFound
	case KindModuleLoadFailed:
		return codes.FailedPrecondition
	default:
		return codes.Unknown
	}
}

// Error is a classified failure. Op names the operation that failed (for
// example "mail.unread" or "loader.import"), Msg is an optional description,
// and Err is the underlying cause.
type Error struct {
	Err  error
	Op   string
	Msg  string
	Kind Kind
}

// New returns an Error with a formatted message and no cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error classifying err. A nil err still produces an Error,
// since callers use Wrap to raise a condition that has no Go-level cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = defaultMessage(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// GRPCStatus allows status.FromError and status.Code to classify the error.
func (e *Error) GRPCStatus() *status.Status {
	st := status.New(e.Kind.Code(), e.Error())
	info := &errdetails.ErrorInfo{
		Reason: e.Kind.String(),
		Domain: Domain,
	}
	if e.Op != "" {
		info.Metadata = map[string]string{"op": e.Op}
	}
	if withDetails, err := st.WithDetails(info); err == nil {
		return withDetails
	}
	return st
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Reason extracts the ErrorInfo reason from an error's status, or "" if the
// error carries none.
func Reason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}

func defaultMessage(k Kind) string {
	switch k {
	case KindApplicationUnreachable:
		return "application unreachable"
	case KindAutomationQueryFailed:
		return "automation query failed"
	case KindInvalidArguments:
		return "invalid arguments"
	case KindUnknownTool:
		return "unknown tool"
	case KindModuleLoadFailed:
		return "module load failed"
	default:
		return "unknown error"
	}
}
