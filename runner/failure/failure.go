// Package failure defines the error taxonomy shared by the parent driver and
// the porcelain worker. Every error that can cross the process boundary is a
// *Error carrying a stable Kind tag, so the parent can rebuild the same
// category the worker raised.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags an error category on the wire
type Kind string

const (
	KindShape           Kind = "shape"
	KindValueConstraint Kind = "value_constraint"
	KindArgumentKind    Kind = "argument_kind"
	KindBuild           Kind = "build"
	KindArgumentBind    Kind = "argument_bind"
	KindExecution       Kind = "execution"
	KindNonTerminating  Kind = "non_terminating"
	KindHarness         Kind = "harness"
)

var kinds = []Kind{
	KindShape,
	KindValueConstraint,
	KindArgumentKind,
	KindBuild,
	KindArgumentBind,
	KindExecution,
	KindNonTerminating,
	KindHarness,
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Error is a categorized driver error. Diagnostic holds free-form detail such
// as compiler output.
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrShape           = &Error{Kind: KindShape}
	ErrValueConstraint = &Error{Kind: KindValueConstraint}
	ErrArgumentKind    = &Error{Kind: KindArgumentKind}
	ErrBuild           = &Error{Kind: KindBuild}
	ErrArgumentBind    = &Error{Kind: KindArgumentBind}
	ErrExecution       = &Error{Kind: KindExecution}
	ErrNonTerminating  = &Error{Kind: KindNonTerminating}
	ErrHarness         = &Error{Kind: KindHarness}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	if diag := strings.TrimSpace(e.Diagnostic); diag != "" {
		return msg + "\n" + diag
	}
	return msg
}

// Is matches sentinels (no message) by kind, and other *Error values by
// kind and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDiagnostic creates an error carrying diagnostic text
func WithDiagnostic(kind Kind, diagnostic string, format string, args ...interface{}) *Error {
	return &Error{
		Kind:       kind,
		Message:    fmt.Sprintf(format, args...),
		Diagnostic: diagnostic,
	}
}

// From returns the *Error inside err, or wraps an uncategorized error as an
// execution error. A nil err gives nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		full, inner := err.Error(), fe.Error()
		if full == inner || !strings.HasSuffix(full, inner) {
			return fe
		}
		// keep the wrapping context in the message
		return &Error{
			Kind:       fe.Kind,
			Message:    strings.TrimSuffix(full, inner) + fe.Message,
			Diagnostic: fe.Diagnostic,
		}
	}
	return &Error{Kind: KindExecution, Message: err.Error()}
}

// KindOf returns the kind of err, or "" if err is not categorized
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
