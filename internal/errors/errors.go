// Package errors formats the two kinds of user-facing failure the
// interpreter can produce: a compile-time SyntaxError and a runtime
// RuntimeError, both carrying enough source context to print a useful
// diagnostic without re-scanning the program.
package errors

import (
	"fmt"
	"strings"

	"github.com/mattn/go-isatty"
	pkgerrors "github.com/pkg/errors"
	"os"
)

// Kind distinguishes the two diagnostics the driver can print; tests match
// against these tags, so they are part of the observable contract.
type Kind string

const (
	SyntaxError  Kind = "SyntaxError"
	RuntimeError Kind = "RuntimeError"
)

// StackFrame is one line of a runtime error's call trace, most-recent-call
// first.
type StackFrame struct {
	Function string
	Line     int
}

// MomijiError is the structured diagnostic both the compiler and the VM
// raise; cmd/momiji renders it with Error() and maps it to the process exit
// code described in the CLI surface.
type MomijiError struct {
	Kind    Kind
	Message string
	File    string
	Line    int
	Source  string
	Stack   []StackFrame
}

func (e *MomijiError) Error() string {
	var b strings.Builder
	tag := string(e.Kind)
	if colorEnabled() {
		color := "31" // red
		tag = fmt.Sprintf("\x1b[%sm%s\x1b[0m", color, tag)
	}
	fmt.Fprintf(&b, "%s: %s", tag, e.Message)
	if e.Line > 0 {
		fmt.Fprintf(&b, " [line %d]", e.Line)
	}
	if e.Source != "" {
		fmt.Fprintf(&b, "\n  %d | %s", e.Line, e.Source)
	}
	for _, frame := range e.Stack {
		if frame.Function != "" {
			fmt.Fprintf(&b, "\n  at %s (line %d)", frame.Function, frame.Line)
		} else {
			fmt.Fprintf(&b, "\n  at line %d", frame.Line)
		}
	}
	return b.String()
}

func colorEnabled() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}

func NewSyntaxError(message string, line int, source string) *MomijiError {
	return &MomijiError{Kind: SyntaxError, Message: message, Line: line, Source: source}
}

func NewRuntimeError(message string, line int, source string) *MomijiError {
	return &MomijiError{Kind: RuntimeError, Message: message, Line: line, Source: source}
}

// WithStack attaches a call trace, most-recent-frame-first, to a runtime
// error.
func (e *MomijiError) WithStack(stack []StackFrame) *MomijiError {
	e.Stack = stack
	return e
}

// WrapIO wraps a failed source read with the path (a pkg/errors wrapper,
// not a MomijiError) while preserving the original cause for %+v-style
// debugging; used at the CLI boundary (exit code 74).
func WrapIO(err error, path string) error {
	return pkgerrors.Wrapf(err, "could not read %s", path)
}
