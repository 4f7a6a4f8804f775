package errors

import (
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestSyntaxErrorFormatting(t *testing.T) {
	err := NewSyntaxError("unexpected token", 3, `local 1 = 2;`)
	msg := err.Error()
	if !strings.Contains(msg, "SyntaxError") {
		t.Errorf("message should mention its kind: %q", msg)
	}
	if !strings.Contains(msg, "unexpected token") {
		t.Errorf("message should include the diagnostic text: %q", msg)
	}
	if !strings.Contains(msg, "line 3") {
		t.Errorf("message should include the line number: %q", msg)
	}
}

func TestRuntimeErrorWithStack(t *testing.T) {
	err := NewRuntimeError("undefined global 'x'", 10, "print x;").WithStack([]StackFrame{
		{Function: "main", Line: 10},
		{Function: "", Line: 4},
	})
	msg := err.Error()
	if !strings.Contains(msg, "at main (line 10)") {
		t.Errorf("message should render a named stack frame: %q", msg)
	}
	if !strings.Contains(msg, "at line 4") {
		t.Errorf("message should render an anonymous stack frame: %q", msg)
	}
}

func TestWrapIOPreservesCause(t *testing.T) {
	underlying := errNotFound("script.mj")
	wrapped := WrapIO(underlying, "script.mj")
	if !strings.Contains(wrapped.Error(), "script.mj") {
		t.Errorf("wrapped error should mention the path: %v", wrapped)
	}
	if cause := pkgerrors.Cause(wrapped); cause != underlying {
		t.Errorf("wrapped error should keep the original cause, got %v", cause)
	}
}

type errNotFound string

func (e errNotFound) Error() string { return string(e) + ": not found" }
