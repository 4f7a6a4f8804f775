package vm

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"momiji/internal/bytecode"
	"momiji/internal/logging"
)

// RegisterNatives installs every native callable a fresh VM starts with.
func RegisterNatives(v *VM) {
	v.DefineNative("clock", nativeClock)
	v.DefineNative("input", nativeInput(v))
	v.DefineNative("exit", nativeExit)
	v.DefineNative("len", nativeLen)
	v.DefineNative("exec", nativeExec(v))
	v.DefineNative("system", nativeSystem)
	v.DefineNative("uuid", nativeUUID(v))
	v.DefineNative("humanize", nativeHumanize(v))
	v.DefineNative("gc_stats", nativeGCStats(v))
	v.DefineNative("is_tty", nativeIsTTY)
}

func nativeClock(args []bytecode.Value) (bytecode.Value, error) {
	return bytecode.Number(float64(time.Now().UnixNano()) / 1e9), nil
}

// nativeInput prints an optional prompt, reads one line from stdin, and
// returns it with its trailing newline stripped.
func nativeInput(v *VM) NativeFn {
	reader := bufio.NewReader(os.Stdin)
	return func(args []bytecode.Value) (bytecode.Value, error) {
		if len(args) > 0 {
			fmt.Print(stringify(args[0]))
		}
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return bytecode.Null(), nil
		}
		line = strings.TrimRight(line, "\r\n")
		return bytecode.Object(v.heap.InternString(line, v.collect)), nil
	}
}

func nativeExit(args []bytecode.Value) (bytecode.Value, error) {
	code := 0
	if len(args) > 0 && args[0].IsNumber() {
		code = int(args[0].Number)
	}
	os.Exit(code)
	return bytecode.Null(), nil
}

func nativeLen(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.Value{}, fmt.Errorf("len() expects exactly one argument")
	}
	v := args[0]
	if !v.IsObject() {
		return bytecode.Value{}, fmt.Errorf("len() expects a string, array, or map")
	}
	switch obj := v.Obj.(type) {
	case *String:
		return bytecode.Number(float64(len(obj.Chars))), nil
	case *Array:
		return bytecode.Number(float64(len(obj.Elements))), nil
	case *Map:
		return bytecode.Number(float64(len(obj.Keys))), nil
	default:
		return bytecode.Value{}, fmt.Errorf("len() expects a string, array, or map")
	}
}

// nativeExec runs a command and returns its combined stdout+stderr as a
// string, for scripts that want to capture output rather than just a
// pass/fail exit code (see system, below).
func nativeExec(v *VM) NativeFn {
	return func(args []bytecode.Value) (bytecode.Value, error) {
		if len(args) < 1 {
			return bytecode.Value{}, fmt.Errorf("exec() expects a command name")
		}
		s, ok := args[0].Obj.(*String)
		if !args[0].IsObject() || !ok {
			return bytecode.Value{}, fmt.Errorf("exec() expects a string command")
		}
		parts := strings.Fields(s.Chars)
		if len(parts) == 0 {
			return bytecode.Value{}, fmt.Errorf("exec() expects a non-empty command")
		}
		out, err := exec.Command(parts[0], parts[1:]...).CombinedOutput()
		if err != nil {
			logging.NativeFailure("exec", err)
			return bytecode.Value{}, fmt.Errorf("exec failed: %w", err)
		}
		return bytecode.Object(v.heap.InternString(string(out), v.collect)), nil
	}
}

// nativeSystem runs a command through `sh -c` (unlike exec, which splits
// the command on whitespace and runs it without a shell), streams output
// live, and returns the process exit code instead of captured text, for
// scripts that need pass/fail rather than output.
func nativeSystem(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) < 1 {
		return bytecode.Value{}, fmt.Errorf("system() expects a command string")
	}
	s, ok := args[0].Obj.(*String)
	if !args[0].IsObject() || !ok {
		return bytecode.Value{}, fmt.Errorf("system() expects a string command")
	}
	cmd := exec.Command("sh", "-c", s.Chars)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	code := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			return bytecode.Value{}, fmt.Errorf("system() failed: %w", err)
		}
	}
	return bytecode.Number(float64(code)), nil
}

// nativeUUID generates a random (v4) UUID string, letting scripts mint
// unique identifiers without shelling out.
func nativeUUID(v *VM) NativeFn {
	return func(args []bytecode.Value) (bytecode.Value, error) {
		id := uuid.New().String()
		return bytecode.Object(v.heap.InternString(id, v.collect)), nil
	}
}

// nativeHumanize formats a number of bytes as a human-readable size
// ("1.2 MB"), handy for scripts that report on file or heap sizes.
func nativeHumanize(v *VM) NativeFn {
	return func(args []bytecode.Value) (bytecode.Value, error) {
		if len(args) != 1 || !args[0].IsNumber() {
			return bytecode.Value{}, fmt.Errorf("humanize() expects a single numeric byte count")
		}
		s := humanize.Bytes(uint64(args[0].Number))
		return bytecode.Object(v.heap.InternString(s, v.collect)), nil
	}
}

// nativeGCStats exposes the same byte-accounting numbers the collector's
// invariants are stated in terms of, as a Map scripts can introspect.
func nativeGCStats(v *VM) NativeFn {
	return func(args []bytecode.Value) (bytecode.Value, error) {
		m := v.heap.NewMap(v.collect)
		m.Set("allocated", bytecode.Number(float64(v.heap.AllocatedBytes())))
		m.Set("next_collection", bytecode.Number(float64(v.heap.NextCollection())))
		return bytecode.Object(m), nil
	}
}

// nativeIsTTY reports whether stdout is attached to a terminal. The
// colorized error output in internal/errors makes the same isatty check
// against stderr instead.
func nativeIsTTY(args []bytecode.Value) (bytecode.Value, error) {
	return bytecode.Bool(isatty.IsTerminal(os.Stdout.Fd())), nil
}
