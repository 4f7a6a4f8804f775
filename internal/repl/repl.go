// Package repl drives Momiji's interactive read-compile-run loop: it
// accumulates lines until brackets balance, compiles the accumulated
// buffer fresh each time, and runs it against one long-lived VM so globals
// persist across submissions.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"momiji/internal/compiler"
	"momiji/internal/config"
	"momiji/internal/errors"
	"momiji/internal/vm"
)

const (
	promptPrimary    = ">>> "
	promptContinued  = "... "
)

// Run reads from in and writes prompts/output to out until EOF (or the
// `exit` native is called, which terminates the process directly).
func Run(in io.Reader, out io.Writer, cfg config.Config) {
	reader := bufio.NewReader(in)
	heap := vm.NewHeap()
	heap.StressGC = cfg.StressGC
	heap.HeapGrowth = cfg.GCGrowth
	machine := vm.New(heap, "<repl>", "")
	if cfg.HasSeed {
		machine.SeedMaybe(cfg.Seed)
	}
	machine.Stdout = func(s string) { fmt.Fprint(out, s) }

	var buf strings.Builder
	depth := 0

	for {
		if buf.Len() == 0 {
			fmt.Fprint(out, promptPrimary)
		} else {
			fmt.Fprint(out, promptContinued)
		}

		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			return
		}
		depth += bracketDelta(line)
		buf.WriteString(line)

		if depth > 0 {
			continue
		}
		depth = 0

		source := buf.String()
		buf.Reset()
		if strings.TrimSpace(source) == "" {
			continue
		}

		fn, errs := compiler.Compile(source, "<repl>", heap)
		if len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintln(out, e.Error())
			}
			continue
		}

		runErr := machine.Interpret(fn)
		if runErr != nil {
			if me, ok := runErr.(*errors.MomijiError); ok {
				fmt.Fprintln(out, me.Error())
			} else {
				fmt.Fprintln(out, runErr.Error())
			}
		}

		if err == io.EOF {
			return
		}
	}
}

// bracketDelta counts net bracket/paren/brace opens minus closes on a
// line, ignoring anything inside a string literal so an unbalanced
// bracket in a string doesn't stall the prompt forever.
func bracketDelta(line string) int {
	delta := 0
	inString := false
	escape := false
	for _, r := range line {
		if inString {
			switch {
			case escape:
				escape = false
			case r == '\\':
				escape = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '(', '[', '{':
			delta++
		case ')', ']', '}':
			delta--
		}
	}
	return delta
}
