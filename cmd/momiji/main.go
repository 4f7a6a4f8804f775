// Command momiji runs Momiji scripts, or drops into an interactive REPL
// when invoked with no arguments.
package main

import (
	"fmt"
	"os"

	"momiji/internal/compiler"
	"momiji/internal/config"
	"momiji/internal/errors"
	"momiji/internal/logging"
	"momiji/internal/repl"
	"momiji/internal/vm"
)

const (
	exitOK            = 0
	exitUsage         = 64
	exitCompileError  = 65
	exitRuntimeError  = 70
	exitIOError       = 74
)

func main() {
	cfg := config.Load()
	logging.SetLevel(cfg.LogLevel)
	os.Exit(run(os.Args[1:], cfg))
}

func run(args []string, cfg config.Config) int {
	switch len(args) {
	case 0:
		logging.ReplStart()
		repl.Run(os.Stdin, os.Stdout, cfg)
		logging.ReplEnd()
		return exitOK
	case 1:
		return runFile(args[0], cfg)
	default:
		fmt.Fprintln(os.Stderr, "usage: momiji [script]")
		return exitUsage
	}
}

func runFile(path string, cfg config.Config) int {
	data, err := os.ReadFile(path)
	if err != nil {
		wrapped := errors.WrapIO(err, path)
		fmt.Fprintln(os.Stderr, wrapped)
		return exitIOError
	}
	source := string(data)

	heap := vm.NewHeap()
	heap.StressGC = cfg.StressGC
	heap.HeapGrowth = cfg.GCGrowth
	fn, compileErrs := compiler.Compile(source, path, heap)
	if len(compileErrs) > 0 {
		for _, e := range compileErrs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return exitCompileError
	}

	machine := vm.New(heap, path, source)
	if cfg.HasSeed {
		machine.SeedMaybe(cfg.Seed)
	}
	if err := machine.Interpret(fn); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return exitRuntimeError
	}
	return exitOK
}
