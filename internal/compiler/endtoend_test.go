package compiler

import (
	"strconv"
	"strings"
	"testing"

	"momiji/internal/vm"
)

// run compiles and executes source against a fresh VM, returning everything
// printed via `print` and any error hit along the way (compile errors are
// joined, runtime errors returned as-is).
func run(t *testing.T, source string) (string, error) {
	t.Helper()
	heap := vm.NewHeap()
	fn, errs := Compile(source, "<test>", heap)
	if len(errs) > 0 {
		var b strings.Builder
		for _, e := range errs {
			b.WriteString(e.Error())
			b.WriteString("\n")
		}
		return "", errFromString(b.String())
	}

	var out strings.Builder
	machine := vm.New(heap, "<test>", source)
	machine.Stdout = func(s string) { out.WriteString(s) }
	if err := machine.Interpret(fn); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

type stringError string

func (e stringError) Error() string { return string(e) }
func errFromString(s string) error  { return stringError(s) }

func TestEndToEndScenarios(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "arithmetic precedence",
			source: `print 1 + 2 * 3;`,
			want:   "7\n",
		},
		{
			name:   "for loop accumulation",
			source: `local a = 0; for (local i = 0; i < 5; i = i + 1) a = a + i; print a;`,
			want:   "10\n",
		},
		{
			name: "closure counter",
			source: `
				function makeCounter() { local n = 0; return function() => ++n; }
				local c = makeCounter(); print c(); print c(); print c();
			`,
			want: "1\n2\n3\n",
		},
		{
			name: "inheritance and super call",
			source: `
				class A { A(x) { this.x = x; } get() { return this.x; } }
				class B : A { B(x) { super(x + 1); } }
				print B(10).get();
			`,
			want: "11\n",
		},
		{
			name:   "array slicing",
			source: `local a = [1,2,3,4,5]; print a[1:4]; print a[::-1];`,
			want:   "[2, 3, 4]\n[5, 4, 3, 2, 1]\n",
		},
		{
			name:   "map mutation",
			source: `local m = {"k":1}; m["k"] = m["k"] + 41; print m["k"];`,
			want:   "42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.source)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBoundaryArityMismatch(t *testing.T) {
	source := `function f(a, b) { return a + b; } print f(1);`
	if _, err := run(t, source); err == nil {
		t.Fatal("expected an arity-mismatch runtime error, got none")
	}
}

func TestBoundarySetBeforeDefine(t *testing.T) {
	source := `x = 1;`
	if _, err := run(t, source); err == nil {
		t.Fatal("expected a set-before-define runtime error, got none")
	}
}

func TestBoundaryLocalsAtLimit(t *testing.T) {
	var b strings.Builder
	// Slot 0 is reserved for the callee, so 255 declared locals fill all 256
	// one-byte-addressable slots.
	b.WriteString("function f() {\n")
	for i := 0; i < 255; i++ {
		b.WriteString("local v")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" = 0;\n")
	}
	b.WriteString("}\nf();\n")
	if _, err := run(t, b.String()); err != nil {
		t.Fatalf("255 declared locals (256 slots) should compile and run cleanly, got: %v", err)
	}
}

func TestBoundaryTooManyLocals(t *testing.T) {
	var b strings.Builder
	b.WriteString("function f() {\n")
	for i := 0; i < 256; i++ {
		b.WriteString("local v")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" = 0;\n")
	}
	b.WriteString("}\n")
	if _, err := run(t, b.String()); err == nil {
		t.Fatal("256 declared locals (257 slots) in one function should fail to compile")
	}
}

func TestBoundarySelfInheritance(t *testing.T) {
	source := `class A : A { }`
	if _, err := run(t, source); err == nil {
		t.Fatal("a class inheriting from itself should fail to compile")
	}
}

func TestBoundaryConstructorReturnValue(t *testing.T) {
	source := `class A { A() { return 1; } }`
	if _, err := run(t, source); err == nil {
		t.Fatal("a constructor returning a value should fail to compile")
	}
}

func TestDeeplyNestedClosures(t *testing.T) {
	source := `
		function outer() {
			local a = 1;
			return function() {
				local b = 2;
				return function() {
					local c = 3;
					return function() => a + b + c;
				};
			};
		}
		print outer()()()();
	`
	got, err := run(t, source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "6\n" {
		t.Errorf("got %q, want %q", got, "6\n")
	}
}
