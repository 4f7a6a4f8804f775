package vm

import (
	"testing"

	"momiji/internal/bytecode"
)

func TestSweepReclaimsUnreachableArray(t *testing.T) {
	h := NewHeap()
	v := New(h, "<test>", "")
	baseline := h.AllocatedBytes()

	// allocate an array nothing holds a reference to; a collection should
	// see it as unreachable and sweep it away.
	h.NewArray(nil, nil)
	if h.AllocatedBytes() <= baseline {
		t.Fatalf("expected the throwaway array to have grown allocated bytes")
	}

	v.collect()
	if got := h.AllocatedBytes(); got != baseline {
		t.Errorf("unreachable array should have been swept, got %d bytes, want baseline %d", got, baseline)
	}
}

func TestSweepKeepsStackReachableValues(t *testing.T) {
	h := NewHeap()
	v := New(h, "<test>", "")
	baseline := h.AllocatedBytes()

	arr := h.NewArray(nil, nil)
	v.push(bytecode.Object(arr))

	v.collect()
	if got := h.AllocatedBytes(); got <= baseline {
		t.Fatalf("an array referenced from the operand stack must survive a collection, got %d bytes, baseline %d", got, baseline)
	}
	v.pop()
}
