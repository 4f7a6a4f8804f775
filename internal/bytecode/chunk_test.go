package bytecode

import "testing"

func TestChunkLineAtIsGreatestStartingOffsetBelow(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpTrue, 1, "true;")
	c.WriteOp(OpPop, 1, "true;")
	c.WriteOp(OpTrue, 2, "true;")
	c.WriteOp(OpPop, 2, "true;")
	c.WriteOp(OpTrue, 5, "true;")

	tests := []struct {
		offset int
		want   int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 5},
	}
	for _, tt := range tests {
		if got := c.LineAt(tt.offset); got != tt.want {
			t.Errorf("LineAt(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}
}

func TestChunkAddConstantReturnsStableIndex(t *testing.T) {
	c := NewChunk()
	i0 := c.AddConstant(Number(1))
	i1 := c.AddConstant(Number(2))
	if i0 != 0 || i1 != 1 {
		t.Fatalf("got indices %d, %d; want 0, 1", i0, i1)
	}
	if c.Constants[i0].Number != 1 || c.Constants[i1].Number != 2 {
		t.Fatalf("constant pool does not match what was added")
	}
}

func TestChunkWriteLongRoundTrips(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpConstantLong, 1, "")
	c.WriteLong(0x01020304, 1, "")
	got := c.ReadLong(1)
	if got != 0x01020304 {
		t.Errorf("got %#x, want %#x", got, 0x01020304)
	}
}

func TestValueFalsey(t *testing.T) {
	tests := []struct {
		name   string
		v      Value
		falsey bool
	}{
		{"null", Null(), true},
		{"false", Bool(false), true},
		{"true", Bool(true), false},
		{"zero", Number(0), false},
		{"empty object slot", Value{Type: ValObject}, false},
	}
	for _, tt := range tests {
		if got := tt.v.IsFalsey(); got != tt.falsey {
			t.Errorf("%s: IsFalsey() = %v, want %v", tt.name, got, tt.falsey)
		}
	}
}
