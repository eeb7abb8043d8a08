package apint

import (
	"testing"
)

func TestSignedWrap(t *testing.T) {
	tests := []struct {
		bits   int
		v      int64
		signed bool
		want   int64
	}{
		{32, -1, true, -1},
		{8, 200, false, -56},
		{8, 127, true, 127},
		{8, 128, true, -128},
		{1, 1, false, -1},
		{1, 0, false, 0},
	}
	for _, tt := range tests {
		got := New(tt.bits, tt.v, tt.signed).SExtValue()
		if got != tt.want {
			t.Errorf("New(%d, %d, %t).SExtValue() = %d, want %d", tt.bits, tt.v, tt.signed, got, tt.want)
		}
	}
}

func TestArithmeticWraps(t *testing.T) {
	a := New(8, 255, false)
	b := New(8, 1, false)
	if got := a.Add(b); !got.IsZero() {
		t.Errorf("255+1 at 8 bits = %s, want 0", got)
	}
	if got := New(8, 0, false).Sub(b).SExtValue(); got != -1 {
		t.Errorf("0-1 at 8 bits = %d, want -1", got)
	}
	if got := New(8, 16, false).Mul(New(8, 16, false)); !got.IsZero() {
		t.Errorf("16*16 at 8 bits = %s, want 0", got)
	}
}

func TestDivRemSigns(t *testing.T) {
	a := New(32, -7, true)
	b := New(32, 2, true)
	if got := a.SDiv(b).SExtValue(); got != -3 {
		t.Errorf("-7 sdiv 2 = %d, want -3", got)
	}
	if got := a.SRem(b).SExtValue(); got != -1 {
		t.Errorf("-7 srem 2 = %d, want -1", got)
	}
	// Unsigned sees -7 as a huge residue.
	if got := a.UDiv(b).SExtValue(); got != 2147483644 {
		t.Errorf("-7 udiv 2 = %d, want 2147483644", got)
	}
}

func TestComparisons(t *testing.T) {
	minusOne := New(8, -1, true)
	zero := New(8, 0, true)
	if !minusOne.Slt(zero) {
		t.Error("-1 slt 0 should hold")
	}
	if minusOne.Ult(zero) {
		t.Error("-1 ult 0 should not hold (0xff unsigned)")
	}
	if !minusOne.Ugt(zero) {
		t.Error("-1 ugt 0 should hold")
	}
}

func TestExtension(t *testing.T) {
	v := New(8, -2, true)
	if got := v.Sext(32).SExtValue(); got != -2 {
		t.Errorf("sext(-2) = %d, want -2", got)
	}
	if got := v.Zext(32).SExtValue(); got != 254 {
		t.Errorf("zext(0xfe) = %d, want 254", got)
	}
	if got := v.SextOrSelf(8); got.Bits() != 8 {
		t.Errorf("SextOrSelf to same width changed width to %d", got.Bits())
	}
}

func TestSignedBounds(t *testing.T) {
	if got := SignedMin(8).SExtValue(); got != -128 {
		t.Errorf("SignedMin(8) = %d", got)
	}
	if got := SignedMax(8).SExtValue(); got != 127 {
		t.Errorf("SignedMax(8) = %d", got)
	}
	if !SignedMin(8).IsMinSigned() || !SignedMax(8).IsMaxSigned() {
		t.Error("bound predicates disagree with constructors")
	}
}

func TestBool(t *testing.T) {
	if Bool(false).SExtValue() != 0 {
		t.Error("false must have a zero bit pattern")
	}
	if Bool(true).IsZero() {
		t.Error("true must have a nonzero bit pattern")
	}
	if Bool(true).Bits() != 1 {
		t.Error("comparison results are 1-bit")
	}
}
