package offset

import (
	"testing"

	"github.com/o2lab/gpucheck/apint"
	"github.com/o2lab/gpucheck/ir"
)

// leafFixture builds a tiny function providing typed instruction and
// argument leaves.
func leafFixture() (*ir.Instruction, *ir.Argument) {
	m := ir.NewModule()
	f := m.NewFunction("k", ir.Void, []string{"n"}, []*ir.Type{ir.I16})
	b := f.NewBlock("entry")
	x := b.NewBinOp("x", ir.Add, ir.NewConstantInt(ir.I16, 1), ir.NewConstantInt(ir.I16, 2), ir.I16)
	b.NewRet(nil)
	return x, f.Params[0]
}

func TestConstQueries(t *testing.T) {
	c := ConstInt(42)
	if !c.IsConst() {
		t.Fatal("ConstInt is not const")
	}
	if got := c.ConstVal().SExtValue(); got != 42 {
		t.Errorf("ConstVal = %d, want 42", got)
	}
	lo, hi := c.ConstRange()
	if lo.SExtValue() != 42 || hi.SExtValue() != 42 {
		t.Errorf("const range = [%s, %s], want [42, 42]", lo, hi)
	}
}

func TestConstValPanicsOnNonConst(t *testing.T) {
	x, _ := leafFixture()
	defer func() {
		if recover() == nil {
			t.Error("ConstVal on an Inst leaf must panic")
		}
	}()
	NewInst(x).ConstVal()
}

func TestLeafRanges(t *testing.T) {
	x, n := leafFixture()
	lo, hi := NewInst(x).ConstRange()
	if lo.SExtValue() != -32768 || hi.SExtValue() != 32767 {
		t.Errorf("i16 inst range = [%s, %s]", lo, hi)
	}
	lo, hi = NewArg(n).ConstRange()
	if lo.SExtValue() != -32768 || hi.SExtValue() != 32767 {
		t.Errorf("i16 arg range = [%s, %s]", lo, hi)
	}
	lo, hi = NewUnknown(x).ConstRange()
	if lo.Bits() != 64 || !lo.IsMinSigned() || !hi.IsMaxSigned() {
		t.Errorf("unknown range = [%s, %s], want full i64", lo, hi)
	}
}

func TestBinOpRanges(t *testing.T) {
	x, _ := leafFixture()
	inst := NewInst(x) // full i16 range

	lo, hi := NewBinOp(ConstInt(2), Add, ConstInt(3)).ConstRange()
	if lo.SExtValue() != 5 || hi.SExtValue() != 5 {
		t.Errorf("2+3 range = [%s, %s]", lo, hi)
	}

	// Subtracting two full ranges inherits the left range instead of
	// widening catastrophically.
	lo, hi = NewBinOp(inst, Sub, inst).ConstRange()
	if lo.SExtValue() != -32768 || hi.SExtValue() != 32767 {
		t.Errorf("full-sub range = [%s, %s]", lo, hi)
	}

	lo, hi = NewBinOp(inst, Mul, ConstInt(2)).ConstRange()
	if lo.SExtValue() != -65536 || hi.SExtValue() != 65534 {
		t.Errorf("i16*2 range = [%s, %s]", lo, hi)
	}

	lo, hi = NewBinOp(ConstInt(8), SDiv, ConstInt(2)).ConstRange()
	if lo.SExtValue() != 4 || hi.SExtValue() != 4 {
		t.Errorf("8/2 range = [%s, %s]", lo, hi)
	}

	lo, hi = NewBinOp(ConstInt(7), SRem, ConstInt(4)).ConstRange()
	if lo.SExtValue() != 0 || hi.SExtValue() != 4 {
		t.Errorf("7%%4 range = [%s, %s]", lo, hi)
	}

	lo, hi = NewBinOp(inst, Eq, ConstInt(0)).ConstRange()
	if lo.Bits() != 1 || lo.SExtValue() != -1 || hi.SExtValue() != 0 {
		t.Errorf("compare range = [%s, %s], want 1-bit [-1, 0]", lo, hi)
	}
}

func TestDivisionByZeroRangeIsFull(t *testing.T) {
	lo, hi := NewBinOp(ConstInt(8), SDiv, ConstInt(0)).ConstRange()
	if !lo.IsMinSigned() || !hi.IsMaxSigned() {
		t.Errorf("x/0 range = [%s, %s], want full", lo, hi)
	}
}

func TestPrinting(t *testing.T) {
	_, n := leafFixture()
	e := NewBinOp(NewBinOp(NewArg(n), Add, ConstInt(2)), Mul, ConstInt(3))
	if got := e.String(); got != "((%n + 2) * 3)" {
		t.Errorf("String() = %q", got)
	}
	cmp := NewBinOp(NewArg(n), SLE, ConstInt(0))
	if got := cmp.String(); got != "(%n <= 0)" {
		t.Errorf("String() = %q", got)
	}
	ucmp := NewBinOp(NewArg(n), ULE, ConstInt(0))
	if got := ucmp.String(); got != "(%n <= 0)" {
		t.Errorf("signed and unsigned compares must print alike, got %q", got)
	}
}

func TestBinOpInvariants(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewBinOp with nil child must panic")
		}
	}()
	NewBinOp(nil, Add, ConstInt(1))
}

func TestWidenedConstEquality(t *testing.T) {
	a := NewConst(apint.New(8, -1, true))
	b := NewConst(apint.New(32, -1, true))
	if !MatchingOffsets(a, b) {
		t.Error("sign-extended constants of different widths must match")
	}
	c := NewConst(apint.New(8, 255, false))
	if !MatchingOffsets(a, c) {
		t.Error("same bit pattern at same width must match")
	}
}
