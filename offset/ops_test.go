package offset

import (
	"testing"

	"github.com/o2lab/gpucheck/apint"
	"github.com/o2lab/gpucheck/ir"
)

// noDep treats every value as warp-uniform.
type noDep struct{}

func (noDep) IsDependent(ir.Value) bool { return false }

// pickDep marks a chosen set of values as thread-dependent.
type pickDep map[ir.Value]bool

func (d pickDep) IsDependent(v ir.Value) bool { return d[v] }

func argLeaves(t *testing.T) (*Val, *Val, *Val, *Val) {
	t.Helper()
	m := ir.NewModule()
	f := m.NewFunction("k", ir.Void, []string{"a", "b", "c", "d"},
		[]*ir.Type{ir.I32, ir.I32, ir.I32, ir.I32})
	return NewArg(f.Params[0]), NewArg(f.Params[1]), NewArg(f.Params[2]), NewArg(f.Params[3])
}

func TestConstantFolding(t *testing.T) {
	tests := []struct {
		a, b int64
		op   Operator
		want int64
	}{
		{6, 7, Add, 13},
		{6, 7, Sub, -1},
		{6, 7, Mul, 42},
		{6, 7, SDiv, 0},
		{-8, 2, SDiv, -4},
		{7, 4, SRem, 3},
		{7, 4, URem, 3},
	}
	for _, tt := range tests {
		got := SimplifyOffsetVal(NewBinOp(ConstInt(tt.a), tt.op, ConstInt(tt.b)))
		if !got.IsConst() || got.ConstVal().SExtValue() != tt.want {
			t.Errorf("fold(%d %s %d) = %s, want %d", tt.a, tt.op, tt.b, got, tt.want)
		}
	}
}

func TestComparisonFolding(t *testing.T) {
	lt := SimplifyOffsetVal(NewBinOp(ConstInt(3), SLT, ConstInt(5)))
	if !lt.IsConst() || lt.ConstVal().IsZero() {
		t.Errorf("fold(3 < 5) = %s, want true", lt)
	}
	ge := SimplifyOffsetVal(NewBinOp(ConstInt(3), SGE, ConstInt(5)))
	if !ge.IsConst() || !ge.ConstVal().IsZero() {
		t.Errorf("fold(3 >= 5) = %s, want false", ge)
	}
}

func TestBitwiseStaysSymbolic(t *testing.T) {
	and := SimplifyOffsetVal(NewBinOp(ConstInt(1), And, ConstInt(1)))
	if and.IsConst() {
		t.Errorf("bitwise And of constants must stay symbolic, got %s", and)
	}
}

func TestIdentityLaws(t *testing.T) {
	x, _, _, _ := argLeaves(t)
	zero, one := ConstInt(0), ConstInt(1)

	keepsX := []*Val{
		NewBinOp(x, Add, zero),
		NewBinOp(zero, Add, x),
		NewBinOp(x, Sub, zero),
		NewBinOp(x, Mul, one),
		NewBinOp(one, Mul, x),
		NewBinOp(x, SDiv, one),
	}
	for _, e := range keepsX {
		if got := SimplifyOffsetVal(e); got != x {
			t.Errorf("simplify(%s) = %s, want the untouched leaf", e, got)
		}
	}

	toZero := []*Val{
		NewBinOp(x, Mul, zero),
		NewBinOp(zero, Mul, x),
		NewBinOp(zero, SDiv, x),
		NewBinOp(zero, SRem, x),
		NewBinOp(x, SRem, one),
	}
	for _, e := range toZero {
		got := SimplifyOffsetVal(e)
		if !got.IsConst() || !got.ConstVal().IsZero() {
			t.Errorf("simplify(%s) = %s, want 0", e, got)
		}
	}

	got := SimplifyOffsetVal(NewBinOp(one, SRem, x))
	if !got.IsConst() || !got.ConstVal().IsOne() {
		t.Errorf("simplify(1 %% x) = %s, want 1", got)
	}
}

func TestConstantRegrouping(t *testing.T) {
	x, _, _, _ := argLeaves(t)
	tests := []struct {
		in   *Val
		want *Val
	}{
		// (x + 2) + 3 -> x + 5
		{NewBinOp(NewBinOp(x, Add, ConstInt(2)), Add, ConstInt(3)), NewBinOp(x, Add, ConstInt(5))},
		// (x - 2) + 3 -> x - (-1)
		{NewBinOp(NewBinOp(x, Sub, ConstInt(2)), Add, ConstInt(3)), NewBinOp(x, Sub, ConstInt(-1))},
		// (7 - x) - 3 -> 4 - x
		{NewBinOp(NewBinOp(ConstInt(7), Sub, x), Sub, ConstInt(3)), NewBinOp(ConstInt(4), Sub, x)},
		// 5 + (x + 2) -> 7 + x
		{NewBinOp(ConstInt(5), Add, NewBinOp(x, Add, ConstInt(2))), NewBinOp(ConstInt(7), Add, x)},
		// 5 + (x - 2) -> 3 + x
		{NewBinOp(ConstInt(5), Add, NewBinOp(x, Sub, ConstInt(2))), NewBinOp(ConstInt(3), Add, x)},
		// 5 - (x - 2) -> 7 - x
		{NewBinOp(ConstInt(5), Sub, NewBinOp(x, Sub, ConstInt(2))), NewBinOp(ConstInt(7), Sub, x)},
		// 5 - (2 - x) -> 3 + x
		{NewBinOp(ConstInt(5), Sub, NewBinOp(ConstInt(2), Sub, x)), NewBinOp(ConstInt(3), Add, x)},
	}
	for _, tt := range tests {
		got := SimplifyOffsetVal(tt.in)
		if !MatchingOffsets(got, tt.want) {
			t.Errorf("simplify(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNegationInvolution(t *testing.T) {
	a, b, c, d := argLeaves(t)
	conds := []*Val{
		NewBinOp(a, Eq, b),
		NewBinOp(a, Neq, b),
		NewBinOp(a, SLT, b),
		NewBinOp(a, SLE, b),
		NewBinOp(a, SGT, b),
		NewBinOp(a, SGE, b),
		NewBinOp(a, ULT, b),
		NewBinOp(a, ULE, b),
		NewBinOp(a, UGT, b),
		NewBinOp(a, UGE, b),
		NewBinOp(NewBinOp(a, SLT, b), And, NewBinOp(c, SGE, d)),
		NewBinOp(NewBinOp(a, Eq, b), Or, NewBinOp(c, Neq, d)),
	}
	for _, cond := range conds {
		back := NegateCondition(NegateCondition(cond))
		if !MatchingOffsets(cond, back) {
			t.Errorf("negate^2(%s) = %s", cond, back)
		}
	}
}

func TestNegateFlipsComparison(t *testing.T) {
	a, b, _, _ := argLeaves(t)
	n := NegateCondition(NewBinOp(a, SLT, b))
	if n.Op() != SGE {
		t.Errorf("negate(<) = %s, want >=", n.Op())
	}
}

func TestNegateNonConditionPanics(t *testing.T) {
	a, b, _, _ := argLeaves(t)
	defer func() {
		if recover() == nil {
			t.Error("negate of an Add must panic")
		}
	}()
	NegateCondition(NewBinOp(a, Add, b))
}

func TestSumOfProductsDistribution(t *testing.T) {
	a, b, c, _ := argLeaves(t)

	lhs := SumOfProducts(NewBinOp(a, Mul, NewBinOp(b, Add, c)))
	rhs := SumOfProducts(NewBinOp(NewBinOp(a, Mul, b), Add, NewBinOp(a, Mul, c)))
	if !MatchingOffsets(lhs, rhs) {
		t.Errorf("a*(b+c) -> %s, want %s", lhs, rhs)
	}

	lhs = SumOfProducts(NewBinOp(NewBinOp(a, Sub, b), SDiv, c))
	rhs = SumOfProducts(NewBinOp(NewBinOp(a, SDiv, c), Sub, NewBinOp(b, SDiv, c)))
	if !MatchingOffsets(lhs, rhs) {
		t.Errorf("(a-b)/c -> %s, want %s", lhs, rhs)
	}

	// c/(a+b) is not linear and must not distribute.
	in := NewBinOp(c, SDiv, NewBinOp(a, Add, b))
	if got := SumOfProducts(in); !MatchingOffsets(got, in) {
		t.Errorf("c/(a+b) distributed to %s", got)
	}
}

func TestConditionFusion(t *testing.T) {
	a, b, c, d := argLeaves(t)
	got := SimplifyOffsetVal(NewBinOp(NewBinOp(a, SLT, b), Sub, NewBinOp(c, Eq, d)))
	want := NewBinOp(NewBinOp(a, SLT, b), Mul, NewBinOp(c, Neq, d))
	if !MatchingOffsets(got, want) {
		t.Errorf("cond1 - cond2 = %s, want %s", got, want)
	}
}

func TestCancelDiffsSelf(t *testing.T) {
	x, _, _, _ := argLeaves(t)
	got := CancelDiffs(NewBinOp(x, Sub, x), noDep{})
	if !got.IsConst() || !got.ConstVal().IsZero() {
		t.Errorf("cancel(x - x) = %s, want 0", got)
	}
}

func TestCancelDiffsFactorsProducts(t *testing.T) {
	x, _, _, _ := argLeaves(t)
	// 3x - 1x -> 2x
	in := NewBinOp(NewBinOp(ConstInt(3), Mul, x), Sub, NewBinOp(ConstInt(1), Mul, x))
	got := CancelDiffs(in, noDep{})
	want := NewBinOp(ConstInt(2), Mul, x)
	if !MatchingOffsets(got, want) {
		t.Errorf("cancel(3x - x) = %s, want %s", got, want)
	}
}

func TestCancelDiffsNestedSums(t *testing.T) {
	x, y, _, _ := argLeaves(t)
	// (x + (y + 4)) - (y + x) -> 4
	in := NewBinOp(
		NewBinOp(x, Add, NewBinOp(y, Add, ConstInt(4))),
		Sub,
		NewBinOp(y, Add, x))
	got := CancelDiffs(in, noDep{})
	if !got.IsConst() || got.ConstVal().SExtValue() != 4 {
		t.Errorf("cancel = %s, want 4", got)
	}
}

func TestCancelDiffsRespectsDependence(t *testing.T) {
	x, _, _, _ := argLeaves(t)
	dep := pickDep{x.Arg(): true}
	got := CancelDiffs(NewBinOp(x, Sub, x), dep)
	if got.IsConst() {
		t.Errorf("a thread-dependent leaf must not cancel against itself, got %s", got)
	}
}

func TestIdempotence(t *testing.T) {
	a, b, c, _ := argLeaves(t)
	e := NewBinOp(NewBinOp(NewBinOp(a, Add, ConstInt(2)), Mul, ConstInt(3)), Sub, NewBinOp(b, Mul, c))

	s1 := SimplifyOffsetVal(e)
	if s2 := SimplifyOffsetVal(s1); !MatchingOffsets(s1, s2) {
		t.Errorf("simplify not idempotent: %s then %s", s1, s2)
	}
	p1 := SumOfProducts(e)
	if p2 := SumOfProducts(p1); !MatchingOffsets(p1, p2) {
		t.Errorf("sumOfProducts not idempotent: %s then %s", p1, p2)
	}
	c1 := CancelDiffs(e, noDep{})
	if c2 := CancelDiffs(c1, noDep{}); !MatchingOffsets(c1, c2) {
		t.Errorf("cancelDiffs not idempotent: %s then %s", c1, c2)
	}
}

func TestMatchingVersusEqual(t *testing.T) {
	x, y, _, _ := argLeaves(t)
	if !MatchingOffsets(x, x) {
		t.Error("a leaf must match itself")
	}
	if MatchingOffsets(x, y) {
		t.Error("distinct leaves must not match")
	}
	dep := pickDep{x.Arg(): true}
	if !EqualOffsets(x, x, noDep{}) {
		t.Error("uniform leaf must equal itself")
	}
	if EqualOffsets(x, x, dep) {
		t.Error("thread-dependent leaf must not equal itself")
	}
}

func TestReplaceComponents(t *testing.T) {
	x, y, _, _ := argLeaves(t)
	e := NewBinOp(NewBinOp(x, Mul, ConstInt(4)), Add, x)
	got := ReplaceComponents(e, []Replacement{{Pattern: x, With: ConstInt(5)}})
	want := NewBinOp(NewBinOp(ConstInt(5), Mul, ConstInt(4)), Add, ConstInt(5))
	if !MatchingOffsets(got, want) {
		t.Errorf("replace = %s, want %s", got, want)
	}

	// No substitution keeps the original handle.
	if same := ReplaceComponents(e, []Replacement{{Pattern: y, With: ConstInt(5)}}); same != e {
		t.Error("no-op replacement must return the original handle")
	}
}

func TestWidenedFoldKeepsLargerWidth(t *testing.T) {
	small := NewConst(apint.New(8, 250, false))
	got := SimplifyOffsetVal(NewBinOp(small, Add, ConstInt(1)))
	if !got.IsConst() || got.ConstVal().SExtValue() != 251 {
		t.Errorf("250(i8) + 1(i32) = %s, want 251", got)
	}
	if got.ConstVal().Bits() != 32 {
		t.Errorf("fold width = %d, want 32", got.ConstVal().Bits())
	}
}
