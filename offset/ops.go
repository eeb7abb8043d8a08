package offset

import (
	"github.com/o2lab/gpucheck/apint"
	"github.com/o2lab/gpucheck/ir"
)

// Dependence is the slice of the thread-dependence analysis the
// algebra needs: whether an IR value varies across threads in a warp.
type Dependence interface {
	IsDependent(v ir.Value) bool
}

// NegateCondition returns the logical negation of a condition tree.
// And/Or recurse by De Morgan; comparisons flip their operator. Any
// other shape is an analyzer bug.
func NegateCondition(cond *Val) *Val {
	if cond.Kind() != BinOpKind {
		panic("offset: negate of non-binop condition")
	}
	switch cond.op {
	case And:
		return NewBinOp(NegateCondition(cond.lhs), Or, NegateCondition(cond.rhs))
	case Or:
		return NewBinOp(NegateCondition(cond.lhs), And, NegateCondition(cond.rhs))
	}
	var flipped Operator
	switch cond.op {
	case Eq:
		flipped = Neq
	case Neq:
		flipped = Eq
	case SLT:
		flipped = SGE
	case SGE:
		flipped = SLT
	case SLE:
		flipped = SGT
	case SGT:
		flipped = SLE
	case ULT:
		flipped = UGE
	case UGE:
		flipped = ULT
	case ULE:
		flipped = UGT
	case UGT:
		flipped = ULE
	default:
		panic("offset: operator not negatable")
	}
	return NewBinOp(cond.lhs, flipped, cond.rhs)
}

// SumOfProducts runs sumOfProductsPass to a fixed point under
// MatchingOffsets.
func SumOfProducts(v *Val) *Val {
	tmp := v
	res := sumOfProductsPass(v)
	for !MatchingOffsets(tmp, res) {
		tmp = res
		res = sumOfProductsPass(tmp)
	}
	return res
}

// sumOfProductsPass distributes one layer of Mul and division over
// Add/Sub, post-order. Division distributes only from the left, since
// (a±b)/c stays linear but c/(a±b) does not.
func sumOfProductsPass(v *Val) *Val {
	if v.Kind() != BinOpKind {
		return v
	}
	lhs := sumOfProductsPass(v.lhs)
	rhs := sumOfProductsPass(v.rhs)

	switch v.op {
	case Mul:
		if lhs.Kind() == BinOpKind && (lhs.op == Add || lhs.op == Sub) {
			return NewBinOp(
				NewBinOp(lhs.lhs, v.op, rhs),
				lhs.op,
				NewBinOp(lhs.rhs, v.op, rhs))
		}
		if rhs.Kind() == BinOpKind && (rhs.op == Add || rhs.op == Sub) {
			return NewBinOp(
				NewBinOp(lhs, v.op, rhs.lhs),
				rhs.op,
				NewBinOp(lhs, v.op, rhs.rhs))
		}
	case SDiv, UDiv:
		if lhs.Kind() == BinOpKind && (lhs.op == Add || lhs.op == Sub) {
			return NewBinOp(
				NewBinOp(lhs.lhs, v.op, rhs),
				lhs.op,
				NewBinOp(lhs.rhs, v.op, rhs))
		}
	}
	return NewBinOp(lhs, v.op, rhs)
}

// simplifyConditions rewrites (cond1 - cond2) to (cond1 * !cond2),
// keeping condition arithmetic inside the algebra. Returns nil when
// the shape does not apply.
func simplifyConditions(lhs *Val, op Operator, rhs *Val) *Val {
	if op == Sub && lhs.IsCompare() && rhs.IsCompare() {
		return NewBinOp(lhs, Mul, NegateCondition(rhs))
	}
	return nil
}

// widen brings two constants to their common width, zero-extending the
// narrower, matching constant-fold semantics.
func widen(a, b apint.Int) (apint.Int, apint.Int) {
	if a.Bits() > b.Bits() {
		return a, b.Zext(a.Bits())
	}
	if b.Bits() > a.Bits() {
		return a.Zext(b.Bits()), b
	}
	return a, b
}

// foldConstants folds a binary operator over two Const nodes. Bitwise
// And/Or/Xor are deliberately not folded (their interaction with the
// divergence sampling relies on staying symbolic), and division by a
// constant zero stays symbolic as well; both return nil.
func foldConstants(lhs *Val, op Operator, rhs *Val) *Val {
	a, b := widen(lhs.ConstVal(), rhs.ConstVal())
	switch op {
	case Add:
		return NewConst(a.Add(b))
	case Sub:
		return NewConst(a.Sub(b))
	case Mul:
		return NewConst(a.Mul(b))
	case SDiv:
		if b.IsZero() {
			return nil
		}
		return NewConst(a.SDiv(b))
	case UDiv:
		if b.IsZero() {
			return nil
		}
		return NewConst(a.UDiv(b))
	case SRem:
		if b.IsZero() {
			return nil
		}
		return NewConst(a.SRem(b))
	case URem:
		if b.IsZero() {
			return nil
		}
		return NewConst(a.URem(b))
	case And, Or, Xor:
		return nil
	case Eq:
		return NewConst(apint.Bool(a.Eq(b)))
	case Neq:
		return NewConst(apint.Bool(a.Ne(b)))
	case SLT:
		return NewConst(apint.Bool(a.Slt(b)))
	case SLE:
		return NewConst(apint.Bool(a.Sle(b)))
	case SGT:
		return NewConst(apint.Bool(a.Sgt(b)))
	case SGE:
		return NewConst(apint.Bool(a.Sge(b)))
	case ULT:
		return NewConst(apint.Bool(a.Ult(b)))
	case ULE:
		return NewConst(apint.Bool(a.Ule(b)))
	case UGT:
		return NewConst(apint.Bool(a.Ugt(b)))
	case UGE:
		return NewConst(apint.Bool(a.Uge(b)))
	}
	panic("offset: fold of sentinel operator")
}

// SimplifyOffsetVal rewrites v bottom-up: constant folding, identity
// rules, constant regrouping under Add/Sub and condition fusion.
func SimplifyOffsetVal(v *Val) *Val {
	if v.Kind() != BinOpKind {
		return v
	}
	lhs := SimplifyOffsetVal(v.lhs)
	rhs := SimplifyOffsetVal(v.rhs)

	if lhs.IsConst() && rhs.IsConst() {
		if folded := foldConstants(lhs, v.op, rhs); folded != nil {
			return folded
		}
	}

	switch v.op {
	case Add:
		if rhs.IsConst() && rhs.ConstVal().IsZero() {
			return lhs
		}
		if lhs.IsConst() && lhs.ConstVal().IsZero() {
			return rhs
		}
	case Sub:
		if rhs.IsConst() && rhs.ConstVal().IsZero() {
			return lhs
		}
		if fused := simplifyConditions(lhs, v.op, rhs); fused != nil {
			return SimplifyOffsetVal(fused)
		}
	case Mul:
		// Zeroes destroy the entire tree.
		if rhs.IsConst() && rhs.ConstVal().IsZero() {
			return rhs
		}
		if lhs.IsConst() && lhs.ConstVal().IsZero() {
			return lhs
		}
		// Ones have no effect.
		if rhs.IsConst() && rhs.ConstVal().IsOne() {
			return lhs
		}
		if lhs.IsConst() && lhs.ConstVal().IsOne() {
			return rhs
		}
	case SDiv, UDiv:
		if rhs.IsConst() && rhs.ConstVal().IsOne() {
			return lhs
		}
		if lhs.IsConst() && lhs.ConstVal().IsZero() {
			return lhs
		}
	case SRem, URem:
		if lhs.IsConst() && lhs.ConstVal().IsZero() {
			return lhs
		}
		if lhs.IsConst() && lhs.ConstVal().IsOne() {
			return lhs
		}
		if rhs.IsConst() && rhs.ConstVal().IsOne() {
			return ConstInt(0)
		}
	}

	if simp := simplifyConstantSubExpressions(lhs, v.op, rhs); simp != nil {
		return simp
	}
	return NewBinOp(lhs, v.op, rhs)
}

// simplifyConstantSubExpressions pulls two constants separated by one
// Add/Sub level together: given (α op β) ± γ or γ ± (α op β) with a
// constant on each level, it combines the constants with the signs the
// operators imply and re-simplifies. Returns nil when the shape does
// not apply.
func simplifyConstantSubExpressions(lhs *Val, op Operator, rhs *Val) *Val {
	boAdd := op == Add
	boSub := op == Sub
	if !boAdd && !boSub {
		return nil
	}

	cAdd := func(a, b apint.Int) apint.Int { x, y := widen(a, b); return x.Add(y) }
	cSub := func(a, b apint.Int) apint.Int { x, y := widen(a, b); return x.Sub(y) }

	if lhs.Kind() == BinOpKind && rhs.IsConst() {
		llhs, lrhs := lhs.lhs, lhs.rhs
		if lrhs.IsConst() {
			switch lhs.op {
			case Add:
				// (x + c1) ± c2 -> x + (c1 ± c2)
				var nc apint.Int
				if boAdd {
					nc = cAdd(lrhs.ConstVal(), rhs.ConstVal())
				} else {
					nc = cSub(lrhs.ConstVal(), rhs.ConstVal())
				}
				return SimplifyOffsetVal(NewBinOp(llhs, lhs.op, NewConst(nc)))
			case Sub:
				// (x - c1) ± c2 -> x - (c1 ∓ c2)
				var nc apint.Int
				if boAdd {
					nc = cSub(lrhs.ConstVal(), rhs.ConstVal())
				} else {
					nc = cAdd(lrhs.ConstVal(), rhs.ConstVal())
				}
				return SimplifyOffsetVal(NewBinOp(llhs, lhs.op, NewConst(nc)))
			}
		} else if llhs.IsConst() {
			switch lhs.op {
			case Add, Sub:
				// (c1 op x) ± c2 -> (c1 ± c2) op x
				var nc apint.Int
				if boAdd {
					nc = cAdd(llhs.ConstVal(), rhs.ConstVal())
				} else {
					nc = cSub(llhs.ConstVal(), rhs.ConstVal())
				}
				return SimplifyOffsetVal(NewBinOp(NewConst(nc), lhs.op, lrhs))
			}
		}
	}

	if rhs.Kind() == BinOpKind && lhs.IsConst() {
		rlhs, rrhs := rhs.lhs, rhs.rhs
		if rlhs.IsConst() {
			switch rhs.op {
			case Add, Sub:
				// c1 ± (c2 op x) -> (c1 ± c2) op' x, where op' keeps the
				// sign x carried on the right-hand side.
				var nc apint.Int
				if boAdd {
					nc = cAdd(lhs.ConstVal(), rlhs.ConstVal())
				} else {
					nc = cSub(lhs.ConstVal(), rlhs.ConstVal())
				}
				newOp := rhs.op
				if boSub {
					// Subtracting the group flips x's sign.
					if rhs.op == Add {
						newOp = Sub
					} else {
						newOp = Add
					}
				}
				return SimplifyOffsetVal(NewBinOp(NewConst(nc), newOp, rrhs))
			}
		}
		if rrhs.IsConst() {
			switch rhs.op {
			case Add:
				// c1 ± (x + c2) -> (c1 ± c2) ± x
				var nc apint.Int
				newOp := Add
				if boAdd {
					nc = cAdd(lhs.ConstVal(), rrhs.ConstVal())
				} else {
					nc = cSub(lhs.ConstVal(), rrhs.ConstVal())
					newOp = Sub
				}
				return SimplifyOffsetVal(NewBinOp(NewConst(nc), newOp, rlhs))
			case Sub:
				// c1 + (x - c2) -> (c1 - c2) + x
				// c1 - (x - c2) -> (c1 + c2) - x
				var nc apint.Int
				newOp := Add
				if boAdd {
					nc = cSub(lhs.ConstVal(), rrhs.ConstVal())
				} else {
					nc = cAdd(lhs.ConstVal(), rrhs.ConstVal())
					newOp = Sub
				}
				return SimplifyOffsetVal(NewBinOp(NewConst(nc), newOp, rlhs))
			}
		}
	}
	return nil
}

// MatchingOffsets is structural tree equality up to constant widening.
func MatchingOffsets(lhs, rhs *Val) bool {
	if lhs == nil || rhs == nil {
		panic("offset: match of nil offset")
	}
	if lhs.IsConst() && rhs.IsConst() {
		a, b := lhs.ConstVal(), rhs.ConstVal()
		bits := a.Bits()
		if b.Bits() > bits {
			bits = b.Bits()
		}
		return a.SextOrSelf(bits).Eq(b.SextOrSelf(bits))
	}
	if lhs.Kind() != rhs.Kind() {
		return false
	}
	switch lhs.Kind() {
	case InstKind:
		return lhs.inst == rhs.inst
	case ArgKind:
		return lhs.arg == rhs.arg
	case UnknownKind:
		return lhs.cause == rhs.cause
	case BinOpKind:
		return lhs.op == rhs.op &&
			MatchingOffsets(lhs.lhs, rhs.lhs) &&
			MatchingOffsets(lhs.rhs, rhs.rhs)
	}
	return false
}

// EqualOffsets strengthens MatchingOffsets: an opaque leaf only equals
// itself when its value is thread-invariant, since a thread-dependent
// leaf denotes a different number in every lane.
func EqualOffsets(lhs, rhs *Val, td Dependence) bool {
	if lhs == nil || rhs == nil {
		panic("offset: equality of nil offset")
	}
	if lhs.IsConst() && rhs.IsConst() {
		a, b := lhs.ConstVal(), rhs.ConstVal()
		bits := a.Bits()
		if b.Bits() > bits {
			bits = b.Bits()
		}
		return a.SextOrSelf(bits).Eq(b.SextOrSelf(bits))
	}
	if lhs.Kind() != rhs.Kind() {
		return false
	}
	switch lhs.Kind() {
	case InstKind:
		return lhs.inst == rhs.inst && !td.IsDependent(lhs.inst)
	case ArgKind:
		return lhs.arg == rhs.arg && !td.IsDependent(lhs.arg)
	case UnknownKind:
		return lhs.cause == rhs.cause && !td.IsDependent(lhs.cause)
	case BinOpKind:
		return lhs.op == rhs.op &&
			EqualOffsets(lhs.lhs, rhs.lhs, td) &&
			EqualOffsets(lhs.rhs, rhs.rhs, td)
	}
	return false
}

// addToVector flattens nested Add/Sub into the added and subtracted
// multisets.
func addToVector(v *Val, added, subtracted *[]*Val, isSub bool) {
	if v.Kind() == BinOpKind {
		switch v.op {
		case Add:
			addToVector(v.lhs, added, subtracted, isSub)
			addToVector(v.rhs, added, subtracted, isSub)
			return
		case Sub:
			addToVector(v.lhs, added, subtracted, isSub)
			addToVector(v.rhs, added, subtracted, !isSub)
			return
		}
	}
	if isSub {
		*subtracted = append(*subtracted, v)
	} else {
		*added = append(*added, v)
	}
}

// CancelDiffs flattens v under n-ary addition and subtraction, cancels
// equal terms across the two multisets (including ax - bx -> (a-b)x
// factoring), and rebuilds a simplified tree. It is the workhorse
// behind the inter-lane difference tests.
func CancelDiffs(v *Val, td Dependence) *Val {
	if v == nil {
		panic("offset: cancel of nil offset")
	}
	var added, subtracted []*Val
	addToVector(v, &added, &subtracted, false)

	changed := true
	for changed {
		changed = false
	scan:
		for ia := range added {
			for is := range subtracted {
				if EqualOffsets(added[ia], subtracted[is], td) {
					added = append(added[:ia], added[ia+1:]...)
					subtracted = append(subtracted[:is], subtracted[is+1:]...)
					changed = true
					break scan
				}
				if simp := simplifyDifferenceOfProducts(added[ia], subtracted[is], td); simp != nil {
					added = append(added[:ia], added[ia+1:]...)
					subtracted = append(subtracted[:is], subtracted[is+1:]...)
					addToVector(simp, &added, &subtracted, false)
					changed = true
					break scan
				}
			}
		}
	}

	// Rebuild a left-associated binary tree.
	var ret *Val
	if len(added) == 0 {
		ret = ConstInt(0)
	} else {
		ret = added[len(added)-1]
		added = added[:len(added)-1]
	}
	for len(added) > 0 {
		ret = NewBinOp(ret, Add, added[len(added)-1])
		added = added[:len(added)-1]
	}
	for len(subtracted) > 0 {
		ret = NewBinOp(ret, Sub, subtracted[len(subtracted)-1])
		subtracted = subtracted[:len(subtracted)-1]
	}
	return SimplifyOffsetVal(ret)
}

// simplifyDifferenceOfProducts rewrites ax - bx to (a-b)x when one
// factor of two products is equal under td. The rewrite is kept only
// when it strictly reduces the sum-of-products normal form; otherwise
// nil is returned, which guarantees termination of CancelDiffs.
func simplifyDifferenceOfProducts(addt, subt *Val, td Dependence) *Val {
	if addt.Kind() != BinOpKind || subt.Kind() != BinOpKind ||
		addt.op != Mul || subt.op != Mul {
		return nil
	}
	check := func(candidate *Val) *Val {
		origDiff := NewBinOp(addt, Sub, subt)
		newSop := SumOfProducts(candidate)
		oldSop := SumOfProducts(origDiff)
		if MatchingOffsets(SimplifyOffsetVal(newSop), SimplifyOffsetVal(oldSop)) {
			return nil
		}
		return newSop
	}
	if EqualOffsets(addt.rhs, subt.rhs, td) {
		// ax - bx -> (a-b)x
		lhsDiff := CancelDiffs(NewBinOp(addt.lhs, Sub, subt.lhs), td)
		return check(NewBinOp(lhsDiff, Mul, subt.rhs))
	}
	if EqualOffsets(addt.lhs, subt.lhs, td) {
		// xa - xb -> x(a-b)
		rhsDiff := CancelDiffs(NewBinOp(addt.rhs, Sub, subt.rhs), td)
		return check(NewBinOp(subt.lhs, Mul, rhsDiff))
	}
	return nil
}

// Replacement is one substitution rule for ReplaceComponents.
type Replacement struct {
	Pattern *Val
	With    *Val
}

// ReplaceComponents substitutes every subtree of orig that structurally
// matches a rule's pattern. Unchanged subtrees keep their original
// handles.
func ReplaceComponents(orig *Val, rep []Replacement) *Val {
	for _, r := range rep {
		if MatchingOffsets(orig, r.Pattern) {
			return r.With
		}
	}
	if orig.Kind() != BinOpKind {
		return orig
	}
	lhs := ReplaceComponents(orig.lhs, rep)
	rhs := ReplaceComponents(orig.rhs, rep)
	if lhs == orig.lhs && rhs == orig.rhs {
		return orig
	}
	return NewBinOp(lhs, orig.op, rhs)
}
