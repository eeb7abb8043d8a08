// Package offset implements the symbolic offset algebra: immutable
// expression trees over integer constants, opaque IR leaves and binary
// operators, with bounded-interval range inference and the
// canonicalization rewrites the warp-level analyses depend on.
package offset

import (
	"fmt"

	"github.com/o2lab/gpucheck/apint"
	"github.com/o2lab/gpucheck/ir"
)

// Operator enumerates the closed operator set of the algebra.
// Comparison operators yield 1-bit results.
type Operator int

const (
	Add Operator = iota
	Sub
	Mul
	SDiv
	UDiv
	SRem
	URem
	And
	Or
	Xor
	Eq
	Neq
	SLT
	SLE
	SGT
	SGE
	ULT
	ULE
	UGT
	UGE
	opEnd
)

// IsCompare reports a comparison operator.
func (op Operator) IsCompare() bool { return op >= Eq && op <= UGE }

func (op Operator) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case SDiv, UDiv:
		return "/"
	case SRem, URem:
		return "%"
	case And:
		return "&&"
	case Or:
		return "||"
	case Xor:
		return "^"
	case Eq:
		return "=="
	case Neq:
		return "!="
	case SLT, ULT:
		return "<"
	case SLE, ULE:
		return "<="
	case SGT, UGT:
		return ">"
	case SGE, UGE:
		return ">="
	}
	panic("offset: print of sentinel operator")
}

// Kind discriminates the Val variants.
type Kind int

const (
	ConstKind Kind = iota
	InstKind
	ArgKind
	UnknownKind
	BinOpKind
)

// Val is one node of an arithmetic context function. Nodes are
// immutable and freely shared; substitution and simplification build
// new trees.
type Val struct {
	kind  Kind
	c     apint.Int
	inst  *ir.Instruction
	arg   *ir.Argument
	cause ir.Value
	lhs   *Val
	rhs   *Val
	op    Operator
}

// NewConst wraps a bounded-width integer.
func NewConst(v apint.Int) *Val { return &Val{kind: ConstKind, c: v} }

// ConstInt builds a 32-bit signed constant, the default literal width.
func ConstInt(v int64) *Val { return NewConst(apint.New(32, v, true)) }

// NewInst wraps an instruction whose value is unknown at analysis
// time.
func NewInst(i *ir.Instruction) *Val {
	if i == nil {
		panic("offset: nil instruction leaf")
	}
	return &Val{kind: InstKind, inst: i}
}

// NewArg wraps a function formal parameter.
func NewArg(a *ir.Argument) *Val {
	if a == nil {
		panic("offset: nil argument leaf")
	}
	return &Val{kind: ArgKind, arg: a}
}

// NewUnknown wraps a value the analysis explicitly gave up on.
func NewUnknown(cause ir.Value) *Val {
	if cause == nil {
		panic("offset: nil unknown leaf")
	}
	return &Val{kind: UnknownKind, cause: cause}
}

// NewBinOp builds an internal node. Children must be non-nil and the
// operator must not be the sentinel.
func NewBinOp(lhs *Val, op Operator, rhs *Val) *Val {
	if lhs == nil || rhs == nil {
		panic("offset: nil binop child")
	}
	if op < Add || op >= opEnd {
		panic("offset: binop with sentinel operator")
	}
	return &Val{kind: BinOpKind, lhs: lhs, rhs: rhs, op: op}
}

// Kind reports the variant of the node.
func (v *Val) Kind() Kind { return v.kind }

// Inst returns the instruction of an Inst leaf, nil otherwise.
func (v *Val) Inst() *ir.Instruction { return v.inst }

// Arg returns the argument of an Arg leaf, nil otherwise.
func (v *Val) Arg() *ir.Argument { return v.arg }

// Cause returns the value behind an Unknown leaf, nil otherwise.
func (v *Val) Cause() ir.Value { return v.cause }

// Lhs returns the left child of a BinOp node.
func (v *Val) Lhs() *Val { return v.lhs }

// Rhs returns the right child of a BinOp node.
func (v *Val) Rhs() *Val { return v.rhs }

// Op returns the operator of a BinOp node.
func (v *Val) Op() Operator { return v.op }

// Leaf returns the IR value behind an opaque leaf, nil for Const and
// BinOp nodes.
func (v *Val) Leaf() ir.Value {
	switch v.kind {
	case InstKind:
		return v.inst
	case ArgKind:
		return v.arg
	case UnknownKind:
		return v.cause
	}
	return nil
}

// IsConst reports a Const node.
func (v *Val) IsConst() bool { return v.kind == ConstKind }

// IsCompare reports a BinOp node with a comparison operator.
func (v *Val) IsCompare() bool { return v.kind == BinOpKind && v.op.IsCompare() }

// ConstVal returns the constant payload. Calling it on a non-Const
// node is an analyzer bug.
func (v *Val) ConstVal() apint.Int {
	if v.kind != ConstKind {
		panic("offset: ConstVal on non-constant node")
	}
	return v.c
}

// ConstRange returns a conservative signed interval for the node, both
// bounds at a common bit width.
func (v *Val) ConstRange() (lo, hi apint.Int) {
	switch v.kind {
	case ConstKind:
		return v.c, v.c
	case InstKind:
		return typeRange(v.inst.Type())
	case ArgKind:
		return typeRange(v.arg.Type())
	case UnknownKind:
		return apint.SignedMin(64), apint.SignedMax(64)
	case BinOpKind:
		return v.binopRange()
	}
	panic("offset: range of invalid node")
}

func typeRange(t *ir.Type) (apint.Int, apint.Int) {
	if t != nil && t.IsInteger() {
		return apint.SignedMin(t.Bits), apint.SignedMax(t.Bits)
	}
	return apint.SignedMin(64), apint.SignedMax(64)
}

func (v *Val) binopRange() (apint.Int, apint.Int) {
	llo, lhi := v.lhs.ConstRange()
	rlo, rhi := v.rhs.ConstRange()

	// Collect the bounds at a common bitwidth.
	bits := llo.Bits()
	for _, b := range []apint.Int{lhi, rlo, rhi} {
		if b.Bits() > bits {
			bits = b.Bits()
		}
	}
	llo, lhi = llo.SextOrSelf(bits), lhi.SextOrSelf(bits)
	rlo, rhi = rlo.SextOrSelf(bits), rhi.SextOrSelf(bits)

	fullRange := func(lo, hi apint.Int) bool {
		return lo.IsMinSigned() && hi.IsMaxSigned()
	}

	switch v.op {
	case Add:
		return llo.Add(rlo), lhi.Add(rhi)
	case Sub:
		if fullRange(llo, lhi) && fullRange(rlo, rhi) {
			return llo, lhi
		}
		return llo.Sub(rhi), lhi.Sub(rlo)
	case Mul:
		a, b := llo.Mul(rlo), llo.Mul(rhi)
		c, d := lhi.Mul(rlo), lhi.Mul(rhi)
		return apint.SMin(apint.SMin(a, b), apint.SMin(c, d)),
			apint.SMax(apint.SMax(a, b), apint.SMax(c, d))
	case SDiv, UDiv:
		if rlo.IsNonNegative() && llo.IsNonNegative() && !rhi.IsZero() && !rlo.IsZero() {
			return llo.SDiv(rhi), lhi.SDiv(rlo)
		}
		return apint.SignedMin(bits), apint.SignedMax(bits)
	case SRem, URem:
		if rlo.IsNonNegative() && llo.IsNonNegative() {
			return apint.New(bits, 0, false), rhi
		}
		return apint.SignedMin(bits), apint.SignedMax(bits)
	case And:
		zero := apint.New(bits, 0, false)
		return apint.SMin(zero, llo), apint.SMin(lhi, rhi)
	case Or, Xor:
		zero := apint.New(bits, 0, false)
		return apint.SMin(zero, llo), apint.SMax(lhi, rhi)
	case Eq, Neq, SLT, SLE, SGT, SGE, ULT, ULE, UGT, UGE:
		return apint.New(1, -1, true), apint.New(1, 0, false)
	}
	panic("offset: range of sentinel operator")
}

// String renders the parenthesized infix form.
func (v *Val) String() string {
	switch v.kind {
	case ConstKind:
		return v.c.String()
	case InstKind:
		return v.inst.String()
	case ArgKind:
		if v.arg.Name() != "" {
			return "%" + v.arg.Name()
		}
		return fmt.Sprintf("%%arg%d", v.arg.Index)
	case UnknownKind:
		return fmt.Sprintf("(unknown on %s)", v.cause.Name())
	case BinOpKind:
		return fmt.Sprintf("(%s %s %s)", v.lhs, v.op, v.rhs)
	}
	return "<invalid>"
}
