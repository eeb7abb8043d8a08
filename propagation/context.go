package propagation

import (
	"github.com/o2lab/gpucheck/ir"
	"github.com/o2lab/gpucheck/offset"
	"github.com/o2lab/gpucheck/stats"
)

// InCallContext specializes an expression to one call site by
// substituting the callee's formals with the ACFs of the actuals.
// Indirect calls cannot be mapped and return the input unchanged.
func (op *OffsetPropagation) InCallContext(orig *offset.Val, ci *ir.Instruction) *offset.Val {
	f := ci.Callee
	if f == nil {
		return orig
	}
	var rep []offset.Replacement
	for k, p := range f.Params {
		if k >= len(ci.Operands) {
			break
		}
		rep = append(rep, offset.Replacement{
			Pattern: offset.NewArg(p),
			With:    op.GetOrCreateVal(ci.Operands[k]),
		})
	}
	return offset.ReplaceComponents(orig, rep)
}

// intrinsicOf returns the special register an Inst leaf reads, or
// NotIntrinsic.
func intrinsicOf(v *offset.Val) ir.Intrinsic {
	if v.Kind() != offset.InstKind {
		return ir.NotIntrinsic
	}
	i := v.Inst()
	if i.Op != ir.Call || i.Callee == nil {
		return ir.NotIntrinsic
	}
	return i.Callee.Intrinsic
}

func substituteIntrinsics(orig *offset.Val, sub map[ir.Intrinsic]int64) *offset.Val {
	if c, ok := sub[intrinsicOf(orig)]; ok {
		return offset.ConstInt(c)
	}
	if orig.Kind() != offset.BinOpKind {
		return orig
	}
	lhs := substituteIntrinsics(orig.Lhs(), sub)
	rhs := substituteIntrinsics(orig.Rhs(), sub)
	if lhs == orig.Lhs() && rhs == orig.Rhs() {
		return orig
	}
	return offset.NewBinOp(lhs, orig.Op(), rhs)
}

// InThreadContext pins the thread and block identity registers to
// concrete coordinates. The lane id follows the x thread id modulo the
// warp width.
func (op *OffsetPropagation) InThreadContext(orig *offset.Val, tidx, tidy, tidz, bidx, bidy, bidz int64) *offset.Val {
	return substituteIntrinsics(orig, map[ir.Intrinsic]int64{
		ir.TidX:   tidx,
		ir.TidY:   tidy,
		ir.TidZ:   tidz,
		ir.LaneID: tidx % 32,
		ir.CtaidX: bidx,
		ir.CtaidY: bidy,
		ir.CtaidZ: bidz,
	})
}

// InGridContext pins the launch-shape registers: thread dimensions and
// block dimensions.
func (op *OffsetPropagation) InGridContext(orig *offset.Val, ntidx, ntidy, ntidz, nctax, nctay, nctaz int64) *offset.Val {
	return substituteIntrinsics(orig, map[ir.Intrinsic]int64{
		ir.NtidX:   ntidx,
		ir.NtidY:   ntidy,
		ir.NtidZ:   ntidz,
		ir.NctaidX: nctax,
		ir.NctaidY: nctay,
		ir.NctaidZ: nctaz,
	})
}

// findRequiredContexts collects the distinct functions whose formals
// appear as Arg leaves, in first-appearance order.
func findRequiredContexts(v *offset.Val, found []*ir.Function) []*ir.Function {
	if v.Kind() == offset.BinOpKind {
		found = findRequiredContexts(v.Lhs(), found)
		found = findRequiredContexts(v.Rhs(), found)
	}
	if v.Kind() == offset.ArgKind {
		f := v.Arg().Parent
		for _, seen := range found {
			if seen == f {
				return found
			}
		}
		found = append(found, f)
	}
	return found
}

// sameModuleCallers returns the direct call sites of f within its own
// module.
func (op *OffsetPropagation) sameModuleCallers(f *ir.Function) []*ir.Instruction {
	var ret []*ir.Instruction
	for _, g := range op.m.Funcs {
		for _, b := range g.Blocks {
			for _, i := range b.Instrs {
				if i.Op == ir.Call && i.Callee == f {
					ret = append(ret, i)
				}
			}
		}
	}
	return ret
}

// InContexts builds the interprocedurally specialized versions of
// orig: for the first referenced function with same-module callers,
// one specialization per call site, recursively, each function
// specialized at most once per path.
func (op *OffsetPropagation) InContexts(orig *offset.Val) []*offset.Val {
	iacf := op.inContexts(orig, nil)
	stats.RecordContexts(len(iacf))
	return iacf
}

func (op *OffsetPropagation) inContexts(orig *offset.Val, ignore []*ir.Function) []*offset.Val {
	if orig == nil {
		panic("propagation: contexts of nil offset")
	}
	for _, f := range findRequiredContexts(orig, nil) {
		ignored := false
		for _, g := range ignore {
			if g == f {
				ignored = true
				break
			}
		}
		if ignored {
			continue
		}
		callers := op.sameModuleCallers(f)
		if len(callers) == 0 {
			continue
		}

		var ret []*offset.Val
		for _, ci := range callers {
			specialized := op.InCallContext(orig, ci)
			recIgnore := append(append([]*ir.Function{}, ignore...), f)
			ret = append(ret, op.inContexts(specialized, recIgnore)...)
		}
		return ret
	}

	// Fall-through, no additional context can be added.
	return []*offset.Val{orig}
}
