package coalesce

import (
	"github.com/o2lab/gpucheck/ir"
)

// MayBeGlobal digs through loads, stores, address-space casts and
// address computations to decide whether an access may touch global or
// constant memory. Pure stack allocations and shared-space pointers
// are excluded; anything undecidable counts as global.
func MayBeGlobal(v ir.Value) bool {
	if i, ok := v.(*ir.Instruction); ok {
		switch i.Op {
		case ir.Load:
			return MayBeGlobal(i.Operands[0])
		case ir.Store:
			return MayBeGlobal(i.Operands[1])
		case ir.AddrSpaceCast:
			return MayBeGlobal(i.Operands[0])
		case ir.GEP:
			return MayBeGlobal(i.Operands[0])
		case ir.Alloca:
			// Simple stack allocation, unless it holds pointers that
			// may themselves point anywhere.
			if t := i.Type(); t.IsPointer() && !t.Elem.IsPointer() {
				return false
			}
		}
	}

	// Address space encoded on the type.
	if t := v.Type(); t != nil && t.IsPointer() {
		switch t.Space {
		case ir.GlobalSpace, ir.ConstantSpace:
			return true
		case ir.Shared:
			return false
		}
	}

	// If we can't tell, assume it may.
	return true
}
