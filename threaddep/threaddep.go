// Package threaddep computes which IR values vary across the threads
// of a warp. It is a worklist fixed point over a two-level lattice,
// seeded at thread-identifier intrinsics, with a control-flow rule for
// phi joins and per-callsite interprocedural propagation.
package threaddep

import (
	log "github.com/sirupsen/logrus"

	"github.com/o2lab/gpucheck/ir"
)

// ThreadDependence is the module-wide taint result. Query with
// IsDependent after Run.
type ThreadDependence struct {
	taint      map[ir.Value]bool
	callTaint  map[*ir.Instruction]map[ir.Value]bool
	inProgress map[*ir.Instruction]bool
	domTrees   map[*ir.Function]*ir.DomTree
}

// Run analyzes every kernel of the module and merges the per-callsite
// taint maps into the module-wide result.
func Run(m *ir.Module) *ThreadDependence {
	td := &ThreadDependence{
		taint:      make(map[ir.Value]bool),
		callTaint:  make(map[*ir.Instruction]map[ir.Value]bool),
		inProgress: make(map[*ir.Instruction]bool),
		domTrees:   make(map[*ir.Function]*ir.DomTree),
	}
	for _, f := range m.Funcs {
		if m.IsKernel(f) {
			td.runOnFunction(f)
		}
	}

	// Merge all callsite taint.
	for _, ctaint := range td.callTaint {
		for v, tainted := range ctaint {
			if tainted {
				td.taint[v] = true
			}
		}
	}
	return td
}

// IsDependent reports whether v varies across the threads of a warp.
func (td *ThreadDependence) IsDependent(v ir.Value) bool {
	return td.taint[v]
}

func (td *ThreadDependence) runOnFunction(f *ir.Function) {
	// Kernel parameters aren't tainted.
	for _, p := range f.Params {
		if _, ok := td.taint[p]; !ok {
			td.taint[p] = false
		}
	}
	td.functionTainted(f, td.taint)

	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if td.taint[i] {
				log.Debugf("Thread-Dependent - %s", i)
			} else {
				log.Debugf("Thread-Constant  - %s", i)
			}
		}
	}
}

func (td *ThreadDependence) domTree(f *ir.Function) *ir.DomTree {
	dt, ok := td.domTrees[f]
	if !ok {
		dt = ir.Dominators(f)
		td.domTrees[f] = dt
	}
	return dt
}

// functionTainted runs the fixed point for one function over the given
// taint map (the module map for kernels, a callsite overlay for
// callees) and reports whether any return path is tainted.
func (td *ThreadDependence) functionTainted(f *ir.Function, taint map[ir.Value]bool) bool {
	dt := td.domTree(f)

	// Everyone gets one look.
	var worklist []ir.Value
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			worklist = append(worklist, i)
		}
	}

	for len(worklist) > 0 {
		v := worklist[0]
		worklist = worklist[1:]
		td.update(v, td.isDependent(v, taint, dt), taint, &worklist)
	}

	// Collect all the return sites.
	var rets []*ir.Instruction
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if i.Op == ir.Ret {
				rets = append(rets, i)
			}
		}
	}

	// A directly tainted return value taints the call.
	for _, ret := range rets {
		if taint[ret] {
			return true
		}
	}

	// So does returning along a tainted control-flow path.
	for _, l := range rets {
		for _, r := range rets {
			if cond := ir.DominatingCondition(l.Parent, r.Parent, dt); cond != nil && taint[cond] {
				return true
			}
		}
	}
	return false
}

// update applies a recomputed taint bit. Taint is only ever set, never
// cleared; a flip re-enqueues the users, and for a store also the
// stored-through pointer.
func (td *ThreadDependence) update(v ir.Value, newVal bool, taint map[ir.Value]bool, worklist *[]ir.Value) {
	oldVal := taint[v]
	taint[v] = oldVal || newVal

	if newVal && !oldVal {
		log.Debugf("Update %t=>%t for %s", oldVal, newVal, v)
		for _, user := range ir.UsersOf(v) {
			*worklist = append(*worklist, user)
		}
		if i, ok := v.(*ir.Instruction); ok && i.Op == ir.Store {
			*worklist = append(*worklist, i.Operands[1])
		}
	}
}

func (td *ThreadDependence) isDependent(v ir.Value, taint map[ir.Value]bool, dt *ir.DomTree) bool {
	// A value using any tainted value is tainted. A call into a defined
	// function still solves the callee below, so that its callsite
	// overlay sees the tainted actuals.
	usesTainted := false
	if i, ok := v.(*ir.Instruction); ok {
		for _, op := range i.Operands {
			if taint[op] {
				usesTainted = true
				break
			}
		}
		if usesTainted && (i.Op != ir.Call || i.Callee == nil || i.Callee.IsDeclaration()) {
			return true
		}
	}

	// The destination address of a tainted store is tainted.
	for _, u := range ir.UsersOf(v) {
		if u.Op == ir.Store && u.Operands[1] == v && taint[u] {
			return true
		}
	}

	i, ok := v.(*ir.Instruction)
	if !ok {
		return false
	}

	// A phi whose incoming paths join under a tainted condition is
	// tainted even when every incoming value is uniform.
	if i.Op == ir.Phi {
		for _, l := range i.Blocks {
			for _, r := range i.Blocks {
				if cond := ir.DominatingCondition(l, r, dt); cond != nil && taint[cond] {
					return true
				}
			}
		}
	}

	if i.Op == ir.Call && i.Callee != nil {
		switch i.Callee.Intrinsic {
		case ir.TidX, ir.TidY, ir.TidZ, ir.LaneID:
			return true
		}
		if !i.Callee.IsDeclaration() {
			// Solve the callee under a callsite-specific overlay
			// binding formals to the taint of the actuals.
			ctaint, ok := td.callTaint[i]
			if !ok {
				ctaint = make(map[ir.Value]bool)
				td.callTaint[i] = ctaint
			}
			if td.inProgress[i] {
				return usesTainted
			}
			for idx, p := range i.Callee.Params {
				if idx < len(i.Operands) {
					ctaint[p] = ctaint[p] || taint[i.Operands[idx]]
				}
			}
			td.inProgress[i] = true
			tainted := td.functionTainted(i.Callee, ctaint)
			delete(td.inProgress, i)
			return tainted || usesTainted
		}
		// Indirect call, abandon all hope here.
	}

	return false
}
