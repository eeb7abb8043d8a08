// Package propagation lazily constructs the arithmetic context
// function of any IR value: the symbolic expression describing the
// value as an algebra over constants, opaque leaves and GPU intrinsic
// reads. It also specializes those expressions into call, thread and
// grid contexts for the warp-level analyses.
package propagation

import (
	log "github.com/sirupsen/logrus"

	"github.com/o2lab/gpucheck/config"
	"github.com/o2lab/gpucheck/ir"
	"github.com/o2lab/gpucheck/offset"
	"github.com/o2lab/gpucheck/stats"
)

// OffsetPropagation owns the per-module ACF cache. Expressions are
// built on demand and memoized; the cache dies with the module run.
type OffsetPropagation struct {
	m        *ir.Module
	memdep   ir.MemDep
	offsets  map[ir.Value]*offset.Val
	domTrees map[*ir.Function]*ir.DomTree
	postdoms map[*ir.Function]*ir.DomTree
}

// New prepares an empty cache over m. A nil memdep falls back to the
// conservative oracle.
func New(m *ir.Module, memdep ir.MemDep) *OffsetPropagation {
	if memdep == nil {
		memdep = ir.NoMemDep{}
	}
	return &OffsetPropagation{
		m:        m,
		memdep:   memdep,
		offsets:  make(map[ir.Value]*offset.Val),
		domTrees: make(map[*ir.Function]*ir.DomTree),
		postdoms: make(map[*ir.Function]*ir.DomTree),
	}
}

// GetOrCreateVal returns the memoized ACF of v, building it on first
// request.
func (op *OffsetPropagation) GetOrCreateVal(v ir.Value) *offset.Val {
	if cached, ok := op.offsets[v]; ok {
		return cached
	}
	stats.Inc(stats.NTranslations)

	switch x := v.(type) {
	case *ir.Instruction:
		return op.instVal(x)
	case *ir.ConstantInt:
		op.offsets[v] = offset.NewConst(x.V)
		return op.offsets[v]
	case *ir.ConstantExpr:
		if x.Op == ir.GEP {
			return op.gepVal(x, x.Operands[0], x.SrcType, x.Operands[1:])
		}
		op.offsets[v] = offset.NewUnknown(v)
		return op.offsets[v]
	case *ir.Argument:
		stats.Inc(stats.NArg)
		op.offsets[v] = offset.NewArg(x)
		return op.offsets[v]
	default:
		stats.Inc(stats.NUnknown)
		op.offsets[v] = offset.NewUnknown(v)
		return op.offsets[v]
	}
}

func (op *OffsetPropagation) instVal(i *ir.Instruction) *offset.Val {
	switch {
	case i.Op.IsBinaryOp():
		return op.binOpVal(i)
	case i.Op == ir.Call:
		stats.Inc(stats.NCall)
		op.offsets[i] = offset.NewInst(i)
		return op.offsets[i]
	case i.Op == ir.Cast || i.Op == ir.AddrSpaceCast:
		// Just drop through the cast.
		stats.Inc(stats.NCast)
		return op.GetOrCreateVal(i.Operands[0])
	case i.Op == ir.ICmp:
		return op.cmpVal(i)
	case i.Op == ir.Load:
		return op.loadVal(i)
	case i.Op == ir.Phi:
		return op.phiVal(i)
	case i.Op == ir.GEP:
		return op.gepVal(i, i.Operands[0], i.SrcType, i.Operands[1:])
	default:
		stats.Inc(stats.NUnknown)
		op.offsets[i] = offset.NewInst(i)
		return op.offsets[i]
	}
}

var binOpOperator = map[ir.Op]offset.Operator{
	ir.Add:  offset.Add,
	ir.Sub:  offset.Sub,
	ir.Mul:  offset.Mul,
	ir.SDiv: offset.SDiv,
	ir.UDiv: offset.UDiv,
	ir.SRem: offset.SRem,
	ir.URem: offset.URem,
	ir.And:  offset.And,
	ir.Or:   offset.Or,
	ir.Xor:  offset.Xor,
}

var cmpOperator = map[ir.Predicate]offset.Operator{
	ir.EQ:  offset.Eq,
	ir.NE:  offset.Neq,
	ir.SLT: offset.SLT,
	ir.SLE: offset.SLE,
	ir.SGT: offset.SGT,
	ir.SGE: offset.SGE,
	ir.ULT: offset.ULT,
	ir.ULE: offset.ULE,
	ir.UGT: offset.UGT,
	ir.UGE: offset.UGE,
}

func (op *OffsetPropagation) binOpVal(i *ir.Instruction) *offset.Val {
	stats.Inc(stats.NBinOp)
	oop, ok := binOpOperator[i.Op]
	if !ok {
		// We don't handle this kind of operation.
		op.offsets[i] = offset.NewInst(i)
		return op.offsets[i]
	}
	lhs := op.GetOrCreateVal(i.Operands[0])
	rhs := op.GetOrCreateVal(i.Operands[1])
	op.offsets[i] = offset.NewBinOp(lhs, oop, rhs)
	return op.offsets[i]
}

func (op *OffsetPropagation) cmpVal(i *ir.Instruction) *offset.Val {
	stats.Inc(stats.NCmp)
	oop, ok := cmpOperator[i.Pred]
	if !ok {
		op.offsets[i] = offset.NewInst(i)
		return op.offsets[i]
	}
	lhs := op.GetOrCreateVal(i.Operands[0])
	rhs := op.GetOrCreateVal(i.Operands[1])
	op.offsets[i] = offset.NewBinOp(lhs, oop, rhs)
	return op.offsets[i]
}

// gepVal lowers an address computation to base + per-layer index
// arithmetic. Struct layers demand constant indices; a dynamic struct
// index abandons the expression.
func (op *OffsetPropagation) gepVal(v ir.Value, ptr ir.Value, ptrType *ir.Type, indices []ir.Value) *offset.Val {
	stats.Inc(stats.NGEP)

	off := op.GetOrCreateVal(ptr)
	t := ptrType

	for _, rawIdx := range indices {
		var idxOff *offset.Val
		switch t.Kind {
		case ir.StructKind:
			idx := op.GetOrCreateVal(rawIdx)
			if !idx.IsConst() {
				// Struct references can't be dynamic.
				op.offsets[v] = offset.NewUnknown(ptr)
				return op.offsets[v]
			}
			index := int(idx.ConstVal().ZExtValue())
			if index >= len(t.Fields) {
				op.offsets[v] = offset.NewUnknown(ptr)
				return op.offsets[v]
			}
			// Our element starts at the end of the previous ones.
			var elemOff int64
			for k := 0; k < index; k++ {
				elemOff += t.Fields[k].AllocSize()
			}
			idxOff = offset.ConstInt(elemOff)
			t = t.Fields[index]

		case ir.ArrayKind, ir.PointerKind:
			idx := op.GetOrCreateVal(rawIdx)
			size := offset.ConstInt(t.Elem.AllocSize())
			idxOff = offset.NewBinOp(idx, offset.Mul, size)
			t = t.Elem

		default:
			log.Debugf("GEP indexes neither struct nor sequence: %s", v.Name())
			op.offsets[v] = offset.NewUnknown(ptr)
			return op.offsets[v]
		}
		off = offset.NewBinOp(off, offset.Add, idxOff)
	}
	op.offsets[v] = off
	return off
}

// isUpdateStore walks the store's value DAG to a bounded depth looking
// for a load from the same pointer; finding one marks the store as a
// read-modify-write whose value is useless as a load source.
func (op *OffsetPropagation) isUpdateStore(s *ir.Instruction) bool {
	type item struct {
		depth int
		v     ir.Value
	}
	work := []item{{0, s}}
	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		depth := it.depth + 1

		if l, ok := it.v.(*ir.Instruction); ok {
			if l.Op == ir.Load && l.Operands[0] == s.Operands[1] {
				return true
			}
			if depth < config.UpdateProbeDepth {
				for _, o := range l.Operands {
					work = append(work, item{depth, o})
				}
			}
		}
	}
	return false
}

func (op *OffsetPropagation) loadVal(l *ir.Instruction) *offset.Val {
	stats.Inc(stats.NLoad)
	f := l.Function()

	// Store found through dependence analysis.
	if s := op.memdep.DefiningStore(l); s != nil && s.Op == ir.Store {
		op.offsets[l] = op.GetOrCreateVal(s.Operands[0])
		return op.offsets[l]
	}

	// Attempt manual discovery: any store through the same pointer
	// that does not post-dominate the load and is not a pure update.
	ptr := l.Operands[0]
	pdt := op.postdomTree(f)
	for _, u := range ir.UsersOf(ptr) {
		if u.Op == ir.Store && u.Operands[1] == ptr &&
			!pdt.Dominates(u.Parent, l.Parent) &&
			!op.isUpdateStore(u) {
			op.offsets[l] = op.GetOrCreateVal(u.Operands[0])
			return op.offsets[l]
		}
	}

	// Default, unknown def.
	op.offsets[l] = offset.NewInst(l)
	return op.offsets[l]
}

func (op *OffsetPropagation) phiVal(p *ir.Instruction) *offset.Val {
	stats.Inc(stats.NPhi)
	dt := op.domTree(p.Function())

	// Sort incoming values into forward and back edges; values carried
	// around a loop are dropped.
	var fwdValues []ir.Value
	var fwdBlocks []*ir.BasicBlock
	for k, v := range p.Operands {
		pred := p.Blocks[k]
		if ir.Reachable(p.Parent, pred) {
			log.Debugf("Dropping looped phi input %s", v.Name())
			continue
		}
		fwdValues = append(fwdValues, v)
		fwdBlocks = append(fwdBlocks, pred)
	}

	if len(fwdValues) == 0 {
		op.offsets[p] = offset.NewInst(p)
		return op.offsets[p]
	}

	op.offsets[p] = op.applyDominatingCondition(fwdValues, fwdBlocks, dt)
	return op.offsets[p]
}

// applyDominatingCondition merges several reaching definitions into
// one expression selected by the branch condition at their nearest
// common dominator: cond*taken + !cond*untaken, recursively.
func (op *OffsetPropagation) applyDominatingCondition(values []ir.Value, blocks []*ir.BasicBlock, dt *ir.DomTree) *offset.Val {
	if len(values) != len(blocks) || len(values) == 0 {
		panic("propagation: malformed merge inputs")
	}
	if len(values) == 1 {
		return op.GetOrCreateVal(values[0])
	}

	// Locate the common dominator.
	dom := blocks[0]
	for _, b := range blocks[1:] {
		dom = dt.NearestCommonDominator(dom, b)
	}
	if dom == nil {
		panic("propagation: merge without common dominator")
	}
	term := dom.Terminator()
	if term == nil || term.Op != ir.Br || !term.IsConditional() {
		panic("propagation: dominating block lacks conditional branch")
	}

	cond := op.GetOrCreateVal(term.Operands[0])
	ncond := offset.NegateCondition(cond)
	taken := term.Dests[0]

	var vTaken, vUntaken []ir.Value
	var bTaken, bUntaken []*ir.BasicBlock

	// Select for any non-dominating definitions.
	for k := range values {
		if blocks[k] == dom {
			continue
		}
		if ir.Reachable(taken, blocks[k]) {
			vTaken = append(vTaken, values[k])
			bTaken = append(bTaken, blocks[k])
		} else {
			vUntaken = append(vUntaken, values[k])
			bUntaken = append(bUntaken, blocks[k])
		}
	}

	// A definition in the dominator itself lands on whichever side is
	// still empty.
	for k := range values {
		if blocks[k] != dom {
			continue
		}
		if len(vTaken) == 0 {
			vTaken = append(vTaken, values[k])
			bTaken = append(bTaken, blocks[k])
		} else {
			vUntaken = append(vUntaken, values[k])
			bUntaken = append(bUntaken, blocks[k])
		}
	}

	// Both sides must be populated before recursing; when every input
	// sits on one side, one entry crosses over. A deliberate
	// approximation for phis with several inputs from one region.
	if len(vUntaken) == 0 && len(vTaken) > 1 {
		vUntaken = append(vUntaken, vTaken[len(vTaken)-1])
		bUntaken = append(bUntaken, bTaken[len(bTaken)-1])
		vTaken = vTaken[:len(vTaken)-1]
		bTaken = bTaken[:len(bTaken)-1]
	}
	if len(vTaken) == 0 || len(vUntaken) == 0 {
		panic("propagation: one-sided merge")
	}

	offTaken := op.applyDominatingCondition(vTaken, bTaken, dt)
	offUntaken := op.applyDominatingCondition(vUntaken, bUntaken, dt)

	return offset.NewBinOp(
		offset.NewBinOp(cond, offset.Mul, offTaken),
		offset.Add,
		offset.NewBinOp(ncond, offset.Mul, offUntaken))
}

func (op *OffsetPropagation) domTree(f *ir.Function) *ir.DomTree {
	dt, ok := op.domTrees[f]
	if !ok {
		dt = ir.Dominators(f)
		op.domTrees[f] = dt
	}
	return dt
}

func (op *OffsetPropagation) postdomTree(f *ir.Function) *ir.DomTree {
	dt, ok := op.postdoms[f]
	if !ok {
		dt = ir.PostDominators(f)
		op.postdoms[f] = dt
	}
	return dt
}
