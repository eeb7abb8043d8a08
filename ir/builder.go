package ir

// Builder-style constructors used by IR frontends and tests. They keep
// use lists and CFG edges consistent; the analyses never mutate the
// module afterwards.

// NewModule returns an empty module.
func NewModule() *Module { return &Module{} }

// NewFunction appends a defined or declared function to the module.
func (m *Module) NewFunction(name string, ret *Type, paramNames []string, paramTypes []*Type) *Function {
	f := &Function{
		name:       name,
		Module:     m,
		RetType:    ret,
		LocalNames: make(map[Value]string),
	}
	for i, pt := range paramTypes {
		pname := ""
		if i < len(paramNames) {
			pname = paramNames[i]
		}
		f.Params = append(f.Params, &Argument{name: pname, typ: pt, Parent: f, Index: i})
	}
	m.Funcs = append(m.Funcs, f)
	return f
}

// NewIntrinsic declares a body-less intrinsic function.
func (m *Module) NewIntrinsic(name string, id Intrinsic, ret *Type, paramTypes ...*Type) *Function {
	names := make([]string, len(paramTypes))
	f := m.NewFunction(name, ret, names, paramTypes)
	f.Intrinsic = id
	return f
}

// MarkKernel records f in the nvvm.annotations model.
func (m *Module) MarkKernel(f *Function) {
	m.Annotations = append(m.Annotations, Annotation{Fn: f, Kind: "kernel"})
}

// NewBlock appends a basic block to f.
func (f *Function) NewBlock(name string) *BasicBlock {
	b := &BasicBlock{name: name, Parent: f, Index: len(f.Blocks)}
	f.Blocks = append(f.Blocks, b)
	return b
}

func (b *BasicBlock) append(i *Instruction) *Instruction {
	i.Parent = b
	b.Instrs = append(b.Instrs, i)
	for _, op := range i.Operands {
		addUser(op, i)
	}
	return i
}

// NewBinOp appends a two-operand arithmetic or bitwise instruction.
func (b *BasicBlock) NewBinOp(name string, op Op, lhs, rhs Value, typ *Type) *Instruction {
	if !op.IsBinaryOp() {
		panic("ir: NewBinOp with non-binary opcode")
	}
	return b.append(&Instruction{name: name, typ: typ, Op: op, Operands: []Value{lhs, rhs}})
}

// NewICmp appends an integer comparison yielding i1.
func (b *BasicBlock) NewICmp(name string, pred Predicate, lhs, rhs Value) *Instruction {
	return b.append(&Instruction{name: name, typ: I1, Op: ICmp, Pred: pred, Operands: []Value{lhs, rhs}})
}

// NewCondBr appends a conditional branch terminator.
func (b *BasicBlock) NewCondBr(cond Value, taken, untaken *BasicBlock) *Instruction {
	i := b.append(&Instruction{typ: Void, Op: Br, Operands: []Value{cond}, Dests: []*BasicBlock{taken, untaken}})
	link(b, taken)
	link(b, untaken)
	return i
}

// NewBr appends an unconditional branch terminator.
func (b *BasicBlock) NewBr(target *BasicBlock) *Instruction {
	i := b.append(&Instruction{typ: Void, Op: Br, Dests: []*BasicBlock{target}})
	link(b, target)
	return i
}

// NewRet appends a return terminator; v may be nil for void returns.
func (b *BasicBlock) NewRet(v Value) *Instruction {
	ops := []Value{}
	if v != nil {
		ops = append(ops, v)
	}
	return b.append(&Instruction{typ: Void, Op: Ret, Operands: ops})
}

// NewLoad appends a load through ptr.
func (b *BasicBlock) NewLoad(name string, ptr Value) *Instruction {
	return b.append(&Instruction{name: name, typ: ptr.Type().Elem, Op: Load, Operands: []Value{ptr}})
}

// NewStore appends a store of v through ptr.
func (b *BasicBlock) NewStore(v, ptr Value) *Instruction {
	return b.append(&Instruction{typ: Void, Op: Store, Operands: []Value{v, ptr}})
}

// NewGEP appends an address computation from ptr and indices. The
// result type steps through one type layer per index.
func (b *BasicBlock) NewGEP(name string, ptr Value, indices ...Value) *Instruction {
	return b.append(&Instruction{name: name, typ: gepResultType(ptr.Type(), len(indices)), Op: GEP,
		Operands: append([]Value{ptr}, indices...), SrcType: ptr.Type()})
}

func gepResultType(ptr *Type, nIndices int) *Type {
	t := ptr
	space := ptr.Space
	for k := 0; k < nIndices; k++ {
		if t.Elem == nil {
			break
		}
		t = t.Elem
	}
	return PointerTo(t, space)
}

// NewCall appends a direct call. callee may be an intrinsic
// declaration or a defined function.
func (b *BasicBlock) NewCall(name string, callee *Function, args ...Value) *Instruction {
	ret := Void
	if callee != nil && callee.RetType != nil {
		ret = callee.RetType
	}
	return b.append(&Instruction{name: name, typ: ret, Op: Call, Operands: args, Callee: callee})
}

// NewPhi appends a phi joining the given values from the matching
// predecessor blocks.
func (b *BasicBlock) NewPhi(name string, typ *Type, values []Value, blocks []*BasicBlock) *Instruction {
	if len(values) != len(blocks) {
		panic("ir: phi arity mismatch")
	}
	return b.append(&Instruction{name: name, typ: typ, Op: Phi, Operands: values, Blocks: blocks})
}

// NewCast appends a width or representation cast.
func (b *BasicBlock) NewCast(name string, v Value, typ *Type) *Instruction {
	return b.append(&Instruction{name: name, typ: typ, Op: Cast, Operands: []Value{v}})
}

// NewAddrSpaceCast appends an address-space cast.
func (b *BasicBlock) NewAddrSpaceCast(name string, v Value, typ *Type) *Instruction {
	return b.append(&Instruction{name: name, typ: typ, Op: AddrSpaceCast, Operands: []Value{v}})
}

// NewAlloca appends a stack allocation of elem.
func (b *BasicBlock) NewAlloca(name string, elem *Type) *Instruction {
	return b.append(&Instruction{name: name, typ: PointerTo(elem, Local), Op: Alloca})
}

// SetLoc attaches a debug location to the most recent instruction of
// the block.
func (b *BasicBlock) SetLoc(dir, file string, line int) {
	if len(b.Instrs) > 0 {
		b.Instrs[len(b.Instrs)-1].Loc = &Location{Dir: dir, Filename: file, Line: line}
	}
}

func link(from, to *BasicBlock) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// GridIntrinsics bundles the standard special-register declarations so
// frontends and tests declare them once per module.
type GridIntrinsics struct {
	TidX, TidY, TidZ       *Function
	LaneID                 *Function
	CtaidX, CtaidY, CtaidZ *Function
	NtidX, NtidY, NtidZ    *Function
	NctaX, NctaY, NctaZ    *Function
}

// DeclareGridIntrinsics declares the full special-register set.
func (m *Module) DeclareGridIntrinsics() *GridIntrinsics {
	return &GridIntrinsics{
		TidX:   m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.tid.x", TidX, I32),
		TidY:   m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.tid.y", TidY, I32),
		TidZ:   m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.tid.z", TidZ, I32),
		LaneID: m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.laneid", LaneID, I32),
		CtaidX: m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.ctaid.x", CtaidX, I32),
		CtaidY: m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.ctaid.y", CtaidY, I32),
		CtaidZ: m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.ctaid.z", CtaidZ, I32),
		NtidX:  m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.ntid.x", NtidX, I32),
		NtidY:  m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.ntid.y", NtidY, I32),
		NtidZ:  m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.ntid.z", NtidZ, I32),
		NctaX:  m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.nctaid.x", NctaidX, I32),
		NctaY:  m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.nctaid.y", NctaidY, I32),
		NctaZ:  m.NewIntrinsic("llvm.nvvm.read.ptx.sreg.nctaid.z", NctaidZ, I32),
	}
}
