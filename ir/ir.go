// Package ir holds the in-memory GPU IR the analyses consume: a typed
// SSA module with functions, basic blocks, instructions and the
// GPU-specific intrinsic declarations. Frontends populate it; the
// analyzer treats it as read-only.
package ir

import (
	"fmt"

	"github.com/o2lab/gpucheck/apint"
)

// Value is any IR entity an instruction may reference as an operand.
type Value interface {
	Name() string
	Type() *Type
}

// Op enumerates instruction opcodes.
type Op int

const (
	Add Op = iota
	Sub
	Mul
	SDiv
	UDiv
	SRem
	URem
	And
	Or
	Xor
	Shl
	LShr
	AShr
	ICmp
	Br
	Ret
	Load
	Store
	GEP
	Call
	Phi
	Cast
	AddrSpaceCast
	Alloca
)

// IsBinaryOp reports an arithmetic or bitwise two-operand opcode.
func (op Op) IsBinaryOp() bool { return op >= Add && op <= AShr }

// Predicate enumerates integer comparison predicates.
type Predicate int

const (
	EQ Predicate = iota
	NE
	SLT
	SLE
	SGT
	SGE
	ULT
	ULE
	UGT
	UGE
)

// Location is a source position attached by debug info. A nil Location
// means the instruction has no debug info.
type Location struct {
	Dir      string
	Filename string
	Line     int
}

// Instruction is a single typed SSA instruction. Operand layout by Op:
//
//	binary ops    [lhs, rhs]
//	ICmp          [lhs, rhs] with Pred
//	Br            [cond] and Dests[taken, untaken], or Dests[target]
//	Ret           [] or [value]
//	Load          [ptr]
//	Store         [value, ptr]
//	GEP           [ptr, indices...] with SrcType = ptr's type
//	Call          args; the callee is Callee (nil for indirect calls)
//	Phi           incoming values, Blocks the matching predecessors
//	Cast          [value]
//	AddrSpaceCast [value]
//	Alloca        [] with Type a pointer to the allocated type
type Instruction struct {
	name     string
	typ      *Type
	Op       Op
	Pred     Predicate
	Operands []Value
	Dests    []*BasicBlock // Br successors
	Blocks   []*BasicBlock // Phi incoming blocks
	Callee   *Function
	SrcType  *Type
	Parent   *BasicBlock
	Loc      *Location

	users []*Instruction
}

func (i *Instruction) Name() string { return i.name }

func (i *Instruction) Type() *Type { return i.typ }

// Users returns the instructions that use i as an operand.
func (i *Instruction) Users() []*Instruction { return i.users }

// Function returns the function containing i.
func (i *Instruction) Function() *Function {
	if i.Parent == nil {
		return nil
	}
	return i.Parent.Parent
}

// IsConditional reports whether a Br has a condition operand.
func (i *Instruction) IsConditional() bool {
	return i.Op == Br && len(i.Operands) == 1
}

func (i *Instruction) String() string {
	if i.name != "" {
		return "%" + i.name
	}
	return fmt.Sprintf("%%<%s>", opNames[i.Op])
}

var opNames = map[Op]string{
	Add: "add", Sub: "sub", Mul: "mul", SDiv: "sdiv", UDiv: "udiv",
	SRem: "srem", URem: "urem", And: "and", Or: "or", Xor: "xor",
	Shl: "shl", LShr: "lshr", AShr: "ashr", ICmp: "icmp", Br: "br",
	Ret: "ret", Load: "load", Store: "store", GEP: "getelementptr",
	Call: "call", Phi: "phi", Cast: "cast", AddrSpaceCast: "addrspacecast",
	Alloca: "alloca",
}

// Argument is a function formal parameter.
type Argument struct {
	name   string
	typ    *Type
	Parent *Function
	Index  int

	users []*Instruction
}

func (a *Argument) Name() string { return a.name }

func (a *Argument) Type() *Type { return a.typ }

// Users returns the instructions that use a as an operand.
func (a *Argument) Users() []*Instruction { return a.users }

// ConstantInt is an integer (or pointer-width) literal.
type ConstantInt struct {
	typ *Type
	V   apint.Int
}

// NewConstantInt builds a literal of the given integer type.
func NewConstantInt(typ *Type, v int64) *ConstantInt {
	return &ConstantInt{typ: typ, V: apint.New(typ.Bits, v, true)}
}

func (c *ConstantInt) Name() string { return c.V.String() }

func (c *ConstantInt) Type() *Type { return c.typ }

// ConstantExpr is a constant-folded expression operand; only the GEP
// form occurs in the modules we analyze.
type ConstantExpr struct {
	typ      *Type
	Op       Op
	Operands []Value
	SrcType  *Type
}

func (c *ConstantExpr) Name() string { return "constexpr" }

func (c *ConstantExpr) Type() *Type { return c.typ }

// Global is a module-scope variable; its value is its address.
type Global struct {
	name string
	typ  *Type // always a pointer type
}

// NewGlobal declares a global of the given pointed-to type and space.
func NewGlobal(name string, elem *Type, space AddrSpace) *Global {
	return &Global{name: name, typ: PointerTo(elem, space)}
}

func (g *Global) Name() string { return g.name }

func (g *Global) Type() *Type { return g.typ }

// BasicBlock is a straight-line instruction sequence ending in a
// terminator.
type BasicBlock struct {
	name   string
	Parent *Function
	Instrs []*Instruction
	Preds  []*BasicBlock
	Succs  []*BasicBlock
	Index  int
}

func (b *BasicBlock) Name() string { return b.name }

// Terminator returns the last instruction of the block, or nil when
// the block is empty.
func (b *BasicBlock) Terminator() *Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

// Intrinsic identifies the GPU special-register reads and memory
// intrinsics the analyzer knows about.
type Intrinsic int

const (
	NotIntrinsic Intrinsic = iota
	TidX
	TidY
	TidZ
	LaneID
	CtaidX
	CtaidY
	CtaidZ
	NtidX
	NtidY
	NtidZ
	NctaidX
	NctaidY
	NctaidZ
	Memcpy
	Memmove
)

// Function is a defined function or a declaration (empty body).
type Function struct {
	name      string
	Params    []*Argument
	Blocks    []*BasicBlock
	Module    *Module
	RetType   *Type
	Intrinsic Intrinsic
	PTXKernel bool // PTX kernel calling convention

	// LocalNames maps IR values to the source-level variable names
	// recorded by debug intrinsics.
	LocalNames map[Value]string
}

func (f *Function) Name() string { return f.name }

// Type of a function used as an operand is an opaque pointer.
func (f *Function) Type() *Type { return PointerTo(Void, Generic) }

// IsDeclaration reports a body-less function.
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// Entry returns the entry block, or nil for declarations.
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Annotation models one entry of the module's nvvm.annotations list.
type Annotation struct {
	Fn   *Function
	Kind string
}

// Module is a translation unit: functions plus named metadata.
type Module struct {
	Funcs       []*Function
	Annotations []Annotation
}

// IsKernel reports whether f is a kernel entry point: either the
// nvvm.annotations metadata names it with kind "kernel", or it carries
// the PTX kernel calling convention.
func (m *Module) IsKernel(f *Function) bool {
	for _, a := range m.Annotations {
		if a.Kind == "kernel" && a.Fn == f {
			return true
		}
	}
	return f.PTXKernel
}

// Kernels returns the kernel functions of the module in declaration
// order.
func (m *Module) Kernels() []*Function {
	var ks []*Function
	for _, f := range m.Funcs {
		if m.IsKernel(f) {
			ks = append(ks, f)
		}
	}
	return ks
}

// addUser records i as a user of operand v. Only instructions and
// arguments track uses; constants and functions do not.
func addUser(v Value, i *Instruction) {
	switch u := v.(type) {
	case *Instruction:
		u.users = append(u.users, i)
	case *Argument:
		u.users = append(u.users, i)
	}
}

// UsersOf returns the use list of v, or nil for values that do not
// track uses.
func UsersOf(v Value) []*Instruction {
	switch u := v.(type) {
	case *Instruction:
		return u.users
	case *Argument:
		return u.users
	}
	return nil
}
