package analyzer

import (
	"testing"

	"github.com/o2lab/gpucheck/config"
	"github.com/o2lab/gpucheck/ir"
	"github.com/o2lab/gpucheck/report"
)

func init() {
	config.GoTest = true
}

func globalI32Ptr() *ir.Type { return ir.PointerTo(ir.I32, ir.GlobalSpace) }

// testModule builds a module with one helper and two kernels:
//
//	f(a *i32, x i32)      { v = a[x] }
//	clean(b *i32)         { f(b, tid.x) }
//	divergent(c *i32)     { if ((tid.x & 1) == 0) { v = c[tid.x * 128] } }
func testModule() (*ir.Module, *ir.Function, *ir.Function) {
	m := ir.NewModule()
	gi := m.DeclareGridIntrinsics()

	helper := m.NewFunction("f", ir.Void, []string{"a", "x"}, []*ir.Type{globalI32Ptr(), ir.I32})
	hb := helper.NewBlock("entry")
	hgep := hb.NewGEP("gep", helper.Params[0], helper.Params[1])
	hb.NewLoad("v", hgep)
	hb.NewRet(nil)

	clean := m.NewFunction("clean", ir.Void, []string{"b"}, []*ir.Type{globalI32Ptr()})
	m.MarkKernel(clean)
	cb := clean.NewBlock("entry")
	ctid := cb.NewCall("tid", gi.TidX)
	cb.NewCall("", helper, clean.Params[0], ctid)
	cb.NewRet(nil)

	div := m.NewFunction("divergent", ir.Void, []string{"c"}, []*ir.Type{globalI32Ptr()})
	m.MarkKernel(div)
	entry := div.NewBlock("entry")
	then := div.NewBlock("then")
	exit := div.NewBlock("exit")
	dtid := entry.NewCall("tid", gi.TidX)
	parity := entry.NewBinOp("parity", ir.And, dtid, ir.NewConstantInt(ir.I32, 1), ir.I32)
	cond := entry.NewICmp("cond", ir.EQ, parity, ir.NewConstantInt(ir.I32, 0))
	entry.NewCondBr(cond, then, exit)
	idx := then.NewBinOp("idx", ir.Mul, dtid, ir.NewConstantInt(ir.I32, 128), ir.I32)
	dgep := then.NewGEP("dgep", div.Params[0], idx)
	then.NewLoad("dv", dgep)
	then.NewBr(exit)
	exit.NewRet(nil)

	return m, helper, clean
}

func TestEndToEnd(t *testing.T) {
	m, _, _ := testModule()
	runner := &AnalysisRunner{Module: m}
	findings := runner.Run()

	var branches, accesses int
	for _, f := range findings {
		switch f.Kind {
		case report.DivergentBranch:
			branches++
		default:
			accesses++
		}
	}
	// The interprocedural read a[tid.x] is perfectly coalesced and
	// stays silent; the parity branch and the strided read fire.
	if branches != 1 {
		t.Errorf("divergent-branch findings = %d, want 1", branches)
	}
	if accesses != 1 {
		t.Errorf("uncoalesced-access findings = %d, want 1", accesses)
	}
}

func TestFindingsAreRanked(t *testing.T) {
	m, _, _ := testModule()
	runner := &AnalysisRunner{Module: m}
	findings := runner.Run()

	for i := 1; i < len(findings); i++ {
		if findings[i-1].Sev < findings[i].Sev {
			t.Fatal("findings must be ordered most severe first")
		}
	}
}

func TestAnalysisOrder(t *testing.T) {
	m, helper, clean := testModule()
	order := AnalysisOrder(m)

	pos := make(map[*ir.Function]int)
	for i, f := range order {
		pos[f] = i
	}
	if len(order) < len(m.Funcs) {
		t.Fatalf("order covers %d of %d functions", len(order), len(m.Funcs))
	}
	if pos[clean] > pos[helper] {
		t.Error("callers must precede their callees")
	}
}

func TestLoadModuleWithoutFrontends(t *testing.T) {
	if _, err := LoadModule("kernel.bc"); err == nil {
		t.Error("loading without a registered frontend must fail")
	}
}
