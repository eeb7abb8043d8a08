// Package diverge flags conditional branches whose condition differs
// across the threads of a warp, by evaluating the condition's ACF
// under synthetic thread coordinates and measuring how many sampled
// warps disagree internally.
package diverge

import (
	log "github.com/sirupsen/logrus"

	"github.com/o2lab/gpucheck/config"
	"github.com/o2lab/gpucheck/ir"
	"github.com/o2lab/gpucheck/offset"
	"github.com/o2lab/gpucheck/propagation"
	"github.com/o2lab/gpucheck/report"
	"github.com/o2lab/gpucheck/threaddep"
)

// BranchDivergeAnalysis walks every defined function and scores its
// thread-dependent conditional branches.
type BranchDivergeAnalysis struct {
	TD       *threaddep.ThreadDependence
	OP       *propagation.OffsetPropagation
	Reporter *report.Reporter
}

// Run analyzes all defined functions of m.
func (a *BranchDivergeAnalysis) Run(m *ir.Module) {
	for _, f := range m.Funcs {
		if !f.IsDeclaration() {
			a.RunOnFunction(f)
		}
	}
}

// RunOnFunction scores every conditional branch of one function.
func (a *BranchDivergeAnalysis) RunOnFunction(f *ir.Function) {
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if i.Op != ir.Br || !i.IsConditional() || !a.TD.IsDependent(i) {
				continue
			}
			// We've found a potentially divergent branch.
			divergence, predictable := a.getDivergence(i)
			if divergence > config.DivergeThresh {
				log.Debugf("Found divergent branch, diverge=(%v)", divergence)
				conf := report.HighConfidence
				if !predictable {
					conf = report.LowConfidence
				}
				a.Reporter.Emit(report.Finding{
					Kind:       report.DivergentBranch,
					Sev:        report.SevMed,
					Inst:       i,
					Name:       ir.ValueName(i.Operands[0]),
					Measure:    divergence,
					Confidence: conf,
					Message:    "Divergent Branch Detected",
				})
			} else {
				log.Debugf("Nondivergent branch, diverge=(%v)", divergence)
			}
		}
	}
}

// getDivergence returns the fraction of sampled warps that diverge on
// the branch, maximized over all interprocedural contexts, and whether
// every context evaluated to a predictable inter-lane difference.
func (a *BranchDivergeAnalysis) getDivergence(bi *ir.Instruction) (float64, bool) {
	condOffset := a.OP.GetOrCreateVal(bi.Operands[0])
	log.Debugf("Analyzing possibly divergent branch condition: %s", condOffset)

	allPaths := a.OP.InContexts(condOffset)
	log.Debugf("Context-sensitive analysis generated %d contexts", len(allPaths))

	g := config.GridDim
	maxDivergence := 0.0
	for _, path := range allPaths {
		gridCtx := a.OP.InGridContext(path, g[0], g[1], g[2], g[3], g[4], g[5])
		// Perform as much simplification as we can early.
		simp := offset.SimplifyOffsetVal(offset.SumOfProducts(gridCtx))

		// The difference between threads 0 and 1 decides whether the
		// expression is predictable at all.
		threadDiff := offset.CancelDiffs(offset.NewBinOp(
			a.OP.InThreadContext(simp, 1, 0, 0, 0, 0, 0),
			offset.Sub,
			a.OP.InThreadContext(simp, 0, 0, 0, 0, 0, 0)), a.TD)

		if !threadDiff.IsConst() {
			log.Debugf("Cannot generate constant for branch: %s", threadDiff)
			// Branch cannot be analyzed in at least one context.
			return 1.0, false
		}

		divergent := 0
		for warp := 0; warp < config.Warps; warp++ {
			warpBase := a.OP.InThreadContext(simp, int64(warp*config.WarpSize), 0, 0, 0, 0, 0)
			for lane := 1; lane < config.WarpSize; lane++ {
				threadBase := a.OP.InThreadContext(simp, int64(warp*config.WarpSize+lane), 0, 0, 0, 0, 0)
				laneDiff := offset.CancelDiffs(offset.NewBinOp(warpBase, offset.Sub, threadBase), a.TD)
				if !laneDiff.IsConst() || !laneDiff.ConstVal().IsZero() {
					divergent++
					break // We found divergence, we're done with the warp.
				}
			}
		}
		if score := float64(divergent) / float64(config.Warps); score > maxDivergence {
			maxDivergence = score
		}
	}
	return maxDivergence, true
}
