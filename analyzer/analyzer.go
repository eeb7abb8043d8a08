// Package analyzer drives a whole-module run: thread dependence, the
// shared offset cache, then the divergence and coalescing passes over
// every defined function in call-graph order, feeding one reporter.
package analyzer

import (
	log "github.com/sirupsen/logrus"

	"github.com/o2lab/gpucheck/coalesce"
	"github.com/o2lab/gpucheck/diverge"
	"github.com/o2lab/gpucheck/ir"
	"github.com/o2lab/gpucheck/propagation"
	"github.com/o2lab/gpucheck/report"
	"github.com/o2lab/gpucheck/stats"
	"github.com/o2lab/gpucheck/threaddep"
)

// AnalysisRunner owns one module run. Analyses and caches live exactly
// as long as the run.
type AnalysisRunner struct {
	Module   *ir.Module
	MemDep   ir.MemDep
	Reporter *report.Reporter
}

// Run executes every analysis over the module and returns the ranked
// findings. The reporter is created on demand so tests can omit it.
func (r *AnalysisRunner) Run() []report.Finding {
	if r.Reporter == nil {
		r.Reporter = &report.Reporter{}
	}
	stats.Reset()

	doStartLog(" Computing thread dependence...")
	td := threaddep.Run(r.Module)
	doEndLog("Thread dependence ready.")

	op := propagation.New(r.Module, r.MemDep)

	bd := &diverge.BranchDivergeAnalysis{TD: td, OP: op, Reporter: r.Reporter}
	mc := &coalesce.MemCoalesceAnalysis{TD: td, OP: op, Reporter: r.Reporter}

	order := AnalysisOrder(r.Module)
	for _, f := range order {
		if f.IsDeclaration() {
			continue
		}
		doStartLog(" Analyzing " + f.Name() + "...")
		bd.RunOnFunction(f)
		mc.RunOnFunction(f)
		doEndLog("Analyzed ", f.Name())
	}

	if stats.CollectStats {
		stats.Print()
	}
	findings := r.Reporter.Findings()
	log.Infof("Analysis complete: %d finding(s) over %d function(s)", len(findings), len(order))
	return findings
}
