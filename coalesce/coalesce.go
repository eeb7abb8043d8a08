// Package coalesce flags memory accesses whose per-lane addresses
// scatter into too many cache-line-sized transactions per warp. The
// pointer's ACF is evaluated lane by lane under synthetic thread
// coordinates and merged into transaction intervals.
package coalesce

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/o2lab/gpucheck/config"
	"github.com/o2lab/gpucheck/ir"
	"github.com/o2lab/gpucheck/offset"
	"github.com/o2lab/gpucheck/propagation"
	"github.com/o2lab/gpucheck/report"
	"github.com/o2lab/gpucheck/threaddep"
)

// MemAccess classifies an access site by how its pointer is used in
// the surrounding block.
type MemAccess int

const (
	AccessUnknown MemAccess = iota
	AccessRead
	AccessWrite
	AccessUpdate
	AccessCopy
)

// MemCoalesceAnalysis walks every defined function and scores its
// thread-dependent global-memory accesses.
type MemCoalesceAnalysis struct {
	TD       *threaddep.ThreadDependence
	OP       *propagation.OffsetPropagation
	Reporter *report.Reporter
}

// Run analyzes all defined functions of m.
func (a *MemCoalesceAnalysis) Run(m *ir.Module) {
	for _, f := range m.Funcs {
		if !f.IsDeclaration() {
			a.RunOnFunction(f)
		}
	}
}

// RunOnFunction scores every load, store and memory intrinsic of one
// function.
func (a *MemCoalesceAnalysis) RunOnFunction(f *ir.Function) {
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			switch i.Op {
			case ir.Load:
				a.testAccess(i, i.Operands[0])
			case ir.Store:
				a.testAccess(i, i.Operands[1])
			case ir.Call:
				a.testCall(i)
			}
		}
	}
}

// testCall inspects memcpy/memmove arguments; the source is only
// examined when the destination was clean.
func (a *MemCoalesceAnalysis) testCall(ci *ir.Instruction) {
	if ci.Callee == nil || len(ci.Operands) < 2 {
		return
	}
	switch ci.Callee.Intrinsic {
	case ir.Memcpy, ir.Memmove:
		if !a.testAccess(ci, ci.Operands[0]) {
			a.testAccess(ci, ci.Operands[1])
		}
	}
}

func (a *MemCoalesceAnalysis) testAccess(i *ir.Instruction, ptr ir.Value) bool {
	if !a.TD.IsDependent(ptr) {
		return false
	}
	// Ignore stack allocations.
	if p, ok := ptr.(*ir.Instruction); ok && p.Op == ir.Alloca {
		return false
	}
	// Ignore accesses that cannot reach global or constant memory.
	if !MayBeGlobal(i) {
		return false
	}
	tpe := a.getAccessType(i, ptr)
	if tpe == AccessUpdate && i.Op == ir.Store {
		// Don't report updates twice.
		return false
	}
	log.Debugf("Found a memory access: %s", i)

	requests, predictable := a.requestsPerWarp(ptr)
	log.Debugf("Memory requests required per warp: %v", requests)
	if requests > config.CoalesceThres {
		a.Reporter.Emit(a.buildFinding(i, ptr, tpe, requests, predictable))
		return true
	}
	return false
}

// getAccessType scans the users of the address within the access's own
// block.
func (a *MemCoalesceAnalysis) getAccessType(i *ir.Instruction, address ir.Value) MemAccess {
	read, written, copied := false, false, false
	for _, u := range ir.UsersOf(address) {
		if u.Parent != i.Parent {
			continue
		}
		switch u.Op {
		case ir.Load:
			read = true
		case ir.Store:
			written = true
		case ir.Call:
			copied = true
		}
	}
	switch {
	case copied:
		return AccessCopy
	case read && written:
		return AccessUpdate
	case read:
		return AccessRead
	case written:
		return AccessWrite
	}
	return AccessUnknown
}

var accessKind = map[MemAccess]report.Kind{
	AccessRead:    report.UncoalescedRead,
	AccessWrite:   report.UncoalescedWrite,
	AccessUpdate:  report.UncoalescedUpdate,
	AccessCopy:    report.UncoalescedCopy,
	AccessUnknown: report.Uncoalesced,
}

var accessVerb = map[MemAccess]string{
	AccessRead:   "read from",
	AccessWrite:  "write to",
	AccessUpdate: "update to",
	AccessCopy:   "copy to",
}

func (a *MemCoalesceAnalysis) buildFinding(i *ir.Instruction, ptr ir.Value, tpe MemAccess, requests float64, predictable bool) report.Finding {
	prefix := ""
	if verb, ok := accessVerb[tpe]; ok {
		prefix = fmt.Sprintf("In %s %s, ", verb, ir.ValueName(ptr))
	}

	sev := report.SevUnknown
	msg := prefix + "Possible Uncoalesced Access Detected"
	if config.ClassifySeverity && predictable {
		reqs := int(requests)
		switch {
		case reqs > 16:
			sev = report.SevMax
		case reqs > 8:
			sev = report.SevMed
		default:
			sev = report.SevMin
		}
		msg = prefix + fmt.Sprintf("Uncoalesced Memory Access requires %d requests/warp", reqs)
	}

	conf := report.HighConfidence
	if !predictable {
		conf = report.LowConfidence
	}
	return report.Finding{
		Kind:       accessKind[tpe],
		Sev:        sev,
		Inst:       i,
		Name:       ir.ValueName(ptr),
		Measure:    requests,
		Confidence: conf,
		Message:    msg,
	}
}

// transaction is one [lo, hi) byte interval a warp touches.
type transaction struct {
	lo, hi int64
}

// requestsPerWarp scores the pointer: the number of distinct memory
// transactions the sampled warps need, per warp, maximized over all
// interprocedural contexts. Unpredictable contexts score the
// pessimistic full-scatter value of one transaction per lane.
func (a *MemCoalesceAnalysis) requestsPerWarp(ptr ir.Value) (float64, bool) {
	ptrOffset := a.OP.GetOrCreateVal(ptr)
	log.Debugf("Analyzing possibly uncoalesced access: %s", ptrOffset)

	allPaths := a.OP.InContexts(ptrOffset)
	log.Debugf("Context-sensitive analysis generated %d contexts", len(allPaths))

	g := config.GridDim
	maxRequests := 0.0
	for _, path := range allPaths {
		gridCtx := a.OP.InGridContext(path, g[0], g[1], g[2], g[3], g[4], g[5])
		simp := offset.SimplifyOffsetVal(offset.SumOfProducts(gridCtx))

		threadDiff := offset.CancelDiffs(offset.NewBinOp(
			a.OP.InThreadContext(simp, 1, 0, 0, 0, 0, 0),
			offset.Sub,
			a.OP.InThreadContext(simp, 0, 0, 0, 0, 0, 0)), a.TD)

		if !threadDiff.IsConst() {
			log.Debugf("Cannot generate constant for access: %s", threadDiff)
			// Access cannot be analyzed in at least one context.
			return float64(config.WarpSize), false
		}

		requestCount := 0
		for warp := 0; warp < config.Warps; warp++ {
			warpBase := a.OP.InThreadContext(simp, int64(warp*config.WarpSize), 0, 0, 0, 0, 0)
			var requests []transaction
			for lane := 0; lane < config.WarpSize; lane++ {
				threadBase := a.OP.InThreadContext(simp, int64(warp*config.WarpSize+lane), 0, 0, 0, 0, 0)
				laneDiff := offset.CancelDiffs(offset.NewBinOp(warpBase, offset.Sub, threadBase), a.TD)

				if !laneDiff.IsConst() {
					// An unpredictable lane is assumed to miss.
					requestCount++
					continue
				}
				off := laneDiff.ConstVal().SExtValue()

				fits := false
				for r := range requests {
					if off >= requests[r].lo && off <= requests[r].hi {
						fits = true
					} else if off < requests[r].lo && off >= requests[r].hi-config.AccessSize {
						requests[r].lo = off
						fits = true
					} else if off+4 > requests[r].hi && off+4 <= requests[r].lo+config.AccessSize {
						requests[r].hi = off + 4
						fits = true
					}
					if fits {
						break
					}
				}
				if !fits {
					requests = append(requests, transaction{off, off + 4})
				}
			}
			requestCount += len(requests)
		}

		if score := float64(requestCount) / float64(config.Warps); score > maxRequests {
			maxRequests = score
			if maxRequests > config.CoalesceThres {
				// Might as well short-circuit here.
				return maxRequests, true
			}
		}
	}
	return maxRequests, true
}
