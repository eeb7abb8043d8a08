package ir

// DomTree answers dominance queries over one function's CFG. It is
// computed by the classic iterative set intersection, which handles
// the multi-rooted reverse CFG of the post-dominator case without
// special-casing a virtual exit. Function CFGs here are small enough
// that the quadratic sets never matter.
type DomTree struct {
	dom   map[*BasicBlock]map[*BasicBlock]bool
	idom  map[*BasicBlock]*BasicBlock
	depth map[*BasicBlock]int
}

// Dominators computes the dominator tree of f rooted at the entry
// block.
func Dominators(f *Function) *DomTree {
	return buildDomTree(f, []*BasicBlock{f.Entry()},
		func(b *BasicBlock) []*BasicBlock { return b.Preds },
		func(b *BasicBlock) []*BasicBlock { return b.Succs })
}

// PostDominators computes the post-dominator tree of f; every exit
// block (no successors) is a root.
func PostDominators(f *Function) *DomTree {
	var exits []*BasicBlock
	for _, b := range f.Blocks {
		if len(b.Succs) == 0 {
			exits = append(exits, b)
		}
	}
	return buildDomTree(f, exits,
		func(b *BasicBlock) []*BasicBlock { return b.Succs },
		func(b *BasicBlock) []*BasicBlock { return b.Preds })
}

func buildDomTree(f *Function, roots []*BasicBlock, preds, succs func(*BasicBlock) []*BasicBlock) *DomTree {
	dt := &DomTree{
		dom:   make(map[*BasicBlock]map[*BasicBlock]bool),
		idom:  make(map[*BasicBlock]*BasicBlock),
		depth: make(map[*BasicBlock]int),
	}
	if len(roots) == 0 {
		return dt
	}

	// Reachable blocks, in a stable traversal order.
	var order []*BasicBlock
	seen := make(map[*BasicBlock]bool)
	var stack []*BasicBlock
	for _, r := range roots {
		if r != nil && !seen[r] {
			seen[r] = true
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, b)
		for _, s := range succs(b) {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}

	isRoot := make(map[*BasicBlock]bool)
	for _, r := range roots {
		isRoot[r] = true
		dt.dom[r] = map[*BasicBlock]bool{r: true}
	}
	all := make(map[*BasicBlock]bool, len(order))
	for _, b := range order {
		all[b] = true
	}
	for _, b := range order {
		if !isRoot[b] {
			full := make(map[*BasicBlock]bool, len(order))
			for k := range all {
				full[k] = true
			}
			dt.dom[b] = full
		}
	}

	for changed := true; changed; {
		changed = false
		for _, b := range order {
			if isRoot[b] {
				continue
			}
			var next map[*BasicBlock]bool
			for _, p := range preds(b) {
				pd, ok := dt.dom[p]
				if !ok {
					continue // unreachable predecessor
				}
				if next == nil {
					next = make(map[*BasicBlock]bool, len(pd))
					for k := range pd {
						next[k] = true
					}
				} else {
					for k := range next {
						if !pd[k] {
							delete(next, k)
						}
					}
				}
			}
			if next == nil {
				next = make(map[*BasicBlock]bool)
			}
			next[b] = true
			if len(next) != len(dt.dom[b]) {
				dt.dom[b] = next
				changed = true
			}
		}
	}

	// The immediate dominator is the strict dominator with the
	// largest dominator set of its own.
	for _, b := range order {
		dt.depth[b] = len(dt.dom[b]) - 1
		var best *BasicBlock
		for c := range dt.dom[b] {
			if c == b {
				continue
			}
			if best == nil || len(dt.dom[c]) > len(dt.dom[best]) {
				best = c
			}
		}
		dt.idom[b] = best
	}
	return dt
}

// Idom returns the immediate dominator of b, nil for roots and
// unreachable blocks.
func (dt *DomTree) Idom(b *BasicBlock) *BasicBlock { return dt.idom[b] }

// Dominates reports whether a dominates b. Every block dominates
// itself.
func (dt *DomTree) Dominates(a, b *BasicBlock) bool {
	return dt.dom[b][a]
}

// NearestCommonDominator returns the closest block dominating both a
// and b, or nil when no common dominator exists.
func (dt *DomTree) NearestCommonDominator(a, b *BasicBlock) *BasicBlock {
	if a == nil || b == nil {
		return nil
	}
	for dt.depth[a] > dt.depth[b] {
		a = dt.idom[a]
	}
	for b != nil && dt.depth[b] > dt.depth[a] {
		b = dt.idom[b]
	}
	for a != b {
		if a == nil || b == nil {
			return nil
		}
		a = dt.idom[a]
		b = dt.idom[b]
	}
	return a
}

// Reachable reports whether control flow starting at from may reach
// to. A block is considered to reach itself, conservatively covering
// self loops.
func Reachable(from, to *BasicBlock) bool {
	if from == to {
		return true
	}
	seen := map[*BasicBlock]bool{from: true}
	work := []*BasicBlock{from}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range b.Succs {
			if s == to {
				return true
			}
			if !seen[s] {
				seen[s] = true
				work = append(work, s)
			}
		}
	}
	return false
}

// DominatingCondition returns the branch condition controlling the
// join of blocks l and r: the condition of the conditional branch
// terminating their nearest common dominator, or nil when the
// dominator ends in anything else.
func DominatingCondition(l, r *BasicBlock, dt *DomTree) Value {
	dom := dt.NearestCommonDominator(l, r)
	if dom == nil {
		return nil
	}
	term := dom.Terminator()
	if term == nil || term.Op != Br || !term.IsConditional() {
		return nil
	}
	return term.Operands[0]
}
