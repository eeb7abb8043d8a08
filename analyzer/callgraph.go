package analyzer

import (
	"github.com/twmb/algoimpl/go/graph"

	"github.com/o2lab/gpucheck/ir"
)

// AnalysisOrder returns the module's functions topologically sorted
// over the direct call graph, callers first, so kernels are visited
// before the helpers their contexts specialize into. Functions on
// call cycles keep their graph order.
func AnalysisOrder(m *ir.Module) []*ir.Function {
	g := graph.New(graph.Directed)
	nodes := make(map[*ir.Function]graph.Node, len(m.Funcs))
	for _, f := range m.Funcs {
		n := g.MakeNode()
		*n.Value = f
		nodes[f] = n
	}
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, i := range b.Instrs {
				if i.Op == ir.Call && i.Callee != nil {
					g.MakeEdge(nodes[f], nodes[i.Callee])
				}
			}
		}
	}

	var order []*ir.Function
	for _, n := range g.TopologicalSort() {
		if f, ok := (*n.Value).(*ir.Function); ok {
			order = append(order, f)
		}
	}
	return order
}
