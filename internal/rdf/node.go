package rdf

// GraphNode is a read-side view of one term inside a graph: the focus and a
// snapshot of its context.
type GraphNode struct {
	Focus   Term
	Context Snapshot
}

// NodeContext collects every triple in which focus is the subject or the
// object, then follows blank nodes reached that way until closure. The
// result shares g's blank node handles.
func NodeContext(g *Graph, focus Term) *Graph {
	var out []Triple
	seen := make(map[Triple]bool)
	visited := map[Term]bool{focus: true}
	queue := []Term{focus}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, t := range append(g.Filter(n, Term{}, Term{}), g.Filter(Term{}, Term{}, n)...) {
			if seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
			for _, next := range [2]Term{t.S, t.O} {
				if next.IsBlank() && !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
	}
	return g.Subgraph(out)
}

// NewGraphNode builds the view of focus in g.
func NewGraphNode(g *Graph, focus Term) *GraphNode {
	return &GraphNode{Focus: focus, Context: Freeze(NodeContext(g, focus))}
}
