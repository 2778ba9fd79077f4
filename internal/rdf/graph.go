package rdf

import (
	"sort"
)

type tripleSet map[Triple]struct{}

// Graph is a mutable set of triples. It is not safe for concurrent use;
// the store serialises access per graph.
//
// Iteration follows insertion order so that everything derived from a graph
// (encodings, match choices) is deterministic for the same history.
type Graph struct {
	triples   map[Triple]uint64
	seq       uint64
	nextBlank uint64
	labels    map[string]Term

	bySubject   map[Term]tripleSet
	byPredicate map[Term]tripleSet
	byObject    map[Term]tripleSet
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		triples:     make(map[Triple]uint64),
		nextBlank:   1,
		labels:      make(map[string]Term),
		bySubject:   make(map[Term]tripleSet),
		byPredicate: make(map[Term]tripleSet),
		byObject:    make(map[Term]tripleSet),
	}
}

// NewBlank allocates a fresh blank node in this graph.
func (g *Graph) NewBlank() Term {
	id := g.nextBlank
	g.nextBlank++
	return Term{kind: TermBlank, blank: id}
}

// Blank returns the blank node for a document-scoped label, allocating it
// on first use. Parsers use this so that "_:x" twice in one document is one
// node.
func (g *Graph) Blank(label string) Term {
	if t, ok := g.labels[label]; ok {
		return t
	}
	t := g.NewBlank()
	g.labels[label] = t
	return t
}

// RestoreBlank returns the blank node with a previously persisted handle and
// makes sure later allocations do not reuse it.
func (g *Graph) RestoreBlank(id uint64) Term {
	if id >= g.nextBlank {
		g.nextBlank = id + 1
	}
	return Term{kind: TermBlank, blank: id}
}

// ResetLabels forgets document-scoped blank labels. Handles stay allocated.
func (g *Graph) ResetLabels() {
	g.labels = make(map[string]Term)
}

// Len returns the number of triples.
func (g *Graph) Len() int {
	return len(g.triples)
}

// Contains reports whether t is in the graph.
func (g *Graph) Contains(t Triple) bool {
	_, ok := g.triples[t]
	return ok
}

// Add inserts t and reports whether it was new.
func (g *Graph) Add(t Triple) bool {
	if _, ok := g.triples[t]; ok {
		return false
	}
	g.seq++
	g.triples[t] = g.seq
	index(g.bySubject, t.S, t)
	index(g.byPredicate, t.P, t)
	index(g.byObject, t.O, t)
	if t.S.IsBlank() && t.S.blank >= g.nextBlank {
		g.nextBlank = t.S.blank + 1
	}
	if t.O.IsBlank() && t.O.blank >= g.nextBlank {
		g.nextBlank = t.O.blank + 1
	}
	return true
}

// Remove deletes t and reports whether it was present.
func (g *Graph) Remove(t Triple) bool {
	if _, ok := g.triples[t]; !ok {
		return false
	}
	delete(g.triples, t)
	unindex(g.bySubject, t.S, t)
	unindex(g.byPredicate, t.P, t)
	unindex(g.byObject, t.O, t)
	return true
}

// AddAll inserts every triple and returns how many were new.
func (g *Graph) AddAll(ts []Triple) int {
	n := 0
	for _, t := range ts {
		if g.Add(t) {
			n++
		}
	}
	return n
}

// Apply removes then adds in a single pass.
func (g *Graph) Apply(removed, added []Triple) {
	for _, t := range removed {
		g.Remove(t)
	}
	g.AddAll(added)
}

// Triples returns all triples in insertion order.
func (g *Graph) Triples() []Triple {
	out := make([]Triple, 0, len(g.triples))
	for t := range g.triples {
		out = append(out, t)
	}
	g.sortBySeq(out)
	return out
}

// Filter returns the triples matching the pattern in insertion order. A zero
// term in any position matches anything.
func (g *Graph) Filter(s, p, o Term) []Triple {
	var out []Triple
	g.each(s, p, o, func(t Triple) bool {
		out = append(out, t)
		return true
	})
	g.sortBySeq(out)
	return out
}

// Adopt returns src's triples with every blank node replaced by a fresh
// blank node of g, ready to be added to g. Triples are not added.
func (g *Graph) Adopt(src *Graph) []Triple {
	fresh := make(map[Term]Term)
	rename := func(t Term) Term {
		if !t.IsBlank() {
			return t
		}
		n, ok := fresh[t]
		if !ok {
			n = g.NewBlank()
			fresh[t] = n
		}
		return n
	}
	ts := src.Triples()
	out := make([]Triple, len(ts))
	for i, t := range ts {
		out[i] = Triple{S: rename(t.S), P: t.P, O: rename(t.O)}
	}
	return out
}

// Clone returns an independent copy that keeps blank node handles, so the
// copy describes the same nodes as g.
func (g *Graph) Clone() *Graph {
	c := NewGraph()
	c.nextBlank = g.nextBlank
	for _, t := range g.Triples() {
		c.Add(t)
	}
	return c
}

// Subgraph returns a new graph holding ts, sharing g's blank node handles.
func (g *Graph) Subgraph(ts []Triple) *Graph {
	c := NewGraph()
	c.nextBlank = g.nextBlank
	c.AddAll(ts)
	return c
}

// BlankNodes returns the distinct blank nodes in order of first appearance.
func (g *Graph) BlankNodes() []Term {
	var out []Term
	seen := make(map[Term]bool)
	for _, t := range g.Triples() {
		for _, term := range [2]Term{t.S, t.O} {
			if term.IsBlank() && !seen[term] {
				seen[term] = true
				out = append(out, term)
			}
		}
	}
	return out
}

// each visits triples matching the pattern in no particular order until fn
// returns false.
func (g *Graph) each(s, p, o Term, fn func(Triple) bool) {
	var candidates tripleSet
	switch {
	case !s.IsZero():
		candidates = g.bySubject[s]
	case !o.IsZero():
		candidates = g.byObject[o]
	case !p.IsZero():
		candidates = g.byPredicate[p]
	default:
		for t := range g.triples {
			if !fn(t) {
				return
			}
		}
		return
	}
	for t := range candidates {
		if !s.IsZero() && t.S != s {
			continue
		}
		if !p.IsZero() && t.P != p {
			continue
		}
		if !o.IsZero() && t.O != o {
			continue
		}
		if !fn(t) {
			return
		}
	}
}

func (g *Graph) sortBySeq(ts []Triple) {
	sort.Slice(ts, func(i, j int) bool {
		return g.triples[ts[i]] < g.triples[ts[j]]
	})
}

func index(idx map[Term]tripleSet, k Term, t Triple) {
	set, ok := idx[k]
	if !ok {
		set = make(tripleSet)
		idx[k] = set
	}
	set[t] = struct{}{}
}

func unindex(idx map[Term]tripleSet, k Term, t Triple) {
	set, ok := idx[k]
	if !ok {
		return
	}
	delete(set, t)
	if len(set) == 0 {
		delete(idx, k)
	}
}
