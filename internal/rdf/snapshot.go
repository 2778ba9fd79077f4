package rdf

import (
	"context"
)

// Snapshot is a frozen graph. Its iteration order is fixed at freeze time
// and equality is graph isomorphism, not blank node identity.
type Snapshot struct {
	g       *Graph
	triples []Triple
}

// Freeze copies g into a snapshot.
func Freeze(g *Graph) Snapshot {
	c := g.Clone()
	return Snapshot{g: c, triples: c.Triples()}
}

// Len returns the number of triples.
func (s Snapshot) Len() int { return len(s.triples) }

// Triples returns the triples in frozen order. The slice must not be
// modified.
func (s Snapshot) Triples() []Triple { return s.triples }

// Contains reports whether t is in the snapshot.
func (s Snapshot) Contains(t Triple) bool {
	return s.g != nil && s.g.Contains(t)
}

// Graph returns a mutable copy of the snapshot.
func (s Snapshot) Graph() *Graph {
	if s.g == nil {
		return NewGraph()
	}
	return s.g.Clone()
}

// Isomorphic reports whether both snapshots describe the same graph up to
// blank node renaming.
func (s Snapshot) Isomorphic(other Snapshot) bool {
	return Isomorphic(s.Graph(), other.Graph())
}

// Isomorphic reports whether a bijection between the blank nodes of a and b
// makes their triple sets identical.
func Isomorphic(a, b *Graph) bool {
	if a.Len() != b.Len() {
		return false
	}
	if len(a.BlankNodes()) != len(b.BlankNodes()) {
		return false
	}
	// With equal sizes and equal blank counts an injective embedding of a
	// into b is onto, so it is the bijection we need.
	_, err := FindSubgraph(context.Background(), b, a, Unlimited)
	return err == nil
}
