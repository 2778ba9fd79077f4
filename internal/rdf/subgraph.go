package rdf

import (
	"context"
	"sort"

	errs "github.com/systemshift/graphedit/internal/errors"
)

// Limits bounds a subgraph search. Zero fields are unlimited.
type Limits struct {
	// MaxStatements caps the size of the candidate graph.
	MaxStatements int
	// MaxSteps caps the number of target triples examined and consistency
	// checks performed by the blank node search.
	MaxSteps int
}

var (
	// DefaultLimits suits hand-edited fragments.
	DefaultLimits = Limits{MaxStatements: 1024, MaxSteps: 250000}
	// Unlimited disables both bounds.
	Unlimited = Limits{}
)

// ErrNoSuchSubgraph is matched by errors.Is when the candidate does not
// embed into the target.
var ErrNoSuchSubgraph = errs.ErrNoSuchSubgraph

// Match is a successful embedding of a candidate graph into a target.
type Match struct {
	// Mapping sends each candidate blank node to a target blank node.
	Mapping map[Term]Term
	// Statements is the image of the candidate in the target, in candidate
	// order. Removing exactly these retracts the candidate.
	Statements []Triple
	// Steps is the search effort spent.
	Steps int
}

const opFind = "rdf.FindSubgraph"

// FindSubgraph looks for an injective mapping from candidate's blank nodes
// to target's blank nodes under which every candidate triple is in target.
// Neither graph is modified.
//
// When several embeddings exist the first one in search order wins: blank
// nodes are assigned most-constrained first, ties broken by first
// appearance in the candidate, and target nodes are tried by ascending
// handle. The choice is deterministic for equal inputs.
func FindSubgraph(ctx context.Context, target, candidate *Graph, limits Limits) (*Match, error) {
	if limits.MaxStatements > 0 && candidate.Len() > limits.MaxStatements {
		return nil, errs.Errorf(errs.KindResourceExhausted, opFind,
			"candidate has %d statements, limit is %d", candidate.Len(), limits.MaxStatements)
	}

	if err := ctx.Err(); err != nil {
		return nil, errs.E(errs.KindResourceExhausted, opFind, err)
	}

	all := candidate.Triples()
	var open []Triple
	for _, t := range all {
		if t.HasBlank() {
			open = append(open, t)
			continue
		}
		if !target.Contains(t) {
			return nil, errs.Errorf(errs.KindNoSuchSubgraph, opFind, "statement %s is not in the target graph", t)
		}
	}

	s := newSearch(ctx, target, open, limits)
	ok, err := s.solve()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Errorf(errs.KindNoSuchSubgraph, opFind,
			"no assignment of %d blank nodes embeds the candidate", len(s.blanks))
	}

	m := &Match{
		Mapping:    s.mapping,
		Statements: make([]Triple, len(all)),
		Steps:      s.steps,
	}
	for i, t := range all {
		m.Statements[i] = s.image(t)
	}
	return m, nil
}

// RemoveExactSubgraph removes the image of candidate from target. On any
// error target is left unchanged.
func RemoveExactSubgraph(ctx context.Context, target, candidate *Graph, limits Limits) error {
	m, err := FindSubgraph(ctx, target, candidate, limits)
	if err != nil {
		return err
	}
	for _, t := range m.Statements {
		target.Remove(t)
	}
	return nil
}

type search struct {
	ctx    context.Context
	target *Graph
	limits Limits
	steps  int

	stmts  []Triple
	blanks []Term
	uses   map[Term][]int

	mapping map[Term]Term
	used    map[Term]bool
}

func newSearch(ctx context.Context, target *Graph, stmts []Triple, limits Limits) *search {
	s := &search{
		ctx:     ctx,
		target:  target,
		limits:  limits,
		stmts:   stmts,
		uses:    make(map[Term][]int),
		mapping: make(map[Term]Term),
		used:    make(map[Term]bool),
	}
	for i, t := range stmts {
		for _, term := range [2]Term{t.S, t.O} {
			if !term.IsBlank() {
				continue
			}
			l, ok := s.uses[term]
			if !ok {
				s.blanks = append(s.blanks, term)
			}
			if len(l) == 0 || l[len(l)-1] != i {
				s.uses[term] = append(l, i)
			}
		}
	}
	return s
}

func (s *search) solve() (bool, error) {
	if len(s.mapping) == len(s.blanks) {
		return true, nil
	}

	var best Term
	var bestOpts []Term
	picked := false
	for _, b := range s.blanks {
		if _, ok := s.mapping[b]; ok {
			continue
		}
		opts, err := s.options(b)
		if err != nil {
			return false, err
		}
		if len(opts) == 0 {
			return false, nil
		}
		if !picked || len(opts) < len(bestOpts) {
			best, bestOpts, picked = b, opts, true
		}
	}

	for _, x := range bestOpts {
		s.mapping[best] = x
		s.used[x] = true
		ok, err := s.solve()
		if err != nil || ok {
			return ok, err
		}
		delete(s.mapping, best)
		delete(s.used, x)
	}
	return false, nil
}

// options lists the target blank nodes b can take given the current
// partial mapping, in ascending handle order.
func (s *search) options(b Term) ([]Term, error) {
	first := s.stmts[s.uses[b][0]]
	ps, pp, po := s.pattern(first)

	seen := make(map[Term]bool)
	var out []Term
	var err error
	s.target.each(ps, pp, po, func(t Triple) bool {
		if err = s.step(); err != nil {
			return false
		}
		bound, ok := s.fits(first, t)
		if !ok {
			return true
		}
		x := bound.lookup(b)
		if x.IsZero() || seen[x] {
			return true
		}
		seen[x] = true
		var good bool
		if good, err = s.consistent(b, x); err != nil {
			return false
		}
		if good {
			out = append(out, x)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].blank < out[j].blank })
	return out, nil
}

// consistent reports whether assigning b to x leaves every statement that
// mentions b satisfiable in the target.
func (s *search) consistent(b, x Term) (bool, error) {
	s.mapping[b] = x
	s.used[x] = true
	defer func() {
		delete(s.mapping, b)
		delete(s.used, x)
	}()

	for _, i := range s.uses[b] {
		if err := s.step(); err != nil {
			return false, err
		}
		stmt := s.stmts[i]
		ps, pp, po := s.pattern(stmt)
		found := false
		s.target.each(ps, pp, po, func(t Triple) bool {
			if _, ok := s.fits(stmt, t); ok {
				found = true
				return false
			}
			return true
		})
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// pattern turns a candidate statement into a lookup pattern: ground and
// assigned positions are fixed, unassigned blank positions are wildcards.
func (s *search) pattern(stmt Triple) (Term, Term, Term) {
	return s.fixed(stmt.S), stmt.P, s.fixed(stmt.O)
}

func (s *search) fixed(t Term) Term {
	if !t.IsBlank() {
		return t
	}
	return s.mapping[t]
}

type bindings struct {
	n    int
	from [2]Term
	to   [2]Term
}

func (b *bindings) lookup(t Term) Term {
	for i := 0; i < b.n; i++ {
		if b.from[i] == t {
			return b.to[i]
		}
	}
	return Term{}
}

// fits checks that target triple t is a legal image of stmt: ground terms
// equal, assigned blanks equal their images, unassigned blanks land on
// distinct unused target blank nodes.
func (s *search) fits(stmt, t Triple) (bindings, bool) {
	var b bindings
	if stmt.P != t.P {
		return b, false
	}
	for _, pair := range [2][2]Term{{stmt.S, t.S}, {stmt.O, t.O}} {
		c, v := pair[0], pair[1]
		if !c.IsBlank() {
			if c != v {
				return b, false
			}
			continue
		}
		if m, ok := s.mapping[c]; ok {
			if m != v {
				return b, false
			}
			continue
		}
		if !v.IsBlank() || s.used[v] {
			return b, false
		}
		if prev := b.lookup(c); !prev.IsZero() {
			if prev != v {
				return b, false
			}
			continue
		}
		for i := 0; i < b.n; i++ {
			if b.to[i] == v {
				return b, false
			}
		}
		b.from[b.n], b.to[b.n] = c, v
		b.n++
	}
	return b, true
}

func (s *search) image(t Triple) Triple {
	return Triple{S: s.fixed(t.S), P: t.P, O: s.fixed(t.O)}
}

func (s *search) step() error {
	s.steps++
	if s.limits.MaxSteps > 0 && s.steps > s.limits.MaxSteps {
		return errs.Errorf(errs.KindResourceExhausted, opFind,
			"subgraph search exceeded %d steps", s.limits.MaxSteps)
	}
	if s.steps%256 == 0 {
		if err := s.ctx.Err(); err != nil {
			return errs.E(errs.KindResourceExhausted, opFind, err)
		}
	}
	return nil
}
