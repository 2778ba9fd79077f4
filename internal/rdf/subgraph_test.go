package rdf

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/systemshift/graphedit/internal/errors"
)

// scenarioTarget builds {(ex:a ex:p "1"), (ex:a ex:q _:b1), (_:b1 ex:r "x")}.
func scenarioTarget() (*Graph, Term) {
	g := NewGraph()
	b1 := g.NewBlank()
	g.AddAll([]Triple{
		T(ex("a"), ex("p"), Literal("1")),
		T(ex("a"), ex("q"), b1),
		T(b1, ex("r"), Literal("x")),
	})
	return g, b1
}

func TestRemoveExactSubgraphGroundContainment(t *testing.T) {
	base := []Triple{
		T(ex("a"), ex("p"), Literal("1")),
		T(ex("a"), ex("p"), Literal("2")),
		T(ex("b"), ex("p"), ex("a")),
	}

	tests := []struct {
		name      string
		candidate []Triple
		wantErr   bool
		remaining []Triple
	}{
		{
			name:      "empty candidate",
			candidate: nil,
			remaining: base,
		},
		{
			name:      "single statement",
			candidate: base[1:2],
			remaining: []Triple{base[0], base[2]},
		},
		{
			name:      "whole graph",
			candidate: base,
			remaining: nil,
		},
		{
			name:      "one missing statement rejects all",
			candidate: []Triple{base[0], T(ex("a"), ex("p"), Literal("3"))},
			wantErr:   true,
			remaining: base,
		},
		{
			name:      "literal datatype matters",
			candidate: []Triple{T(ex("a"), ex("p"), TypedLiteral("1", XSDInteger))},
			wantErr:   true,
			remaining: base,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := NewGraph()
			target.AddAll(base)
			candidate := NewGraph()
			candidate.AddAll(tt.candidate)

			err := RemoveExactSubgraph(context.Background(), target, candidate, DefaultLimits)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNoSuchSubgraph)
				assert.Equal(t, errs.KindNoSuchSubgraph, errs.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.ElementsMatch(t, tt.remaining, target.Triples())
		})
	}
}

func TestRemoveExactSubgraphUnifiesBlankNodes(t *testing.T) {
	target, _ := scenarioTarget()

	revoke := NewGraph()
	x := revoke.Blank("x")
	revoke.AddAll([]Triple{
		T(ex("a"), ex("q"), x),
		T(x, ex("r"), Literal("x")),
	})

	require.NoError(t, RemoveExactSubgraph(context.Background(), target, revoke, DefaultLimits))
	assert.Equal(t, []Triple{T(ex("a"), ex("p"), Literal("1"))}, target.Triples())
}

func TestRemoveExactSubgraphPredicateMismatchLeavesTarget(t *testing.T) {
	target, _ := scenarioTarget()
	before := target.Triples()

	revoke := NewGraph()
	x := revoke.Blank("x")
	revoke.AddAll([]Triple{
		T(ex("a"), ex("q"), x),
		T(x, ex("s"), Literal("x")),
	})

	err := RemoveExactSubgraph(context.Background(), target, revoke, DefaultLimits)
	assert.ErrorIs(t, err, ErrNoSuchSubgraph)
	assert.Equal(t, before, target.Triples())
}

func TestFindSubgraphIsInjective(t *testing.T) {
	target := NewGraph()
	loop := target.NewBlank()
	target.Add(T(loop, ex("p"), loop))

	candidate := NewGraph()
	x, y := candidate.NewBlank(), candidate.NewBlank()
	candidate.Add(T(x, ex("p"), y))

	_, err := FindSubgraph(context.Background(), target, candidate, DefaultLimits)
	assert.ErrorIs(t, err, ErrNoSuchSubgraph, "two candidate nodes cannot share one target node")
}

func TestFindSubgraphBlankDoesNotMatchIRI(t *testing.T) {
	target := NewGraph()
	target.Add(T(ex("a"), ex("q"), ex("b")))

	candidate := NewGraph()
	candidate.Add(T(ex("a"), ex("q"), candidate.NewBlank()))

	_, err := FindSubgraph(context.Background(), target, candidate, DefaultLimits)
	assert.ErrorIs(t, err, ErrNoSuchSubgraph)
}

func TestFindSubgraphRemovesOnlyTheMatchedImage(t *testing.T) {
	target := NewGraph()
	first, second := target.NewBlank(), target.NewBlank()
	target.AddAll([]Triple{
		T(ex("a"), ex("q"), first),
		T(first, ex("r"), Literal("x")),
		T(ex("a"), ex("q"), second),
		T(second, ex("r"), Literal("x")),
		T(second, ex("extra"), Literal("kept")),
	})

	candidate := NewGraph()
	x := candidate.NewBlank()
	candidate.AddAll([]Triple{
		T(ex("a"), ex("q"), x),
		T(x, ex("r"), Literal("x")),
	})

	m, err := FindSubgraph(context.Background(), target, candidate, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, first, m.Mapping[x], "lowest handle wins among equal choices")

	// Same inputs, same choice.
	again, err := FindSubgraph(context.Background(), target.Clone(), candidate, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, m.Statements, again.Statements)

	require.NoError(t, RemoveExactSubgraph(context.Background(), target, candidate, DefaultLimits))
	assert.Equal(t, 3, target.Len())
	assert.True(t, target.Contains(T(ex("a"), ex("q"), second)))
	assert.True(t, target.Contains(T(second, ex("r"), Literal("x"))))
	assert.True(t, target.Contains(T(second, ex("extra"), Literal("kept"))))
}

func TestFindSubgraphPrefersConstrainedNode(t *testing.T) {
	// Only the second blank node carries ex:extra, so the candidate
	// which requires it must bind there even though it is not first.
	target := NewGraph()
	first, second := target.NewBlank(), target.NewBlank()
	target.AddAll([]Triple{
		T(ex("a"), ex("q"), first),
		T(ex("a"), ex("q"), second),
		T(second, ex("extra"), Literal("v")),
	})

	candidate := NewGraph()
	x := candidate.NewBlank()
	candidate.AddAll([]Triple{
		T(ex("a"), ex("q"), x),
		T(x, ex("extra"), Literal("v")),
	})

	m, err := FindSubgraph(context.Background(), target, candidate, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, second, m.Mapping[x])
}

func TestFindSubgraphChainsAndCycles(t *testing.T) {
	target := NewGraph()
	n := make([]Term, 4)
	for i := range n {
		n[i] = target.NewBlank()
	}
	for i := range n {
		target.Add(T(n[i], ex("next"), n[(i+1)%len(n)]))
	}

	cycle := NewGraph()
	c := make([]Term, 4)
	for i := range c {
		c[i] = cycle.NewBlank()
	}
	for i := range c {
		cycle.Add(T(c[i], ex("next"), c[(i+1)%len(c)]))
	}
	assert.True(t, Isomorphic(target, cycle))

	triangle := NewGraph()
	tri := []Term{triangle.NewBlank(), triangle.NewBlank(), triangle.NewBlank()}
	for i := range tri {
		triangle.Add(T(tri[i], ex("next"), tri[(i+1)%len(tri)]))
	}
	_, err := FindSubgraph(context.Background(), target, triangle, DefaultLimits)
	assert.ErrorIs(t, err, ErrNoSuchSubgraph, "a 3-cycle does not embed into a 4-cycle")
}

func TestFindSubgraphLimits(t *testing.T) {
	target := NewGraph()
	candidate := NewGraph()
	var targetNodes, candNodes []Term
	for i := 0; i < 12; i++ {
		targetNodes = append(targetNodes, target.NewBlank())
		candNodes = append(candNodes, candidate.NewBlank())
	}
	// Every target node looks alike, so each candidate node has twelve
	// possible images to examine.
	for i, a := range targetNodes {
		target.Add(T(a, ex("type"), ex("Thing")))
		target.Add(T(a, ex("id"), Literal(fmt.Sprint(i))))
	}
	for _, c := range candNodes {
		candidate.Add(T(c, ex("type"), ex("Thing")))
	}
	candidate.Add(T(candNodes[0], ex("missing"), candNodes[1]))

	t.Run("step budget", func(t *testing.T) {
		_, err := FindSubgraph(context.Background(), target, candidate, Limits{MaxSteps: 10})
		require.Error(t, err)
		assert.Equal(t, errs.KindResourceExhausted, errs.KindOf(err))
	})

	t.Run("statement budget", func(t *testing.T) {
		_, err := FindSubgraph(context.Background(), target, candidate, Limits{MaxStatements: 3})
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrResourceExhausted)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := FindSubgraph(ctx, target, candidate, Unlimited)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFindSubgraphDoesNotMutate(t *testing.T) {
	target, _ := scenarioTarget()
	before := Freeze(target)

	candidate := NewGraph()
	x := candidate.NewBlank()
	candidate.Add(T(ex("a"), ex("q"), x))

	_, err := FindSubgraph(context.Background(), target, candidate, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, before.Triples(), target.Triples())
}
