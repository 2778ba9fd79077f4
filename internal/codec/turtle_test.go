package codec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/systemshift/graphedit/internal/errors"
	"github.com/systemshift/graphedit/internal/rdf"
)

const turtleDoc = `@base <http://example.org/> .
@prefix ex: <http://example.org/ns#> .
PREFIX foaf: <http://xmlns.com/foaf/0.1/>

<alice> a foaf:Person ;
    foaf:name "Alice"@EN, 'Alicia' ;
    ex:age 42 ;
    ex:height 1.68 ;
    ex:ratio 1e3 ;
    ex:member true ;
    ex:knows [ foaf:name """Bob
"the" builder""" ] ;
    ex:list ( 1 <bob> _:c ) ;
    ex:empty () .
_:c ex:label "cé"^^ex:custom . # trailing comment
`

func TestTurtleDecode(t *testing.T) {
	reg := Default(DefaultLimits)
	g, err := reg.DecodeString(context.Background(), turtleDoc, MediaTypeTurtle)
	require.NoError(t, err)

	alice := ex("alice")
	exns := func(l string) rdf.Term { return rdf.IRI("http://example.org/ns#" + l) }
	foafName := rdf.IRI("http://xmlns.com/foaf/0.1/name")

	for _, tr := range []rdf.Triple{
		rdf.T(alice, rdf.IRI(rdf.RDFType), rdf.IRI("http://xmlns.com/foaf/0.1/Person")),
		rdf.T(alice, foafName, rdf.LangLiteral("Alice", "en")),
		rdf.T(alice, foafName, rdf.Literal("Alicia")),
		rdf.T(alice, exns("age"), rdf.TypedLiteral("42", rdf.XSDInteger)),
		rdf.T(alice, exns("height"), rdf.TypedLiteral("1.68", rdf.XSDDecimal)),
		rdf.T(alice, exns("ratio"), rdf.TypedLiteral("1e3", rdf.XSDDouble)),
		rdf.T(alice, exns("member"), rdf.TypedLiteral("true", rdf.XSDBoolean)),
		rdf.T(alice, exns("empty"), rdf.IRI(rdf.RDFNil)),
	} {
		assert.True(t, g.Contains(tr), "missing %s", tr)
	}
	assert.Equal(t, 18, g.Len())

	knows := g.Filter(alice, exns("knows"), rdf.Term{})
	require.Len(t, knows, 1)
	bob := knows[0].O
	assert.True(t, bob.IsBlank())
	assert.True(t, g.Contains(rdf.T(bob, foafName, rdf.Literal("Bob\n\"the\" builder"))))

	list := g.Filter(alice, exns("list"), rdf.Term{})
	require.Len(t, list, 1)
	items := walkList(t, g, list[0].O)
	require.Len(t, items, 3)
	assert.Equal(t, rdf.TypedLiteral("1", rdf.XSDInteger), items[0])
	assert.Equal(t, ex("bob"), items[1])
	assert.True(t, g.Contains(rdf.T(items[2], exns("label"), rdf.TypedLiteral("cé", "http://example.org/ns#custom"))),
		"_:c in the list and as a subject is one node")
}

func walkList(t *testing.T, g *rdf.Graph, head rdf.Term) []rdf.Term {
	t.Helper()
	var out []rdf.Term
	for head != rdf.IRI(rdf.RDFNil) {
		first := g.Filter(head, rdf.IRI(rdf.RDFFirst), rdf.Term{})
		rest := g.Filter(head, rdf.IRI(rdf.RDFRest), rdf.Term{})
		require.Len(t, first, 1)
		require.Len(t, rest, 1)
		out = append(out, first[0].O)
		head = rest[0].O
	}
	return out
}

func TestTurtleBlankNodePropertyListSubject(t *testing.T) {
	reg := Default(DefaultLimits)
	g, err := reg.DecodeString(context.Background(),
		`[ <http://example.org/p> "v" ] . [] <http://example.org/q> "w" .`, MediaTypeTurtle)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
	assert.Len(t, g.BlankNodes(), 2)
}

func TestTurtleDecodeErrors(t *testing.T) {
	reg := Default(DefaultLimits)

	tests := []struct {
		name string
		doc  string
	}{
		{name: "undefined prefix", doc: `ex:a ex:p ex:o .`},
		{name: "unterminated string", doc: `<http://e/a> <http://e/p> "open .`},
		{name: "missing object", doc: `<http://e/a> <http://e/p> .`},
		{name: "missing terminator", doc: `<http://e/a> <http://e/p> <http://e/o>`},
		{name: "literal subject", doc: `"s" <http://e/p> <http://e/o> .`},
		{name: "bad escape", doc: `<http://e/a> <http://e/p> "\q" .`},
		{name: "space in IRI", doc: `<http://e/a b> <http://e/p> "x" .`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.DecodeString(context.Background(), tt.doc, MediaTypeTurtle)
			require.Error(t, err)
			assert.Equal(t, errs.KindDecode, errs.KindOf(err))
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, 1, de.Line)
		})
	}
}

func TestTurtleEncodeUsesPrefixes(t *testing.T) {
	g := rdf.NewGraph()
	g.Add(rdf.T(ex("a"), rdf.IRI(rdf.RDFType), rdf.IRI("http://xmlns.com/foaf/0.1/Person")))
	g.Add(rdf.T(ex("a"), ex("n"), rdf.TypedLiteral("3", rdf.XSDInteger)))

	out, err := Default(DefaultLimits).EncodeString(g, MediaTypeTurtle)
	require.NoError(t, err)
	assert.Contains(t, out, "@prefix foaf: <http://xmlns.com/foaf/0.1/> .")
	assert.Contains(t, out, "@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .")
	assert.Contains(t, out, "<http://example.org/a> a foaf:Person ;")
	assert.Contains(t, out, `"3"^^xsd:integer .`)
}

func TestNTriplesDecode(t *testing.T) {
	doc := `# comment
<http://example.org/a> <http://example.org/p> "x\ty"@en-GB .
_:n1 <http://example.org/p> "7"^^<http://www.w3.org/2001/XMLSchema#integer> .

<http://example.org/a> <http://example.org/q> _:n1 .
`
	g, err := Default(DefaultLimits).DecodeString(context.Background(), doc, MediaTypeNTriples)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.True(t, g.Contains(rdf.T(ex("a"), ex("p"), rdf.LangLiteral("x\ty", "en-gb"))))

	q := g.Filter(ex("a"), ex("q"), rdf.Term{})
	require.Len(t, q, 1)
	assert.True(t, g.Contains(rdf.T(q[0].O, ex("p"), rdf.TypedLiteral("7", rdf.XSDInteger))))
}

func TestNTriplesRejectsTurtleShorthand(t *testing.T) {
	_, err := Default(DefaultLimits).DecodeString(context.Background(),
		`<http://example.org/a> a <http://example.org/T> .`, MediaTypeNTriples)
	assert.ErrorIs(t, err, errs.ErrDecode)
}
