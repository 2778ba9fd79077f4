package codec

import (
	"bufio"
	"io"

	"github.com/systemshift/graphedit/internal/rdf"
)

// NTriples is the line based application/n-triples codec.
type NTriples struct{}

func (NTriples) MediaType() string { return MediaTypeNTriples }
func (NTriples) Aliases() []string { return []string{"text/plain"} }

func (NTriples) Decode(r io.Reader, s *Sink) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := checkUTF8(src); err != nil {
		return err
	}
	p := &turtleParser{lex: turtleLexer{src: src}, sink: s}
	if err := p.advance(); err != nil {
		return err
	}
	for p.tok.kind != tokEOF {
		if err := p.ntriple(); err != nil {
			return err
		}
	}
	return nil
}

func (p *turtleParser) ntriple() error {
	t, err := p.ntTerms()
	if err != nil {
		return err
	}
	if err := p.expect(tokDot); err != nil {
		return err
	}
	return p.sink.Add(t)
}

// ntTerms reads subject, predicate and object and leaves the lexer on the
// token after the object.
func (p *turtleParser) ntTerms() (rdf.Triple, error) {
	var subj rdf.Term
	switch p.tok.kind {
	case tokIRI:
		subj = rdf.IRI(p.tok.text)
	case tokBlank:
		subj = p.sink.Blank(p.tok.text)
	default:
		return rdf.Triple{}, p.errorf("expected subject, found %s", p.tok.kind)
	}
	if err := p.advance(); err != nil {
		return rdf.Triple{}, err
	}

	if p.tok.kind != tokIRI {
		return rdf.Triple{}, p.errorf("expected predicate IRI, found %s", p.tok.kind)
	}
	pred := rdf.IRI(p.tok.text)
	if err := p.advance(); err != nil {
		return rdf.Triple{}, err
	}

	var obj rdf.Term
	switch p.tok.kind {
	case tokIRI:
		obj = rdf.IRI(p.tok.text)
	case tokBlank:
		obj = p.sink.Blank(p.tok.text)
	case tokString:
		lit, err := p.ntLiteral()
		if err != nil {
			return rdf.Triple{}, err
		}
		return rdf.T(subj, pred, lit), nil
	default:
		return rdf.Triple{}, p.errorf("expected object, found %s", p.tok.kind)
	}
	return rdf.T(subj, pred, obj), p.advance()
}

// ntLiteral reads a literal and leaves the lexer on the following token.
// Datatypes must be absolute IRIs.
func (p *turtleParser) ntLiteral() (rdf.Term, error) {
	value := p.tok.text
	if err := p.advance(); err != nil {
		return rdf.Term{}, err
	}
	switch p.tok.kind {
	case tokLangTag:
		lit := rdf.LangLiteral(value, p.tok.text)
		return lit, p.advance()
	case tokDatatype:
		if err := p.advance(); err != nil {
			return rdf.Term{}, err
		}
		if p.tok.kind != tokIRI {
			return rdf.Term{}, p.errorf("expected datatype IRI, found %s", p.tok.kind)
		}
		lit := rdf.TypedLiteral(value, p.tok.text)
		return lit, p.advance()
	default:
		return rdf.Literal(value), nil
	}
}

func (NTriples) Encode(w io.Writer, g *rdf.Graph) error {
	bw := bufio.NewWriter(w)
	for _, t := range g.Triples() {
		if _, err := bw.WriteString(t.String() + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
