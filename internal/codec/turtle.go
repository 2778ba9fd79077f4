package codec

import (
	"io"
	"net/url"

	"github.com/systemshift/graphedit/internal/rdf"
)

// Turtle is the text/turtle codec. Base resolves relative IRIs when the
// document declares none.
type Turtle struct {
	Base string
}

func (Turtle) MediaType() string { return MediaTypeTurtle }
func (Turtle) Aliases() []string { return []string{"application/x-turtle"} }

func (c Turtle) Decode(r io.Reader, s *Sink) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := checkUTF8(src); err != nil {
		return err
	}
	p, err := newTurtleParser(src, s, c.Base)
	if err != nil {
		return err
	}
	return p.document()
}

type turtleParser struct {
	lex      turtleLexer
	tok      token
	sink     *Sink
	base     *url.URL
	prefixes map[string]string
}

func newTurtleParser(src []byte, s *Sink, base string) (*turtleParser, error) {
	p := &turtleParser{
		lex:      turtleLexer{src: src},
		sink:     s,
		prefixes: make(map[string]string),
	}
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, err
		}
		p.base = u
	}
	return p, nil
}

func (p *turtleParser) errorf(format string, args ...any) error {
	return p.lex.errorf(p.tok.off, format, args...)
}

func (p *turtleParser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *turtleParser) expect(k tokKind) error {
	if p.tok.kind != k {
		return p.errorf("expected %s, found %s", k, p.tok.kind)
	}
	return p.advance()
}

func (p *turtleParser) document() error {
	if err := p.advance(); err != nil {
		return err
	}
	for p.tok.kind != tokEOF {
		if err := p.statement(); err != nil {
			return err
		}
	}
	return nil
}

func (p *turtleParser) statement() error {
	switch p.tok.kind {
	case tokPrefix, tokSPARQLPrefix:
		sparql := p.tok.kind == tokSPARQLPrefix
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.prefixDecl(); err != nil {
			return err
		}
		if sparql {
			return nil
		}
		return p.expect(tokDot)
	case tokBase, tokSPARQLBase:
		sparql := p.tok.kind == tokSPARQLBase
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.baseDecl(); err != nil {
			return err
		}
		if sparql {
			return nil
		}
		return p.expect(tokDot)
	default:
		if err := p.triples(); err != nil {
			return err
		}
		return p.expect(tokDot)
	}
}

func (p *turtleParser) prefixDecl() error {
	if p.tok.kind != tokPName || p.tok.local != "" {
		return p.errorf("expected prefix name, found %s", p.tok.kind)
	}
	name := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokIRI {
		return p.errorf("expected IRI, found %s", p.tok.kind)
	}
	ns, err := p.resolve(p.tok.text)
	if err != nil {
		return err
	}
	p.prefixes[name] = ns
	return p.advance()
}

func (p *turtleParser) baseDecl() error {
	if p.tok.kind != tokIRI {
		return p.errorf("expected IRI, found %s", p.tok.kind)
	}
	iri, err := p.resolve(p.tok.text)
	if err != nil {
		return err
	}
	u, err := url.Parse(iri)
	if err != nil {
		return p.errorf("invalid base IRI %q", iri)
	}
	p.base = u
	return p.advance()
}

func (p *turtleParser) triples() error {
	if p.tok.kind == tokLBracket {
		subj, err := p.blankNodePropertyList()
		if err != nil {
			return err
		}
		if p.tok.kind == tokDot {
			return nil
		}
		return p.predicateObjectList(subj)
	}
	subj, err := p.subject()
	if err != nil {
		return err
	}
	return p.predicateObjectList(subj)
}

func (p *turtleParser) subject() (rdf.Term, error) {
	switch p.tok.kind {
	case tokIRI, tokPName:
		return p.iri()
	case tokBlank:
		b := p.sink.Blank(p.tok.text)
		return b, p.advance()
	case tokLParen:
		return p.collection()
	default:
		return rdf.Term{}, p.errorf("expected subject, found %s", p.tok.kind)
	}
}

func (p *turtleParser) predicateObjectList(subj rdf.Term) error {
	for {
		pred, err := p.verb()
		if err != nil {
			return err
		}
		if err := p.objectList(subj, pred); err != nil {
			return err
		}
		if p.tok.kind != tokSemicolon {
			return nil
		}
		for p.tok.kind == tokSemicolon {
			if err := p.advance(); err != nil {
				return err
			}
		}
		if p.tok.kind == tokDot || p.tok.kind == tokRBracket {
			return nil
		}
	}
}

func (p *turtleParser) verb() (rdf.Term, error) {
	switch p.tok.kind {
	case tokA:
		return rdf.IRI(rdf.RDFType), p.advance()
	case tokIRI, tokPName:
		return p.iri()
	default:
		return rdf.Term{}, p.errorf("expected predicate, found %s", p.tok.kind)
	}
}

func (p *turtleParser) objectList(subj, pred rdf.Term) error {
	for {
		obj, err := p.object()
		if err != nil {
			return err
		}
		if err := p.sink.Add(rdf.T(subj, pred, obj)); err != nil {
			return err
		}
		if p.tok.kind != tokComma {
			return nil
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
}

func (p *turtleParser) object() (rdf.Term, error) {
	switch p.tok.kind {
	case tokIRI, tokPName:
		return p.iri()
	case tokBlank:
		b := p.sink.Blank(p.tok.text)
		return b, p.advance()
	case tokLBracket:
		return p.blankNodePropertyList()
	case tokLParen:
		return p.collection()
	case tokString:
		return p.literal()
	case tokInteger:
		return p.typed(rdf.XSDInteger)
	case tokDecimal:
		return p.typed(rdf.XSDDecimal)
	case tokDouble:
		return p.typed(rdf.XSDDouble)
	case tokBoolean:
		return p.typed(rdf.XSDBoolean)
	default:
		return rdf.Term{}, p.errorf("expected object, found %s", p.tok.kind)
	}
}

func (p *turtleParser) typed(datatype string) (rdf.Term, error) {
	lit := rdf.TypedLiteral(p.tok.text, datatype)
	return lit, p.advance()
}

func (p *turtleParser) literal() (rdf.Term, error) {
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
		if p.tok.kind != tokIRI && p.tok.kind != tokPName {
			return rdf.Term{}, p.errorf("expected datatype IRI, found %s", p.tok.kind)
		}
		dt, err := p.iri()
		if err != nil {
			return rdf.Term{}, err
		}
		return rdf.TypedLiteral(value, dt.Value()), nil
	default:
		return rdf.Literal(value), nil
	}
}

func (p *turtleParser) blankNodePropertyList() (rdf.Term, error) {
	if err := p.advance(); err != nil {
		return rdf.Term{}, err
	}
	b := p.sink.NewBlank()
	if p.tok.kind == tokRBracket {
		return b, p.advance()
	}
	if err := p.predicateObjectList(b); err != nil {
		return rdf.Term{}, err
	}
	return b, p.expect(tokRBracket)
}

func (p *turtleParser) collection() (rdf.Term, error) {
	if err := p.advance(); err != nil {
		return rdf.Term{}, err
	}
	var items []rdf.Term
	for p.tok.kind != tokRParen {
		if p.tok.kind == tokEOF {
			return rdf.Term{}, p.errorf("unterminated collection")
		}
		item, err := p.object()
		if err != nil {
			return rdf.Term{}, err
		}
		items = append(items, item)
	}
	if err := p.advance(); err != nil {
		return rdf.Term{}, err
	}
	return buildList(p.sink, items)
}

// buildList writes an rdf:first/rdf:rest chain and returns its head.
func buildList(s *Sink, items []rdf.Term) (rdf.Term, error) {
	if len(items) == 0 {
		return rdf.IRI(rdf.RDFNil), nil
	}
	first, rest := rdf.IRI(rdf.RDFFirst), rdf.IRI(rdf.RDFRest)
	head := s.NewBlank()
	cur := head
	for i, item := range items {
		if err := s.Add(rdf.T(cur, first, item)); err != nil {
			return rdf.Term{}, err
		}
		next := rdf.IRI(rdf.RDFNil)
		if i < len(items)-1 {
			next = s.NewBlank()
		}
		if err := s.Add(rdf.T(cur, rest, next)); err != nil {
			return rdf.Term{}, err
		}
		cur = next
	}
	return head, nil
}

func (p *turtleParser) iri() (rdf.Term, error) {
	var iri string
	switch p.tok.kind {
	case tokIRI:
		resolved, err := p.resolve(p.tok.text)
		if err != nil {
			return rdf.Term{}, err
		}
		iri = resolved
	case tokPName:
		ns, ok := p.prefixes[p.tok.text]
		if !ok {
			return rdf.Term{}, p.errorf("undefined prefix %q", p.tok.text)
		}
		iri = ns + p.tok.local
	default:
		return rdf.Term{}, p.errorf("expected IRI, found %s", p.tok.kind)
	}
	return rdf.IRI(iri), p.advance()
}

func (p *turtleParser) resolve(raw string) (string, error) {
	iri, err := resolveIRI(p.base, raw)
	if err != nil {
		return "", p.errorf("%v", err)
	}
	return iri, nil
}

// resolveIRI resolves raw against base. Absolute IRIs are returned
// unchanged, relative ones stay relative when there is no base.
func resolveIRI(base *url.URL, raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() || base == nil {
		return raw, nil
	}
	return base.ResolveReference(ref).String(), nil
}
