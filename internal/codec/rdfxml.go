package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/systemshift/graphedit/internal/rdf"
)

const xmlNS = "http://www.w3.org/XML/1998/namespace"

// RDFXML is the application/rdf+xml codec, the default of the registry.
type RDFXML struct {
	Base string
}

func (RDFXML) MediaType() string { return MediaTypeRDFXML }
func (RDFXML) Aliases() []string { return []string{"application/xml", "text/xml"} }

func (c RDFXML) Decode(r io.Reader, s *Sink) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.Charset() == "" {
		if enc := declaredEncoding(src); enc != "" {
			if src, err = transcode(src, enc); err != nil {
				return &DecodeError{Line: 1, Err: errors.New("unsupported encoding " + strconv.Quote(enc))}
			}
		}
	}

	if err := checkUTF8(src); err != nil {
		return err
	}

	p := &xmlParser{src: src, sink: s, dec: xml.NewDecoder(bytes.NewReader(src))}
	// Input is UTF-8 by now whatever the prolog says.
	p.dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	ctx := xmlScope{}
	if c.Base != "" {
		u, err := url.Parse(c.Base)
		if err != nil {
			return err
		}
		ctx.base = u
	}
	return p.document(ctx)
}

// declaredEncoding extracts the encoding pseudo-attribute of an XML
// declaration.
func declaredEncoding(src []byte) string {
	if !bytes.HasPrefix(src, []byte("<?xml")) {
		return ""
	}
	end := bytes.Index(src, []byte("?>"))
	if end < 0 {
		return ""
	}
	decl := string(src[:end])
	i := strings.Index(decl, "encoding")
	if i < 0 {
		return ""
	}
	rest := strings.TrimLeft(decl[i+len("encoding"):], " \t\r\n")
	if !strings.HasPrefix(rest, "=") {
		return ""
	}
	rest = strings.TrimLeft(rest[1:], " \t\r\n")
	if rest == "" || (rest[0] != '"' && rest[0] != '\'') {
		return ""
	}
	q := rest[0]
	rest = rest[1:]
	if j := strings.IndexByte(rest, q); j >= 0 {
		return rest[:j]
	}
	return ""
}

type xmlScope struct {
	base *url.URL
	lang string
}

type xmlParser struct {
	src  []byte
	dec  *xml.Decoder
	sink *Sink
}

func (p *xmlParser) errorf(format string, args ...any) error {
	return syntaxErrorAt(p.src, int(p.dec.InputOffset()), format, args...)
}

func (p *xmlParser) next() (xml.Token, error) {
	tok, err := p.dec.Token()
	if err == nil {
		return tok, nil
	}
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return nil, &DecodeError{Line: se.Line, Err: errors.New(se.Msg)}
	}
	return nil, err
}

func (p *xmlParser) document(ctx xmlScope) error {
	for {
		tok, err := p.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if isRDF(se.Name, "RDF") {
			return p.nodeElementList(p.scope(ctx, se))
		}
		_, err = p.nodeElement(se, ctx)
		return err
	}
}

func (p *xmlParser) nodeElementList(ctx xmlScope) error {
	for {
		tok, err := p.next()
		if err != nil {
			return p.eof(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if _, err := p.nodeElement(t, ctx); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return p.errorf("unexpected text between node elements")
			}
		}
	}
}

func (p *xmlParser) nodeElement(se xml.StartElement, ctx xmlScope) (rdf.Term, error) {
	ctx = p.scope(ctx, se)
	subj, err := p.subjectOf(se, ctx)
	if err != nil {
		return rdf.Term{}, err
	}
	if !isRDF(se.Name, "Description") {
		typ, err := p.nameIRI(se.Name)
		if err != nil {
			return rdf.Term{}, err
		}
		if err := p.sink.Add(rdf.T(subj, rdf.IRI(rdf.RDFType), typ)); err != nil {
			return rdf.Term{}, err
		}
	}
	if err := p.propertyAttrs(subj, se, ctx); err != nil {
		return rdf.Term{}, err
	}
	return subj, p.propertyElements(subj, ctx)
}

func (p *xmlParser) subjectOf(se xml.StartElement, ctx xmlScope) (rdf.Term, error) {
	about, hasAbout := rdfAttr(se, "about")
	id, hasID := rdfAttr(se, "ID")
	nodeID, hasNodeID := rdfAttr(se, "nodeID")
	n := 0
	for _, b := range []bool{hasAbout, hasID, hasNodeID} {
		if b {
			n++
		}
	}
	if n > 1 {
		return rdf.Term{}, p.errorf("rdf:about, rdf:ID and rdf:nodeID are mutually exclusive")
	}
	switch {
	case hasAbout:
		return p.resolve(ctx, about)
	case hasID:
		return p.resolve(ctx, "#"+id)
	case hasNodeID:
		return p.sink.Blank(nodeID), nil
	default:
		return p.sink.NewBlank(), nil
	}
}

// propertyAttrs turns non-syntax attributes into statements about subj.
func (p *xmlParser) propertyAttrs(subj rdf.Term, se xml.StartElement, ctx xmlScope) error {
	for _, a := range se.Attr {
		if !isPropertyAttr(a.Name) {
			continue
		}
		pred, err := p.nameIRI(a.Name)
		if err != nil {
			return err
		}
		var obj rdf.Term
		switch {
		case pred.Value() == rdf.RDFType:
			if obj, err = p.resolve(ctx, a.Value); err != nil {
				return err
			}
		case ctx.lang != "":
			obj = rdf.LangLiteral(a.Value, ctx.lang)
		default:
			obj = rdf.Literal(a.Value)
		}
		if err := p.sink.Add(rdf.T(subj, pred, obj)); err != nil {
			return err
		}
	}
	return nil
}

func (p *xmlParser) propertyElements(subj rdf.Term, ctx xmlScope) error {
	li := 0
	for {
		tok, err := p.next()
		if err != nil {
			return p.eof(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.propertyElement(subj, t, ctx, &li); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return p.errorf("unexpected text between property elements")
			}
		}
	}
}

func (p *xmlParser) propertyElement(subj rdf.Term, se xml.StartElement, ctx xmlScope, li *int) error {
	ctx = p.scope(ctx, se)

	var pred rdf.Term
	if isRDF(se.Name, "li") {
		*li++
		pred = rdf.IRI(rdf.RDFNS + "_" + strconv.Itoa(*li))
	} else {
		var err error
		if pred, err = p.nameIRI(se.Name); err != nil {
			return err
		}
	}

	emit := func(obj rdf.Term) error {
		if err := p.sink.Add(rdf.T(subj, pred, obj)); err != nil {
			return err
		}
		if id, ok := rdfAttr(se, "ID"); ok {
			return p.reify(ctx, id, subj, pred, obj)
		}
		return nil
	}

	if parseType, ok := rdfAttr(se, "parseType"); ok {
		switch parseType {
		case "Resource":
			obj := p.sink.NewBlank()
			if err := emit(obj); err != nil {
				return err
			}
			return p.propertyElements(obj, ctx)
		case "Collection":
			items, err := p.collectionItems(ctx)
			if err != nil {
				return err
			}
			head, err := buildList(p.sink, items)
			if err != nil {
				return err
			}
			return emit(head)
		default:
			text, err := p.innerXML()
			if err != nil {
				return err
			}
			return emit(rdf.TypedLiteral(text, rdf.RDFXMLLiteral))
		}
	}

	var obj rdf.Term
	if res, ok := rdfAttr(se, "resource"); ok {
		var err error
		if obj, err = p.resolve(ctx, res); err != nil {
			return err
		}
	} else if nodeID, ok := rdfAttr(se, "nodeID"); ok {
		obj = p.sink.Blank(nodeID)
	} else if hasPropertyAttrs(se) {
		obj = p.sink.NewBlank()
	}
	if !obj.IsZero() {
		if err := p.propertyAttrs(obj, se, ctx); err != nil {
			return err
		}
		if err := p.expectEnd(); err != nil {
			return err
		}
		return emit(obj)
	}

	var text bytes.Buffer
	for {
		tok, err := p.next()
		if err != nil {
			return p.eof(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			if len(bytes.TrimSpace(text.Bytes())) > 0 {
				return p.errorf("mixed content in property element")
			}
			node, err := p.nodeElement(t, ctx)
			if err != nil {
				return err
			}
			if err := p.expectEnd(); err != nil {
				return err
			}
			return emit(node)
		case xml.EndElement:
			return emit(p.literal(se, ctx, text.String()))
		}
	}
}

func (p *xmlParser) literal(se xml.StartElement, ctx xmlScope, text string) rdf.Term {
	if dt, ok := rdfAttr(se, "datatype"); ok {
		if resolved, err := resolveIRI(ctx.base, dt); err == nil {
			dt = resolved
		}
		return rdf.TypedLiteral(text, dt)
	}
	if ctx.lang != "" {
		return rdf.LangLiteral(text, ctx.lang)
	}
	return rdf.Literal(text)
}

func (p *xmlParser) collectionItems(ctx xmlScope) ([]rdf.Term, error) {
	var items []rdf.Term
	for {
		tok, err := p.next()
		if err != nil {
			return nil, p.eof(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node, err := p.nodeElement(t, ctx)
			if err != nil {
				return nil, err
			}
			items = append(items, node)
		case xml.EndElement:
			return items, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return nil, p.errorf("unexpected text in collection")
			}
		}
	}
}

// innerXML returns the raw markup up to the end tag of the current element.
func (p *xmlParser) innerXML() (string, error) {
	start := p.dec.InputOffset()
	depth := 0
	for {
		before := p.dec.InputOffset()
		tok, err := p.next()
		if err != nil {
			return "", p.eof(err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return string(p.src[start:before]), nil
			}
			depth--
		}
	}
}

func (p *xmlParser) expectEnd() error {
	for {
		tok, err := p.next()
		if err != nil {
			return p.eof(err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return p.errorf("unexpected text, expected end of element")
			}
		case xml.StartElement:
			return p.errorf("unexpected element %s", t.Name.Local)
		}
	}
}

func (p *xmlParser) reify(ctx xmlScope, id string, s, pr, o rdf.Term) error {
	stmt, err := p.resolve(ctx, "#"+id)
	if err != nil {
		return err
	}
	for _, t := range []rdf.Triple{
		rdf.T(stmt, rdf.IRI(rdf.RDFType), rdf.IRI(rdf.RDFNS+"Statement")),
		rdf.T(stmt, rdf.IRI(rdf.RDFNS+"subject"), s),
		rdf.T(stmt, rdf.IRI(rdf.RDFNS+"predicate"), pr),
		rdf.T(stmt, rdf.IRI(rdf.RDFNS+"object"), o),
	} {
		if err := p.sink.Add(t); err != nil {
			return err
		}
	}
	return nil
}

func (p *xmlParser) scope(ctx xmlScope, se xml.StartElement) xmlScope {
	for _, a := range se.Attr {
		if a.Name.Space != xmlNS {
			continue
		}
		switch a.Name.Local {
		case "base":
			ref, err := url.Parse(a.Value)
			if err != nil {
				continue
			}
			if ctx.base != nil {
				ref = ctx.base.ResolveReference(ref)
			}
			ctx.base = ref
		case "lang":
			ctx.lang = strings.ToLower(a.Value)
		}
	}
	return ctx
}

func (p *xmlParser) resolve(ctx xmlScope, raw string) (rdf.Term, error) {
	iri, err := resolveIRI(ctx.base, raw)
	if err != nil {
		return rdf.Term{}, p.errorf("invalid IRI %q: %v", raw, err)
	}
	return rdf.IRI(iri), nil
}

func (p *xmlParser) nameIRI(n xml.Name) (rdf.Term, error) {
	if n.Space == "" {
		return rdf.Term{}, p.errorf("element or attribute %q has no namespace", n.Local)
	}
	return rdf.IRI(n.Space + n.Local), nil
}

func (p *xmlParser) eof(err error) error {
	if err == io.EOF {
		return p.errorf("unexpected end of document")
	}
	return err
}

func isRDF(n xml.Name, local string) bool {
	return n.Space == rdf.RDFNS && n.Local == local
}

func rdfAttr(se xml.StartElement, local string) (string, bool) {
	for _, a := range se.Attr {
		if isRDF(a.Name, local) {
			return a.Value, true
		}
	}
	return "", false
}

var syntaxAttrs = map[string]bool{
	"about": true, "ID": true, "nodeID": true, "resource": true,
	"datatype": true, "parseType": true, "bagID": true,
	"aboutEach": true, "aboutEachPrefix": true, "li": true,
}

func isPropertyAttr(n xml.Name) bool {
	switch {
	case n.Space == "", n.Space == "xmlns", n.Space == xmlNS:
		return false
	case n.Space == rdf.RDFNS:
		return !syntaxAttrs[n.Local]
	default:
		return true
	}
}

func hasPropertyAttrs(se xml.StartElement) bool {
	for _, a := range se.Attr {
		if isPropertyAttr(a.Name) {
			return true
		}
	}
	return false
}
