package codec

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/systemshift/graphedit/internal/rdf"
)

type xmlNamespaces struct {
	prefixes map[string]string
	order    []string
}

func (n *xmlNamespaces) prefix(ns string) string {
	if p, ok := n.prefixes[ns]; ok {
		return p
	}
	p := ""
	for name, known := range wellKnownPrefixes {
		if known == ns {
			p = name
			break
		}
	}
	if p == "" {
		p = fmt.Sprintf("ns%d", len(n.order))
	}
	n.prefixes[ns] = p
	n.order = append(n.order, ns)
	return p
}

// splitIRI splits iri into a namespace and the longest NCName suffix.
func splitIRI(iri string) (string, string, bool) {
	i := len(iri)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(iri[:i])
		if !isNCNameRune(r) {
			break
		}
		i -= size
	}
	for i < len(iri) {
		r, size := utf8.DecodeRuneInString(iri[i:])
		if r == '_' || unicode.IsLetter(r) {
			break
		}
		i += size
	}
	if i == 0 || i >= len(iri) {
		return "", "", false
	}
	return iri[:i], iri[i:], true
}

func isNCNameRune(r rune) bool {
	return r == '_' || r == '-' || r == '.' || r == 0xB7 ||
		unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// isXMLChar reports whether r matches the XML 1.0 Char production.
func isXMLChar(r rune) bool {
	return r == 0x9 || r == 0xA || r == 0xD ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}

// checkXMLChars fails for terms that RDF/XML cannot carry without loss.
func checkXMLChars(t rdf.Term) error {
	for _, s := range []string{t.Value(), t.Lang(), t.Datatype()} {
		for _, r := range s {
			if !isXMLChar(r) {
				return fmt.Errorf("rdfxml: %s contains %U, which XML cannot represent", t, r)
			}
		}
	}
	return nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func (RDFXML) Encode(w io.Writer, g *rdf.Graph) error {
	ns := &xmlNamespaces{prefixes: map[string]string{rdf.RDFNS: "rdf"}, order: []string{rdf.RDFNS}}
	triples := g.Triples()
	for _, t := range triples {
		for _, term := range []rdf.Term{t.S, t.P, t.O} {
			if err := checkXMLChars(term); err != nil {
				return err
			}
		}
	}
	groups := groupBySubject(triples)

	qnames := make(map[rdf.Term]string)
	for _, sg := range groups {
		for _, pg := range sg.predicates {
			if _, ok := qnames[pg.predicate]; ok {
				continue
			}
			space, local, ok := splitIRI(pg.predicate.Value())
			if !ok {
				return fmt.Errorf("rdfxml: predicate %s has no XML qualified name", pg.predicate)
			}
			qnames[pg.predicate] = ns.prefix(space) + ":" + local
		}
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<rdf:RDF")
	for _, space := range ns.order {
		fmt.Fprintf(bw, "\n    xmlns:%s=\"%s\"", ns.prefixes[space], xmlEscape(space))
	}
	bw.WriteString(">\n")

	for _, sg := range groups {
		bw.WriteString("  <rdf:Description ")
		bw.WriteString(nodeAttr("about", sg.subject))
		bw.WriteString(">\n")
		for _, pg := range sg.predicates {
			qn := qnames[pg.predicate]
			for _, o := range pg.objects {
				bw.WriteString("    <" + qn)
				switch {
				case o.IsIRI(), o.IsBlank():
					bw.WriteString(" " + nodeAttr("resource", o) + "/>\n")
					continue
				case o.Lang() != "":
					bw.WriteString(` xml:lang="` + xmlEscape(o.Lang()) + `"`)
				case o.Datatype() != rdf.XSDString:
					bw.WriteString(` rdf:datatype="` + xmlEscape(o.Datatype()) + `"`)
				}
				bw.WriteString(">" + xmlEscape(o.Value()) + "</" + qn + ">\n")
			}
		}
		bw.WriteString("  </rdf:Description>\n")
	}
	bw.WriteString("</rdf:RDF>\n")
	return bw.Flush()
}

// nodeAttr renders an IRI as rdf:<iriAttr> and a blank node as rdf:nodeID.
func nodeAttr(iriAttr string, t rdf.Term) string {
	if t.IsBlank() {
		return `rdf:nodeID="` + t.Label() + `"`
	}
	return "rdf:" + iriAttr + `="` + xmlEscape(t.Value()) + `"`
}
