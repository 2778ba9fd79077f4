// Package rdf holds the in-memory graph model used by the editor: terms,
// triples, mutable graphs with graph-local blank nodes, frozen snapshots,
// and the subgraph matcher that drives retraction.
package rdf

import (
	"strconv"
	"strings"
)

// Well-known vocabulary IRIs.
const (
	RDFNS         = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	XSDNS         = "http://www.w3.org/2001/XMLSchema#"
	RDFType       = RDFNS + "type"
	RDFFirst      = RDFNS + "first"
	RDFRest       = RDFNS + "rest"
	RDFNil        = RDFNS + "nil"
	RDFLangString = RDFNS + "langString"
	RDFXMLLiteral = RDFNS + "XMLLiteral"
	XSDString     = XSDNS + "string"
	XSDInteger    = XSDNS + "integer"
	XSDDecimal    = XSDNS + "decimal"
	XSDDouble     = XSDNS + "double"
	XSDBoolean    = XSDNS + "boolean"
)

// TermKind identifies the kind of an RDF term.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermIRI
	TermBlank
	TermLiteral
)

func (k TermKind) String() string {
	switch k {
	case TermIRI:
		return "iri"
	case TermBlank:
		return "blank"
	case TermLiteral:
		return "literal"
	default:
		return "none"
	}
}

// Term is an IRI, a blank node or a literal. Terms are comparable values and
// can be used as map keys. The zero Term matches anything in Filter.
//
// A blank node is a numeric handle allocated by a Graph. Two blank terms with
// the same handle taken from different graphs are unrelated; only the
// subgraph matcher relates blank nodes across graphs.
type Term struct {
	kind     TermKind
	value    string
	datatype string
	lang     string
	blank    uint64
}

// IRI returns an IRI term.
func IRI(value string) Term {
	return Term{kind: TermIRI, value: value}
}

// Literal returns a plain literal (datatype xsd:string).
func Literal(lexical string) Term {
	return Term{kind: TermLiteral, value: lexical}
}

// TypedLiteral returns a literal with a datatype. xsd:string collapses to a
// plain literal so that both spellings compare equal.
func TypedLiteral(lexical, datatype string) Term {
	if datatype == XSDString {
		datatype = ""
	}
	return Term{kind: TermLiteral, value: lexical, datatype: datatype}
}

// LangLiteral returns a language tagged literal. Tags are case-insensitive
// and stored lower-cased.
func LangLiteral(lexical, lang string) Term {
	return Term{kind: TermLiteral, value: lexical, lang: strings.ToLower(lang)}
}

// Kind returns the term kind.
func (t Term) Kind() TermKind { return t.kind }

// IsZero reports whether t is the zero (wildcard) term.
func (t Term) IsZero() bool { return t.kind == TermNone }

func (t Term) IsIRI() bool     { return t.kind == TermIRI }
func (t Term) IsBlank() bool   { return t.kind == TermBlank }
func (t Term) IsLiteral() bool { return t.kind == TermLiteral }

// Value returns the IRI or the lexical form of a literal.
func (t Term) Value() string { return t.value }

// Datatype returns the literal datatype IRI. Plain literals report
// xsd:string and language tagged literals rdf:langString.
func (t Term) Datatype() string {
	if t.kind != TermLiteral {
		return ""
	}
	switch {
	case t.lang != "":
		return RDFLangString
	case t.datatype == "":
		return XSDString
	default:
		return t.datatype
	}
}

// Lang returns the language tag of a literal, or "".
func (t Term) Lang() string { return t.lang }

// BlankID returns the graph-local handle of a blank node, or 0.
func (t Term) BlankID() uint64 {
	if t.kind != TermBlank {
		return 0
	}
	return t.blank
}

// Label returns the persisted label of a blank node ("b12").
func (t Term) Label() string {
	return "b" + strconv.FormatUint(t.blank, 10)
}

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.kind {
	case TermIRI:
		return "<" + escapeIRI(t.value) + ">"
	case TermBlank:
		return "_:" + t.Label()
	case TermLiteral:
		s := `"` + EscapeString(t.value) + `"`
		if t.lang != "" {
			return s + "@" + t.lang
		}
		if t.datatype != "" {
			return s + "^^<" + escapeIRI(t.datatype) + ">"
		}
		return s
	default:
		return ""
	}
}

// EscapeString escapes a literal lexical form for N-Triples and Turtle.
func EscapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 || r == 0x7f {
				b.WriteString(`\u`)
				h := strconv.FormatInt(int64(r), 16)
				b.WriteString(strings.Repeat("0", 4-len(h)))
				b.WriteString(strings.ToUpper(h))
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeIRI(s string) string {
	if !strings.ContainsAny(s, "<>\"{}|^`\\ ") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '<', '>', '"', '{', '}', '|', '^', '`', '\\', ' ':
			h := strconv.FormatInt(int64(r), 16)
			b.WriteString(`\u00`)
			if len(h) < 2 {
				b.WriteByte('0')
			}
			b.WriteString(strings.ToUpper(h))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Triple is an RDF statement.
type Triple struct {
	S, P, O Term
}

// T is shorthand for building a triple.
func T(s, p, o Term) Triple {
	return Triple{S: s, P: p, O: o}
}

// HasBlank reports whether the subject or object is a blank node.
func (t Triple) HasBlank() bool {
	return t.S.IsBlank() || t.O.IsBlank()
}

// Valid reports whether the triple has a legal shape: IRI or blank subject,
// IRI predicate, non-zero object.
func (t Triple) Valid() bool {
	return (t.S.IsIRI() || t.S.IsBlank()) && t.P.IsIRI() && !t.O.IsZero()
}

// String renders the triple as an N-Triples line without the newline.
func (t Triple) String() string {
	return t.S.String() + " " + t.P.String() + " " + t.O.String() + " ."
}
