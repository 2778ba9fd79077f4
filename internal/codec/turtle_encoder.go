package codec

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/systemshift/graphedit/internal/rdf"
)

// wellKnownPrefixes are abbreviated in Turtle output when used.
var wellKnownPrefixes = map[string]string{
	"rdf":     rdf.RDFNS,
	"rdfs":    "http://www.w3.org/2000/01/rdf-schema#",
	"xsd":     rdf.XSDNS,
	"owl":     "http://www.w3.org/2002/07/owl#",
	"dc":      "http://purl.org/dc/elements/1.1/",
	"dcterms": "http://purl.org/dc/terms/",
	"foaf":    "http://xmlns.com/foaf/0.1/",
	"skos":    "http://www.w3.org/2004/02/skos/core#",
}

var simpleLocal = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

type turtleWriter struct {
	w    *bufio.Writer
	used map[string]bool
}

// qname abbreviates iri with a well-known prefix when the local part needs
// no escaping.
func qname(iri string) (string, string, bool) {
	for prefix, ns := range wellKnownPrefixes {
		if local, ok := strings.CutPrefix(iri, ns); ok && simpleLocal.MatchString(local) {
			return prefix, local, true
		}
	}
	return "", "", false
}

func (tw *turtleWriter) iri(v string) string {
	if prefix, local, ok := qname(v); ok {
		tw.used[prefix] = true
		return prefix + ":" + local
	}
	return rdf.IRI(v).String()
}

func (tw *turtleWriter) term(t rdf.Term) string {
	switch {
	case t.IsIRI():
		return tw.iri(t.Value())
	case t.IsLiteral():
		s := `"` + rdf.EscapeString(t.Value()) + `"`
		switch dt := t.Datatype(); {
		case t.Lang() != "":
			return s + "@" + t.Lang()
		case dt != rdf.XSDString:
			return s + "^^" + tw.iri(dt)
		}
		return s
	default:
		return t.String()
	}
}

func (Turtle) Encode(w io.Writer, g *rdf.Graph) error {
	tw := &turtleWriter{used: make(map[string]bool)}

	var body strings.Builder
	for _, group := range groupBySubject(g.Triples()) {
		body.WriteString(tw.term(group.subject))
		for i, pg := range group.predicates {
			if i > 0 {
				body.WriteString(" ;\n   ")
			}
			body.WriteByte(' ')
			if pg.predicate.Value() == rdf.RDFType {
				body.WriteString("a")
			} else {
				body.WriteString(tw.iri(pg.predicate.Value()))
			}
			for j, o := range pg.objects {
				if j > 0 {
					body.WriteString(" ,")
				}
				body.WriteByte(' ')
				body.WriteString(tw.term(o))
			}
		}
		body.WriteString(" .\n")
	}

	bw := bufio.NewWriter(w)
	prefixes := make([]string, 0, len(tw.used))
	for p := range tw.used {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		bw.WriteString("@prefix " + p + ": " + rdf.IRI(wellKnownPrefixes[p]).String() + " .\n")
	}
	if len(prefixes) > 0 && body.Len() > 0 {
		bw.WriteByte('\n')
	}
	bw.WriteString(body.String())
	return bw.Flush()
}

type predicateGroup struct {
	predicate rdf.Term
	objects   []rdf.Term
}

type subjectGroup struct {
	subject    rdf.Term
	predicates []*predicateGroup
}

// groupBySubject keeps first-appearance order of subjects and of predicates
// within a subject.
func groupBySubject(ts []rdf.Triple) []*subjectGroup {
	var out []*subjectGroup
	bySubject := make(map[rdf.Term]*subjectGroup)
	byPredicate := make(map[[2]rdf.Term]*predicateGroup)
	for _, t := range ts {
		sg, ok := bySubject[t.S]
		if !ok {
			sg = &subjectGroup{subject: t.S}
			bySubject[t.S] = sg
			out = append(out, sg)
		}
		key := [2]rdf.Term{t.S, t.P}
		pg, ok := byPredicate[key]
		if !ok {
			pg = &predicateGroup{predicate: t.P}
			byPredicate[key] = pg
			sg.predicates = append(sg.predicates, pg)
		}
		pg.objects = append(pg.objects, t.O)
	}
	return out
}
