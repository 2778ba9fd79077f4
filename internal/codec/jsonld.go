package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/piprate/json-gold/ld"

	"github.com/systemshift/graphedit/internal/rdf"
)

const defaultGraph = "@default"

// JSONLD is the application/ld+json codec backed by json-gold. Terms are
// exchanged with json-gold as an ld.RDFDataset. Only the default graph is
// kept on decode.
type JSONLD struct {
	Base string
}

func (JSONLD) MediaType() string { return MediaTypeJSONLD }
func (JSONLD) Aliases() []string { return []string{"application/json"} }

// offlineLoader refuses remote contexts so decoding never leaves the
// process.
type offlineLoader struct{}

func (offlineLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	return nil, ld.NewJsonLdError(ld.LoadingDocumentFailed, "remote context "+u+" is not allowed")
}

func (c JSONLD) options() *ld.JsonLdOptions {
	opts := ld.NewJsonLdOptions(c.Base)
	opts.DocumentLoader = offlineLoader{}
	return opts
}

func (c JSONLD) Decode(r io.Reader, s *Sink) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	// encoding/json would replace invalid bytes with U+FFFD.
	if err := checkUTF8(src); err != nil {
		return err
	}
	if len(bytes.TrimSpace(src)) == 0 {
		return nil
	}

	var doc any
	if err := json.Unmarshal(src, &doc); err != nil {
		var se *json.SyntaxError
		if errors.As(err, &se) {
			return syntaxErrorAt(src, int(se.Offset), "%s", se.Error())
		}
		return &DecodeError{Err: err}
	}

	out, err := ld.NewJsonLdProcessor().ToRDF(doc, c.options())
	if err != nil {
		return &DecodeError{Err: err}
	}
	dataset, ok := out.(*ld.RDFDataset)
	if !ok {
		return fmt.Errorf("jsonld: unexpected ToRDF result %T", out)
	}

	for _, q := range dataset.Graphs[defaultGraph] {
		t, err := fromLD(s, q)
		if err != nil {
			return &DecodeError{Err: err}
		}
		if err := s.Add(t); err != nil {
			return err
		}
	}
	return nil
}

func fromLD(s *Sink, q *ld.Quad) (rdf.Triple, error) {
	var t rdf.Triple
	var err error
	if t.S, err = fromLDNode(s, q.Subject); err != nil {
		return t, err
	}
	if t.P, err = fromLDNode(s, q.Predicate); err != nil {
		return t, err
	}
	t.O, err = fromLDNode(s, q.Object)
	return t, err
}

func fromLDNode(s *Sink, n ld.Node) (rdf.Term, error) {
	switch v := n.(type) {
	case ld.IRI:
		return rdf.IRI(v.Value), nil
	case ld.BlankNode:
		return s.Blank(v.Attribute), nil
	case ld.Literal:
		if v.Language != "" {
			return rdf.LangLiteral(v.Value, v.Language), nil
		}
		return rdf.TypedLiteral(v.Value, v.Datatype), nil
	default:
		return rdf.Term{}, fmt.Errorf("unsupported node %T", n)
	}
}

func toLDNode(t rdf.Term) ld.Node {
	switch {
	case t.IsBlank():
		return ld.NewBlankNode("_:" + t.Label())
	case t.IsLiteral():
		return ld.NewLiteral(t.Value(), t.Datatype(), t.Lang())
	default:
		return ld.NewIRI(t.Value())
	}
}

func (c JSONLD) Encode(w io.Writer, g *rdf.Graph) error {
	dataset := ld.NewRDFDataset()
	for _, t := range g.Triples() {
		dataset.Graphs[defaultGraph] = append(dataset.Graphs[defaultGraph],
			ld.NewQuad(toLDNode(t.S), toLDNode(t.P), toLDNode(t.O), defaultGraph))
	}
	doc, err := ld.NewJsonLdApi().FromRDF(dataset, c.options())
	if err != nil {
		return fmt.Errorf("jsonld: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
