// Package codec converts between RDF graphs and their byte serializations.
//
// A Registry maps media types to codecs. RDF/XML is the default when no
// media type is given. Decoding handles character sets, byte order marks
// and size limits before any codec sees the input.
package codec

import (
	"bytes"
	"context"
	"io"
	"mime"
	"sort"
	"strconv"
	"strings"

	errs "github.com/systemshift/graphedit/internal/errors"
	"github.com/systemshift/graphedit/internal/rdf"
)

// Media types of the built-in codecs.
const (
	MediaTypeRDFXML   = "application/rdf+xml"
	MediaTypeTurtle   = "text/turtle"
	MediaTypeNTriples = "application/n-triples"
	MediaTypeJSONLD   = "application/ld+json"
)

// Codec reads and writes one RDF serialization.
type Codec interface {
	// MediaType is the canonical media type, lower case without parameters.
	MediaType() string
	// Aliases are further media types served by the codec.
	Aliases() []string
	// Decode reads one document from r and adds its statements to s.
	Decode(r io.Reader, s *Sink) error
	// Encode writes g to w.
	Encode(w io.Writer, g *rdf.Graph) error
}

// Limits bound what a single decode may consume. Zero fields are unlimited.
type Limits struct {
	MaxBytes      int64
	MaxStatements int
}

// DefaultLimits suit form submitted fragments.
var DefaultLimits = Limits{MaxBytes: 4 << 20, MaxStatements: 100000}

// Registry looks up codecs by media type. It is safe for concurrent use
// once built.
type Registry struct {
	codecs []Codec
	byType map[string]Codec
	limits Limits
}

// NewRegistry builds a registry over codecs. The first codec is the
// default.
func NewRegistry(limits Limits, codecs ...Codec) *Registry {
	r := &Registry{byType: make(map[string]Codec), limits: limits}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Default returns a registry with RDF/XML, Turtle, N-Triples and JSON-LD,
// in that order.
func Default(limits Limits) *Registry {
	return NewRegistry(limits, RDFXML{}, Turtle{}, NTriples{}, JSONLD{})
}

// Register adds c. A media type already claimed keeps its first codec.
func (r *Registry) Register(c Codec) {
	r.codecs = append(r.codecs, c)
	for _, mt := range append([]string{c.MediaType()}, c.Aliases()...) {
		mt = strings.ToLower(mt)
		if _, ok := r.byType[mt]; !ok {
			r.byType[mt] = c
		}
	}
}

// MediaTypes lists the canonical media types in registration order.
func (r *Registry) MediaTypes() []string {
	out := make([]string, len(r.codecs))
	for i, c := range r.codecs {
		out[i] = c.MediaType()
	}
	return out
}

// Limits returns the decode limits.
func (r *Registry) Limits() Limits { return r.limits }

const opLookup = "codec.Lookup"

// Lookup finds the codec for a media type. Parameters are ignored, an
// empty media type selects the default codec and wildcards pick the first
// registered codec in their range.
func (r *Registry) Lookup(mediaType string) (Codec, error) {
	c, _, err := r.lookup(mediaType)
	return c, err
}

func (r *Registry) lookup(mediaType string) (Codec, map[string]string, error) {
	if len(r.codecs) == 0 {
		return nil, nil, errs.Errorf(errs.KindUnsupportedMediaType, opLookup, "no codecs registered")
	}
	if strings.TrimSpace(mediaType) == "" {
		return r.codecs[0], nil, nil
	}
	mt, params, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return nil, nil, errs.Errorf(errs.KindUnsupportedMediaType, opLookup, "malformed media type %q: %v", mediaType, err)
	}
	if c := r.match(mt); c != nil {
		return c, params, nil
	}
	return nil, nil, errs.Errorf(errs.KindUnsupportedMediaType, opLookup, "no codec for media type %q", mt)
}

func (r *Registry) match(mt string) Codec {
	if c, ok := r.byType[mt]; ok {
		return c
	}
	if mt == "*/*" || mt == "*" {
		return r.codecs[0]
	}
	if strings.HasSuffix(mt, "/*") {
		prefix := strings.TrimSuffix(mt, "*")
		for _, c := range r.codecs {
			if strings.HasPrefix(c.MediaType(), prefix) {
				return c
			}
		}
	}
	return nil
}

// Negotiate picks the response codec for an Accept header value. Ranges
// are tried by descending quality, ties in header order. An empty header
// selects the default codec.
func (r *Registry) Negotiate(accept string) (Codec, error) {
	if strings.TrimSpace(accept) == "" {
		return r.Lookup("")
	}

	type offer struct {
		mt string
		q  float64
	}
	var offers []offer
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mt, params, err := mime.ParseMediaType(part)
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
		if q > 0 {
			offers = append(offers, offer{mt: mt, q: q})
		}
	}
	sort.SliceStable(offers, func(i, j int) bool { return offers[i].q > offers[j].q })

	for _, o := range offers {
		if c := r.match(o.mt); c != nil {
			return c, nil
		}
	}
	return nil, errs.Errorf(errs.KindUnsupportedMediaType, "codec.Negotiate", "no codec acceptable for %q", accept)
}

// Decode reads a document of the given media type into a new graph.
func (r *Registry) Decode(ctx context.Context, body io.Reader, mediaType string) (*rdf.Graph, error) {
	c, params, err := r.lookup(mediaType)
	if err != nil {
		return nil, err
	}

	lr := &limitReader{r: body, n: r.limits.MaxBytes}
	in, err := prepare(lr, params["charset"])
	if err != nil {
		return nil, err
	}

	g := rdf.NewGraph()
	s := &Sink{ctx: ctx, g: g, max: r.limits.MaxStatements, charset: params["charset"]}
	if err := c.Decode(in, s); err != nil {
		if lr.exceeded {
			return nil, errs.Errorf(errs.KindResourceExhausted, "codec.Decode",
				"input exceeds %d bytes", r.limits.MaxBytes)
		}
		return nil, classify(c.MediaType(), err)
	}
	g.ResetLabels()
	return g, nil
}

// DecodeString is Decode over an in-memory document.
func (r *Registry) DecodeString(ctx context.Context, doc, mediaType string) (*rdf.Graph, error) {
	return r.Decode(ctx, strings.NewReader(doc), mediaType)
}

// Encode writes g in the given media type.
func (r *Registry) Encode(w io.Writer, g *rdf.Graph, mediaType string) error {
	c, err := r.Lookup(mediaType)
	if err != nil {
		return err
	}
	return c.Encode(w, g)
}

// EncodeString is Encode into a string.
func (r *Registry) EncodeString(g *rdf.Graph, mediaType string) (string, error) {
	var buf bytes.Buffer
	if err := r.Encode(&buf, g, mediaType); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Sink receives decoded statements. Blank node labels are scoped to one
// document.
type Sink struct {
	ctx     context.Context
	g       *rdf.Graph
	max     int
	charset string
}

// NewSink returns a sink that adds to g without limits.
func NewSink(ctx context.Context, g *rdf.Graph) *Sink {
	return &Sink{ctx: ctx, g: g}
}

// Blank returns the blank node for a document label.
func (s *Sink) Blank(label string) rdf.Term { return s.g.Blank(label) }

// NewBlank returns an anonymous blank node.
func (s *Sink) NewBlank() rdf.Term { return s.g.NewBlank() }

// Charset is the character set already applied to the input, or "" when
// the codec should honour an in-document declaration.
func (s *Sink) Charset() string { return s.charset }

// Add stores t.
func (s *Sink) Add(t rdf.Triple) error {
	if !t.Valid() {
		return errs.Errorf(errs.KindDecode, "codec.Sink", "invalid statement %s", t)
	}
	if s.g.Add(t) && s.max > 0 && s.g.Len() > s.max {
		return errs.Errorf(errs.KindResourceExhausted, "codec.Sink",
			"document has more than %d statements", s.max)
	}
	if s.ctx != nil && s.g.Len()%1024 == 0 {
		if err := s.ctx.Err(); err != nil {
			return errs.E(errs.KindResourceExhausted, "codec.Sink", err)
		}
	}
	return nil
}
