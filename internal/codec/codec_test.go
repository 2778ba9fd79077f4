package codec

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/systemshift/graphedit/internal/errors"
	"github.com/systemshift/graphedit/internal/rdf"
)

func ex(local string) rdf.Term {
	return rdf.IRI("http://example.org/" + local)
}

func TestRegistryLookup(t *testing.T) {
	reg := Default(DefaultLimits)

	tests := []struct {
		mediaType string
		want      string
		wantErr   bool
	}{
		{mediaType: "", want: MediaTypeRDFXML},
		{mediaType: "application/rdf+xml", want: MediaTypeRDFXML},
		{mediaType: "text/turtle; charset=utf-8", want: MediaTypeTurtle},
		{mediaType: "TEXT/Turtle", want: MediaTypeTurtle},
		{mediaType: "application/x-turtle", want: MediaTypeTurtle},
		{mediaType: "application/n-triples", want: MediaTypeNTriples},
		{mediaType: "text/plain", want: MediaTypeNTriples},
		{mediaType: "application/ld+json", want: MediaTypeJSONLD},
		{mediaType: "*/*", want: MediaTypeRDFXML},
		{mediaType: "application/*", want: MediaTypeRDFXML},
		{mediaType: "text/*", want: MediaTypeTurtle},
		{mediaType: "image/png", wantErr: true},
		{mediaType: "not a media type", wantErr: true},
		{mediaType: "text/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mediaType, func(t *testing.T) {
			c, err := reg.Lookup(tt.mediaType)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errs.KindUnsupportedMediaType, errs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.MediaType())
		})
	}
}

func TestRegistryNegotiate(t *testing.T) {
	reg := Default(DefaultLimits)

	tests := []struct {
		accept  string
		want    string
		wantErr bool
	}{
		{accept: "", want: MediaTypeRDFXML},
		{accept: "text/turtle", want: MediaTypeTurtle},
		{accept: "application/json;q=0.5, text/turtle", want: MediaTypeTurtle},
		{accept: "image/png, */*;q=0.1", want: MediaTypeRDFXML},
		{accept: "text/turtle;q=0, application/n-triples", want: MediaTypeNTriples},
		{accept: "image/png", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			c, err := reg.Negotiate(tt.accept)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrUnsupportedMediaType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.MediaType())
		})
	}
}

func TestDecodeCharsets(t *testing.T) {
	reg := Default(DefaultLimits)
	ctx := context.Background()
	want := rdf.T(ex("a"), ex("p"), rdf.Literal("café"))

	t.Run("media type parameter", func(t *testing.T) {
		doc := "<http://example.org/a> <http://example.org/p> \"caf\xe9\" ."
		g, err := reg.DecodeString(ctx, doc, "text/turtle; charset=iso-8859-1")
		require.NoError(t, err)
		assert.True(t, g.Contains(want))
	})

	t.Run("xml declaration", func(t *testing.T) {
		doc := `<?xml version="1.0" encoding="ISO-8859-1"?>` +
			`<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns:ex="http://example.org/">` +
			"<rdf:Description rdf:about=\"http://example.org/a\"><ex:p>caf\xe9</ex:p></rdf:Description></rdf:RDF>"
		g, err := reg.DecodeString(ctx, doc, MediaTypeRDFXML)
		require.NoError(t, err)
		assert.True(t, g.Contains(want))
	})

	t.Run("byte order mark", func(t *testing.T) {
		doc := "\xEF\xBB\xBF<http://example.org/a> <http://example.org/p> \"café\" ."
		g, err := reg.DecodeString(ctx, doc, MediaTypeNTriples)
		require.NoError(t, err)
		assert.True(t, g.Contains(want))
	})

	t.Run("unknown charset", func(t *testing.T) {
		_, err := reg.DecodeString(ctx, "", "text/turtle; charset=x-no-such-charset")
		assert.ErrorIs(t, err, errs.ErrUnsupportedMediaType)
	})
}

func TestDecodeLimits(t *testing.T) {
	ctx := context.Background()
	doc := "<http://example.org/a> <http://example.org/p> \"1\" .\n" +
		"<http://example.org/a> <http://example.org/p> \"2\" .\n"

	t.Run("bytes", func(t *testing.T) {
		reg := Default(Limits{MaxBytes: 20})
		_, err := reg.DecodeString(ctx, doc, MediaTypeNTriples)
		require.Error(t, err)
		assert.Equal(t, errs.KindResourceExhausted, errs.KindOf(err))
	})

	t.Run("statements", func(t *testing.T) {
		reg := Default(Limits{MaxStatements: 1})
		_, err := reg.DecodeString(ctx, doc, MediaTypeNTriples)
		require.Error(t, err)
		assert.Equal(t, errs.KindResourceExhausted, errs.KindOf(err))
	})

	t.Run("within limits", func(t *testing.T) {
		reg := Default(Limits{MaxBytes: int64(len(doc)), MaxStatements: 2})
		g, err := reg.DecodeString(ctx, doc, MediaTypeNTriples)
		require.NoError(t, err)
		assert.Equal(t, 2, g.Len())
	})
}

func TestDecodeErrorPosition(t *testing.T) {
	reg := Default(DefaultLimits)
	doc := "@prefix ex: <http://example.org/> .\nex:a ex:p ."

	_, err := reg.DecodeString(context.Background(), doc, MediaTypeTurtle)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrDecode)
	assert.Equal(t, errs.KindDecode, errs.KindOf(err))

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, MediaTypeTurtle, de.MediaType)
	assert.Equal(t, 2, de.Line)
	assert.Equal(t, 11, de.Column)
	assert.Contains(t, de.Error(), "line 2, column 11")
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	reg := Default(DefaultLimits)
	tests := []struct {
		mediaType string
		doc       string
		line      int
		column    int
	}{
		{MediaTypeTurtle, "<http://e/a> <http://e/b> \"\xff\xfe\" .", 1, 28},
		{MediaTypeNTriples, "<http://e/a> <http://e/b> \"ok\" .\n<http://e/a> <http://e/c> \"x\xc3\" .", 2, 29},
		{MediaTypeJSONLD, "{\"@id\": \"http://e/a\", \"http://e/b\": \"\xff\"}", 1, 38},
		{MediaTypeRDFXML, "<rdf:RDF xmlns:rdf=\"http://www.w3.org/1999/02/22-rdf-syntax-ns#\">\xff</rdf:RDF>", 1, 66},
	}
	for _, tt := range tests {
		t.Run(tt.mediaType, func(t *testing.T) {
			g, err := reg.DecodeString(context.Background(), tt.doc, tt.mediaType)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, errs.ErrDecode)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.line, de.Line)
			assert.Equal(t, tt.column, de.Column)
			assert.Contains(t, de.Error(), "invalid UTF-8")
		})
	}
}

func TestDecodeUnsupportedMediaType(t *testing.T) {
	reg := Default(DefaultLimits)
	_, err := reg.Decode(context.Background(), strings.NewReader("x"), "image/png")
	assert.ErrorIs(t, err, errs.ErrUnsupportedMediaType)
}

func TestDecodeKeepsBlankLabelsPerDocument(t *testing.T) {
	reg := Default(DefaultLimits)
	doc := "_:x <http://example.org/p> _:y .\n_:y <http://example.org/p> _:x .\n"

	g, err := reg.DecodeString(context.Background(), doc, MediaTypeNTriples)
	require.NoError(t, err)
	require.Len(t, g.BlankNodes(), 2)

	// Labels do not leak into later allocations.
	assert.NotContains(t, g.BlankNodes(), g.Blank("x"))
}
