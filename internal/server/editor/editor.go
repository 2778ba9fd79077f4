// Package editor replaces fragments of stored graphs. An edit names a
// revoked fragment, which must occur in the target graph up to blank node
// renaming, and an asserted fragment that takes its place. Both halves
// commit together or not at all.
package editor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/systemshift/graphedit/internal/codec"
	errs "github.com/systemshift/graphedit/internal/errors"
	"github.com/systemshift/graphedit/internal/rdf"
	"github.com/systemshift/graphedit/internal/server/graph"
	"github.com/systemshift/graphedit/internal/server/metrics"
	"github.com/systemshift/graphedit/internal/server/subscriptions"
)

// EditRequest is one replace operation. Empty or blank fragments are empty
// graphs.
type EditRequest struct {
	GraphID   string
	Asserted  string
	Revoked   string
	MediaType string
}

// EditResult describes a committed edit.
type EditResult struct {
	GraphID string
	// Removed and Added are the statements that actually changed.
	Removed []rdf.Triple
	Added   []rdf.Triple
	// Steps is the search effort spent locating the revoked fragment.
	Steps int
}

// Editor applies edits to graphs of a store.
type Editor struct {
	store   *graph.Store
	codecs  *codec.Registry
	limits  rdf.Limits
	emit    subscriptions.EventEmitter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an Editor.
type Option func(*Editor)

// WithLimits bounds the subgraph search.
func WithLimits(l rdf.Limits) Option { return func(e *Editor) { e.limits = l } }

// WithEmitter receives a graph.edited event after every commit.
func WithEmitter(emit subscriptions.EventEmitter) Option {
	return func(e *Editor) { e.emit = emit }
}

// WithMetrics records edit and read outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Editor) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Editor) { e.logger = l } }

// New creates an editor over store and codecs.
func New(store *graph.Store, codecs *codec.Registry, opts ...Option) *Editor {
	e := &Editor{
		store:  store,
		codecs: codecs,
		limits: rdf.DefaultLimits,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "editor")
	return e
}

// Edit removes the revoked fragment from the target graph and adds the
// asserted one. On any failure the target is left unchanged.
func (e *Editor) Edit(ctx context.Context, req EditRequest) (res *EditResult, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = errs.KindOf(err).String()
		}
		var removed, added, steps int
		if res != nil {
			removed, added, steps = len(res.Removed), len(res.Added), res.Steps
		}
		e.metrics.ObserveEdit(result, time.Since(start), removed, added, steps)
	}()

	// Reject an unknown format before looking at either fragment.
	if _, err := e.codecs.Lookup(req.MediaType); err != nil {
		return nil, err
	}
	revoked, err := e.decode(ctx, req.Revoked, req.MediaType)
	if err != nil {
		return nil, err
	}
	asserted, err := e.decode(ctx, req.Asserted, req.MediaType)
	if err != nil {
		return nil, err
	}
	e.logFragment("revoked", revoked)
	e.logFragment("asserted", asserted)

	h, err := e.store.Resolve(ctx, req.GraphID)
	if err != nil {
		return nil, err
	}

	var steps int
	delta, err := h.Update(ctx, func(g *rdf.Graph) (graph.Delta, error) {
		m, err := rdf.FindSubgraph(ctx, g, revoked, e.limits)
		if err != nil {
			return graph.Delta{}, err
		}
		steps = m.Steps
		return graph.Delta{Removed: m.Statements, Added: g.Adopt(asserted)}, nil
	})
	if err != nil {
		e.logger.Info("edit rejected", "graph", h.ID(), "kind", errs.KindOf(err).String(), "error", err)
		return nil, err
	}

	res = &EditResult{GraphID: h.ID(), Removed: delta.Removed, Added: delta.Added, Steps: steps}
	e.logger.Info("graph edited", "graph", h.ID(), "removed", len(delta.Removed), "added", len(delta.Added), "steps", steps)
	if e.emit != nil && !delta.Empty() {
		e.emit(editedEvent(h.ID(), delta))
	}
	return res, nil
}

// Get returns the view of resource in the graph, or in the content graph
// when graphID is empty.
func (e *Editor) Get(ctx context.Context, resource, graphID string) (node *rdf.GraphNode, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = errs.KindOf(err).String()
		}
		e.metrics.ObserveGet(result)
	}()

	if resource == "" {
		return nil, errs.Errorf(errs.KindInvalid, "editor.Get", "resource parameter is required")
	}
	if err := graph.ValidateID(resource); err != nil {
		return nil, errs.E(errs.KindInvalid, "editor.Get", err)
	}

	// Reads never create graphs. Under a policy that would create the
	// graph on write, a missing graph reads as empty.
	h, err := e.store.ResolveExisting(ctx, graphID)
	if errs.KindOf(err) == errs.KindGraphNotFound && e.store.CreatesMissing(graphID) {
		return rdf.NewGraphNode(rdf.NewGraph(), rdf.IRI(resource)), nil
	}
	if err != nil {
		return nil, err
	}
	err = h.View(func(g *rdf.Graph) error {
		node = rdf.NewGraphNode(g, rdf.IRI(resource))
		return nil
	})
	return node, err
}

func (e *Editor) decode(ctx context.Context, doc, mediaType string) (*rdf.Graph, error) {
	if strings.TrimSpace(doc) == "" {
		return rdf.NewGraph(), nil
	}
	return e.codecs.DecodeString(ctx, doc, mediaType)
}

func (e *Editor) logFragment(label string, g *rdf.Graph) {
	if !e.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	doc, err := e.codecs.EncodeString(g, codec.MediaTypeTurtle)
	if err != nil {
		e.logger.Debug("cannot render fragment", "fragment", label, "error", err)
		return
	}
	e.logger.Debug(label+" fragment", "turtle", doc)
	if hasCarriageReturn(g) {
		e.logger.Warn(label+" fragment contains a carriage return", "statements", g.Len())
	}
}

func hasCarriageReturn(g *rdf.Graph) bool {
	for _, t := range g.Triples() {
		for _, term := range [3]rdf.Term{t.S, t.P, t.O} {
			if strings.Contains(term.Value(), "\r") {
				return true
			}
		}
	}
	return false
}

func editedEvent(graphID string, d graph.Delta) subscriptions.Event {
	preds := make(map[string]bool)
	var revoked, asserted strings.Builder
	for _, t := range d.Removed {
		preds[t.P.Value()] = true
		revoked.WriteString(t.String())
		revoked.WriteByte('\n')
	}
	for _, t := range d.Added {
		preds[t.P.Value()] = true
		asserted.WriteString(t.String())
		asserted.WriteByte('\n')
	}
	predicates := make([]string, 0, len(preds))
	for p := range preds {
		predicates = append(predicates, p)
	}
	sort.Strings(predicates)

	return subscriptions.Event{
		Type:       subscriptions.EventGraphEdited,
		GraphID:    graphID,
		Removed:    len(d.Removed),
		Added:      len(d.Added),
		Predicates: predicates,
		Revoked:    revoked.String(),
		Asserted:   asserted.String(),
	}
}
