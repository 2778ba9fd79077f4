// Package graph resolves graph identifiers to live, lockable graphs backed by
// a persistence backend.
package graph

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	errs "github.com/systemshift/graphedit/internal/errors"
	"github.com/systemshift/graphedit/internal/rdf"
	"github.com/systemshift/graphedit/internal/server/subscriptions"
)

// ContentGraph is used when a request names no graph.
const ContentGraph = "urn:x-localinstance:/content.graph"

// Options controls how identifiers resolve.
type Options struct {
	// CreateMissing creates an empty graph the first time an unknown
	// identifier is resolved. When false such a resolution fails with
	// GraphNotFound. The content graph is always created.
	CreateMissing bool
	// ContentGraph overrides the default graph identifier.
	ContentGraph string
}

// DefaultOptions creates missing graphs.
var DefaultOptions = Options{CreateMissing: true, ContentGraph: ContentGraph}

// Store hands out one Handle per graph identifier.
type Store struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
	emitter func(subscriptions.Event)

	mu      sync.Mutex
	handles map[string]*Handle
	loads   singleflight.Group
}

// NewStore creates a store over backend.
func NewStore(backend Backend, opts Options, logger *slog.Logger) *Store {
	if opts.ContentGraph == "" {
		opts.ContentGraph = ContentGraph
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger.With("component", "store"),
		handles: make(map[string]*Handle),
	}
}

// SetEventEmitter sets the callback for emitting events
func (s *Store) SetEventEmitter(emitter func(subscriptions.Event)) {
	s.emitter = emitter
}

func (s *Store) emit(event subscriptions.Event) {
	if s.emitter != nil {
		s.emitter(event)
	}
}

// ContentGraph returns the identifier used for an empty graph parameter.
func (s *Store) ContentGraph() string { return s.opts.ContentGraph }

// Resolve returns the handle for id, loading the graph from the backend on
// first use. Concurrent first resolutions share one load.
func (s *Store) Resolve(ctx context.Context, id string) (*Handle, error) {
	const op = "graph.Resolve"
	if id == "" {
		id = s.opts.ContentGraph
	}
	if err := ValidateID(id); err != nil {
		return nil, errs.E(errs.KindInvalid, op, err)
	}

	if h := s.cached(id); h != nil {
		return h, nil
	}

	// A cancelled caller must not fail the others waiting on the same load.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(id, func() (any, error) {
		if h := s.cached(id); h != nil {
			return h, nil
		}
		h, err := s.load(loadCtx, id)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.handles[id] = h
		s.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// ResolveExisting is Resolve for readers: it never creates a graph and
// fails with GraphNotFound when the backend has none named id, whatever the
// policy.
func (s *Store) ResolveExisting(ctx context.Context, id string) (*Handle, error) {
	const op = "graph.ResolveExisting"
	if id == "" {
		id = s.opts.ContentGraph
	}
	if err := ValidateID(id); err != nil {
		return nil, errs.E(errs.KindInvalid, op, err)
	}
	if h := s.cached(id); h != nil {
		return h, nil
	}

	exists, err := s.backend.Exists(ctx, id)
	if err != nil {
		return nil, errs.E(errs.KindStoreUnavailable, op, err)
	}
	if !exists {
		return nil, errs.Errorf(errs.KindGraphNotFound, op, "no graph named %s", id)
	}
	return s.Resolve(ctx, id)
}

// CreatesMissing reports whether Resolve would create id if it did not
// exist. The content graph is always created.
func (s *Store) CreatesMissing(id string) bool {
	return s.opts.CreateMissing || id == "" || id == s.opts.ContentGraph
}

func (s *Store) cached(id string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[id]
}

func (s *Store) load(ctx context.Context, id string) (*Handle, error) {
	const op = "graph.Resolve"
	exists, err := s.backend.Exists(ctx, id)
	if err != nil {
		return nil, errs.E(errs.KindStoreUnavailable, op, err)
	}
	if !exists {
		if !s.opts.CreateMissing && id != s.opts.ContentGraph {
			return nil, errs.Errorf(errs.KindGraphNotFound, op, "no graph named %s", id)
		}
		if err := s.backend.Create(ctx, id); err != nil {
			return nil, errs.E(errs.KindStoreUnavailable, op, err)
		}
		s.logger.Info("created graph", "graph", id)
		s.emit(subscriptions.Event{Type: subscriptions.EventGraphCreated, GraphID: id})
	}

	g := rdf.NewGraph()
	if err := s.backend.Load(ctx, id, g); err != nil {
		return nil, errs.E(errs.KindStoreUnavailable, op, err)
	}
	s.logger.Debug("loaded graph", "graph", id, "statements", g.Len())
	return &Handle{id: id, backend: s.backend, g: g}, nil
}

// List returns the identifiers the backend knows about.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.backend.List(ctx)
	if err != nil {
		return nil, errs.E(errs.KindStoreUnavailable, "graph.List", err)
	}
	return ids, nil
}

// Loaded returns how many graphs are resident in memory.
func (s *Store) Loaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Close releases the backend.
func (s *Store) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

// ValidateID accepts absolute IRIs that can be written in N-Triples.
func ValidateID(id string) error {
	if strings.ContainsAny(id, " <>\"{}|^`\\\t\n\r") {
		return errs.New("graph identifier contains characters not allowed in an IRI")
	}
	u, err := url.Parse(id)
	if err != nil {
		return err
	}
	if u.Scheme == "" {
		return errs.New("graph identifier must be an absolute IRI")
	}
	return nil
}

// Handle is one live graph. Readers share it; writers are serialised.
type Handle struct {
	id      string
	backend Backend

	mu sync.RWMutex
	g  *rdf.Graph
}

// ID returns the graph identifier.
func (h *Handle) ID() string { return h.id }

// View runs fn under the read lock. fn must not modify or retain g.
func (h *Handle) View(fn func(g *rdf.Graph) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.g)
}

// Update runs fn under the write lock. fn inspects g and returns the change
// to make; it must not modify g itself, except to allocate blank nodes for
// added statements. The change is persisted first and applied in memory
// only when the backend accepted it, so any failure leaves the graph as it
// was. The returned delta is what actually changed.
func (h *Handle) Update(ctx context.Context, fn func(g *rdf.Graph) (Delta, error)) (Delta, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	d, err := fn(h.g)
	if err != nil {
		return Delta{}, err
	}
	d = d.net(h.g)
	if d.Empty() {
		return d, nil
	}
	if err := h.backend.Apply(ctx, h.id, d); err != nil {
		return Delta{}, errs.E(errs.KindStoreUnavailable, "graph.Update", err)
	}
	h.g.Apply(d.Removed, d.Added)
	return d, nil
}

// Snapshot freezes the current contents.
func (h *Handle) Snapshot() rdf.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return rdf.Freeze(h.g)
}

// Len returns the number of statements.
func (h *Handle) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.g.Len()
}
