// Package api exposes the editor, graph listing and subscription
// management over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/systemshift/graphedit/internal/codec"
	errs "github.com/systemshift/graphedit/internal/errors"
	"github.com/systemshift/graphedit/internal/server/editor"
	"github.com/systemshift/graphedit/internal/server/graph"
	"github.com/systemshift/graphedit/internal/server/metrics"
	"github.com/systemshift/graphedit/internal/server/static"
	"github.com/systemshift/graphedit/internal/server/subscriptions"
)

// Server holds the HTTP server dependencies
type Server struct {
	editor  *editor.Editor
	store   *graph.Store
	codecs  *codec.Registry
	subMgr  *subscriptions.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a new API server. subMgr and m may be nil.
func New(ed *editor.Editor, store *graph.Store, codecs *codec.Registry, subMgr *subscriptions.Manager, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		editor:  ed,
		store:   store,
		codecs:  codecs,
		subMgr:  subMgr,
		metrics: m,
		logger:  logger.With("component", "api"),
	}
}

// Routes builds the router. extra middleware runs after the request ID and
// real IP middleware and before panic recovery.
func (s *Server) Routes(extra ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	for _, mw := range extra {
		r.Use(mw)
	}
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)
	r.Get("/graphs", s.ListGraphs)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Get("/editor", s.EditorRedirect)
	r.Get("/editor/get", s.EditorGet)
	r.Post("/editor/post", s.EditorPost)
	r.Method(http.MethodGet, "/editor/*", static.Handler("/editor/"))

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", s.CreateSubscription)
		r.Get("/", s.ListSubscriptions)
		r.Get("/{id}", s.GetSubscription)
		r.Patch("/{id}", s.UpdateSubscription)
		r.Delete("/{id}", s.DeleteSubscription)
	})

	return r
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func statusFor(err error) int {
	if errors.Is(err, subscriptions.ErrNotFound) {
		return http.StatusNotFound
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch errs.KindOf(err) {
	case errs.KindInvalid:
		return http.StatusBadRequest
	case errs.KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case errs.KindGraphNotFound:
		return http.StatusNotFound
	case errs.KindNoSuchSubgraph:
		// The client edited a stale copy of the graph.
		return http.StatusConflict
	case errs.KindResourceExhausted:
		return http.StatusRequestEntityTooLarge
	case errs.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	kind := errs.KindOf(err).String()
	if errors.Is(err, subscriptions.ErrNotFound) {
		kind = "NotFound"
	}
	attrs := []any{"status", status, "kind", kind, "error", err, "request_id", middleware.GetReqID(r.Context())}
	if status >= 500 {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Debug("request rejected", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Kind: kind, Error: err.Error()})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, statusFor(err), err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"graphs_loaded": s.store.Loaded(),
	})
}

// ListGraphs handles GET /graphs
func (s *Server) ListGraphs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"graphs":        ids,
		"count":         len(ids),
		"content_graph": s.store.ContentGraph(),
	})
}

// EditorRedirect handles GET /editor by adding the trailing slash the
// relative links of the UI depend on.
func (s *Server) EditorRedirect(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Path + "/"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// EditorGet handles GET /editor/get?resource=<iri>&graph=<iri>
func (s *Server) EditorGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.codecs.Negotiate(r.Header.Get("Accept"))
	if err != nil {
		s.writeError(w, r, http.StatusNotAcceptable, err)
		return
	}

	q := r.URL.Query()
	node, err := s.editor.Get(r.Context(), q.Get("resource"), q.Get("graph"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := c.Encode(&buf, node.Context.Graph()); err != nil {
		s.fail(w, r, errs.E(errs.KindInternal, "api.EditorGet", err))
		return
	}
	w.Header().Set("Content-Type", c.MediaType()+"; charset=utf-8")
	w.Header().Set("Vary", "Accept")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// EditorPost handles POST /editor/post?graph=<iri> with form fields assert,
// revoke and rdfFormat.
func (s *Server) EditorPost(w http.ResponseWriter, r *http.Request) {
	if limit := s.codecs.Limits().MaxBytes; limit > 0 {
		// Two fragments plus form encoding overhead.
		r.Body = http.MaxBytesReader(w, r.Body, 3*limit+64<<10)
	}
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, errs.E(errs.KindResourceExhausted, "api.EditorPost", err))
			return
		}
		s.fail(w, r, errs.E(errs.KindInvalid, "api.EditorPost", err))
		return
	}

	_, err := s.editor.Edit(r.Context(), editor.EditRequest{
		GraphID:   r.URL.Query().Get("graph"),
		Asserted:  r.PostForm.Get("assert"),
		Revoked:   r.PostForm.Get("revoke"),
		MediaType: strings.TrimSpace(r.PostForm.Get("rdfFormat")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============== Subscription Handlers ==============

func (s *Server) subscriptionsReady(w http.ResponseWriter, r *http.Request) bool {
	if s.subMgr == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, errors.New("subscription manager not initialized"))
		return false
	}
	return true
}

// CreateSubscription handles POST /subscriptions
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsReady(w, r) {
		return
	}

	var req subscriptions.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, errs.E(errs.KindInvalid, "api.CreateSubscription", err))
		return
	}

	sub, err := s.subMgr.Register(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscriptions.SubscriptionResponse{Subscription: sub})
}

// ListSubscriptions handles GET /subscriptions
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsReady(w, r) {
		return
	}

	subs := s.subMgr.List()
	writeJSON(w, http.StatusOK, subscriptions.ListSubscriptionsResponse{
		Subscriptions: subs,
		Count:         len(subs),
	})
}

// GetSubscription handles GET /subscriptions/{id}
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsReady(w, r) {
		return
	}

	sub, err := s.subMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptions.SubscriptionResponse{Subscription: sub})
}

// UpdateSubscription handles PATCH /subscriptions/{id}
func (s *Server) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsReady(w, r) {
		return
	}

	var req subscriptions.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, errs.E(errs.KindInvalid, "api.UpdateSubscription", err))
		return
	}

	sub, err := s.subMgr.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptions.SubscriptionResponse{Subscription: sub})
}

// DeleteSubscription handles DELETE /subscriptions/{id}
func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsReady(w, r) {
		return
	}

	if err := s.subMgr.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
