package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/systemshift/graphedit/internal/errors"
	"github.com/systemshift/graphedit/internal/rdf"
	"github.com/systemshift/graphedit/internal/server/subscriptions"
)

func ex(local string) rdf.Term { return rdf.IRI("http://example.org/" + local) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLite(t *testing.T, path string) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLite(context.Background(), path)
	require.NoError(t, err)
	return b
}

// backends returns a fresh instance of every backend that runs without
// external services.
func backends(t *testing.T) map[string]Backend {
	sq := newSQLite(t, filepath.Join(t.TempDir(), "graphs.db"))
	t.Cleanup(func() { sq.Close(context.Background()) })
	return map[string]Backend{
		BackendMemory: NewMemory(),
		BackendSQLite: sq,
	}
}

func TestBackendConformance(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := "http://example.org/g"

			ok, err := b.Exists(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Create(ctx, id))
			require.NoError(t, b.Create(ctx, id), "create is idempotent")
			ok, err = b.Exists(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok)

			src := rdf.NewGraph()
			b1 := src.NewBlank()
			tricky := rdf.Literal("multi\nline \"quoted\" \\ ü")
			d := Delta{Added: []rdf.Triple{
				rdf.T(ex("a"), ex("p"), b1),
				rdf.T(b1, ex("q"), tricky),
				rdf.T(b1, ex("r"), rdf.LangLiteral("x", "en")),
			}}
			require.NoError(t, b.Apply(ctx, id, d))
			require.NoError(t, b.Apply(ctx, id, Delta{Removed: []rdf.Triple{rdf.T(b1, ex("r"), rdf.LangLiteral("x", "en"))}}))

			g := rdf.NewGraph()
			require.NoError(t, b.Load(ctx, id, g))
			assert.Equal(t, d.Added[:2], g.Triples(), "insertion order and blank handles survive")
			assert.Equal(t, b1.BlankID()+1, g.NewBlank().BlankID())

			ids, err := b.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{id}, ids)

			assert.Error(t, b.Apply(ctx, "http://example.org/missing", d))
		})
	}
}

func TestBackendSubscriptions(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub := &subscriptions.Subscription{
				ID:      "s1",
				Name:    "people",
				Webhook: "http://hooks.example.org/",
				Enabled: true,
				Pattern: subscriptions.SubscriptionPattern{GraphIDs: []string{"http://example.org/*"}},
			}
			require.NoError(t, b.CreateSubscription(ctx, sub))

			sub.FireCount = 3
			require.NoError(t, b.UpdateSubscription(ctx, sub))

			subs, err := b.LoadSubscriptions(ctx)
			require.NoError(t, err)
			require.Len(t, subs, 1)
			assert.Equal(t, 3, subs[0].FireCount)
			assert.Equal(t, []string{"http://example.org/*"}, subs[0].Pattern.GraphIDs)

			require.NoError(t, b.DeleteSubscription(ctx, "s1"))
			subs, err = b.LoadSubscriptions(ctx)
			require.NoError(t, err)
			assert.Empty(t, subs)

			assert.Error(t, b.UpdateSubscription(ctx, sub), "update of a deleted subscription")
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graphs.db")

	store := NewStore(newSQLite(t, path), DefaultOptions, quietLogger())
	h, err := store.Resolve(ctx, "")
	require.NoError(t, err)
	_, err = h.Update(ctx, func(g *rdf.Graph) (Delta, error) {
		b := g.NewBlank()
		return Delta{Added: []rdf.Triple{rdf.T(ex("a"), ex("p"), b), rdf.T(b, ex("q"), rdf.Literal("v"))}}, nil
	})
	require.NoError(t, err)
	want := h.Snapshot()
	require.NoError(t, store.Close(ctx))

	store = NewStore(newSQLite(t, path), DefaultOptions, quietLogger())
	defer store.Close(ctx)
	h, err = store.Resolve(ctx, ContentGraph)
	require.NoError(t, err)
	got := h.Snapshot()
	assert.Equal(t, want.Triples(), got.Triples())
}

func TestResolvePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("create missing", func(t *testing.T) {
		b := NewMemory()
		store := NewStore(b, DefaultOptions, quietLogger())
		h, err := store.Resolve(ctx, "http://example.org/new")
		require.NoError(t, err)
		assert.Equal(t, 0, h.Len())
		ok, _ := b.Exists(ctx, "http://example.org/new")
		assert.True(t, ok)
	})

	t.Run("strict", func(t *testing.T) {
		store := NewStore(NewMemory(), Options{CreateMissing: false}, quietLogger())
		_, err := store.Resolve(ctx, "http://example.org/new")
		assert.ErrorIs(t, err, errs.ErrGraphNotFound)

		h, err := store.Resolve(ctx, "")
		require.NoError(t, err, "the content graph always exists")
		assert.Equal(t, ContentGraph, h.ID())
	})

	t.Run("strict existing", func(t *testing.T) {
		b := NewMemory()
		require.NoError(t, b.Create(ctx, "http://example.org/old"))
		store := NewStore(b, Options{CreateMissing: false}, quietLogger())
		_, err := store.Resolve(ctx, "http://example.org/old")
		assert.NoError(t, err)
	})

	t.Run("invalid identifier", func(t *testing.T) {
		store := NewStore(NewMemory(), DefaultOptions, quietLogger())
		for _, id := range []string{"relative/path", "http://example.org/with space", "<http://example.org/>"} {
			_, err := store.Resolve(ctx, id)
			assert.Equal(t, errs.KindInvalid, errs.KindOf(err), id)
		}
	})

	t.Run("existing only", func(t *testing.T) {
		b := NewMemory()
		store := NewStore(b, DefaultOptions, quietLogger())
		var events []subscriptions.Event
		store.SetEventEmitter(func(e subscriptions.Event) { events = append(events, e) })

		_, err := store.ResolveExisting(ctx, "http://example.org/new")
		assert.ErrorIs(t, err, errs.ErrGraphNotFound)
		_, err = store.ResolveExisting(ctx, "")
		assert.ErrorIs(t, err, errs.ErrGraphNotFound, "the content graph is created by writers")

		ids, err := b.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Empty(t, events)
		assert.Equal(t, 0, store.Loaded())

		created, err := store.Resolve(ctx, "http://example.org/new")
		require.NoError(t, err)
		found, err := store.ResolveExisting(ctx, "http://example.org/new")
		require.NoError(t, err)
		assert.Same(t, created, found)
	})

	t.Run("existing only from backend", func(t *testing.T) {
		b := NewMemory()
		require.NoError(t, b.Create(ctx, "http://example.org/old"))
		store := NewStore(b, Options{CreateMissing: false}, quietLogger())
		h, err := store.ResolveExisting(ctx, "http://example.org/old")
		require.NoError(t, err)
		assert.Equal(t, "http://example.org/old", h.ID())

		_, err = store.ResolveExisting(ctx, "relative")
		assert.Equal(t, errs.KindInvalid, errs.KindOf(err))
	})

	t.Run("creates missing", func(t *testing.T) {
		lenient := NewStore(NewMemory(), DefaultOptions, quietLogger())
		strict := NewStore(NewMemory(), Options{CreateMissing: false}, quietLogger())
		assert.True(t, lenient.CreatesMissing("http://example.org/g"))
		assert.False(t, strict.CreatesMissing("http://example.org/g"))
		assert.True(t, strict.CreatesMissing(""))
		assert.True(t, strict.CreatesMissing(ContentGraph))
	})

	t.Run("idempotent", func(t *testing.T) {
		store := NewStore(NewMemory(), DefaultOptions, quietLogger())
		a, err := store.Resolve(ctx, "http://example.org/g")
		require.NoError(t, err)
		b, err := store.Resolve(ctx, "http://example.org/g")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})
}

// countingBackend counts loads and can be made to fail.
type countingBackend struct {
	Backend
	loads    atomic.Int32
	gate     chan struct{}
	failNext atomic.Bool
}

func (c *countingBackend) Load(ctx context.Context, id string, g *rdf.Graph) error {
	c.loads.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.Backend.Load(ctx, id, g)
}

func (c *countingBackend) Apply(ctx context.Context, id string, d Delta) error {
	if c.failNext.Swap(false) {
		return errors.New("connection reset")
	}
	return c.Backend.Apply(ctx, id, d)
}

func TestConcurrentResolveLoadsOnce(t *testing.T) {
	cb := &countingBackend{Backend: NewMemory(), gate: make(chan struct{})}
	store := NewStore(cb, DefaultOptions, quietLogger())

	const n = 16
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := store.Resolve(context.Background(), "http://example.org/g")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	close(cb.gate)
	wg.Wait()

	assert.Equal(t, int32(1), cb.loads.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, 1, store.Loaded())
}

func TestUpdateBackendFailureLeavesGraph(t *testing.T) {
	ctx := context.Background()
	cb := &countingBackend{Backend: NewMemory()}
	store := NewStore(cb, DefaultOptions, quietLogger())
	h, err := store.Resolve(ctx, "")
	require.NoError(t, err)

	keep := rdf.T(ex("a"), ex("p"), ex("b"))
	_, err = h.Update(ctx, func(g *rdf.Graph) (Delta, error) {
		return Delta{Added: []rdf.Triple{keep}}, nil
	})
	require.NoError(t, err)

	cb.failNext.Store(true)
	_, err = h.Update(ctx, func(g *rdf.Graph) (Delta, error) {
		return Delta{Removed: []rdf.Triple{keep}, Added: []rdf.Triple{rdf.T(ex("c"), ex("p"), ex("d"))}}, nil
	})
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
	assert.Equal(t, []rdf.Triple{keep}, h.Snapshot().Triples())
}

func TestUpdateCallbackErrorLeavesGraph(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemory(), DefaultOptions, quietLogger())
	h, err := store.Resolve(ctx, "")
	require.NoError(t, err)

	_, err = h.Update(ctx, func(g *rdf.Graph) (Delta, error) {
		return Delta{Added: []rdf.Triple{rdf.T(ex("a"), ex("p"), ex("b"))}}, rdf.ErrNoSuchSubgraph
	})
	assert.ErrorIs(t, err, rdf.ErrNoSuchSubgraph)
	assert.Equal(t, 0, h.Len())
}

func TestDeltaNet(t *testing.T) {
	a := rdf.T(ex("a"), ex("p"), ex("1"))
	b := rdf.T(ex("b"), ex("p"), ex("2"))
	c := rdf.T(ex("c"), ex("p"), ex("3"))
	g := rdf.NewGraph()
	g.AddAll([]rdf.Triple{a, b})

	d := Delta{
		Removed: []rdf.Triple{a, b, c},
		Added:   []rdf.Triple{b, c, c},
	}.net(g)

	assert.Equal(t, []rdf.Triple{a}, d.Removed, "absent statements are not removed, re-added ones stay")
	assert.Equal(t, []rdf.Triple{c}, d.Added, "duplicates collapse")
	assert.True(t, Delta{Added: []rdf.Triple{a}}.net(g).Empty(), "adding a present statement is a no-op")
}

func TestUpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemory(), DefaultOptions, quietLogger())
	h, err := store.Resolve(ctx, "")
	require.NoError(t, err)

	counter := ex("counter")
	_, err = h.Update(ctx, func(g *rdf.Graph) (Delta, error) {
		return Delta{Added: []rdf.Triple{rdf.T(counter, ex("value"), rdf.Literal("0"))}}, nil
	})
	require.NoError(t, err)

	// Each writer replaces value n with n+1; lost updates would leave
	// more than one value or a smaller final count.
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Update(ctx, func(g *rdf.Graph) (Delta, error) {
				cur := g.Filter(counter, ex("value"), rdf.Term{})
				if len(cur) != 1 {
					return Delta{}, fmt.Errorf("expected one value, got %d", len(cur))
				}
				n, err := strconv.Atoi(cur[0].O.Value())
				if err != nil {
					return Delta{}, err
				}
				next := rdf.T(counter, ex("value"), rdf.Literal(strconv.Itoa(n+1)))
				return Delta{Removed: cur, Added: []rdf.Triple{next}}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, []rdf.Triple{rdf.T(counter, ex("value"), rdf.Literal(strconv.Itoa(writers)))}, h.Snapshot().Triples())
}

func TestCreationEmitsEvent(t *testing.T) {
	store := NewStore(NewMemory(), DefaultOptions, quietLogger())
	var events []subscriptions.Event
	store.SetEventEmitter(func(e subscriptions.Event) { events = append(events, e) })

	_, err := store.Resolve(context.Background(), "http://example.org/g")
	require.NoError(t, err)
	_, err = store.Resolve(context.Background(), "http://example.org/g")
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, subscriptions.EventGraphCreated, events[0].Type)
	assert.Equal(t, "http://example.org/g", events[0].GraphID)
}
