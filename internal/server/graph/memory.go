package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/systemshift/graphedit/internal/rdf"
	"github.com/systemshift/graphedit/internal/server/subscriptions"
)

// MemoryBackend keeps graphs and subscriptions in process memory. Nothing
// survives a restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	graphs map[string][]rdf.Triple
	subs   map[string]subscriptions.Subscription
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{
		graphs: make(map[string][]rdf.Triple),
		subs:   make(map[string]subscriptions.Subscription),
	}
}

func (m *MemoryBackend) Close(ctx context.Context) error         { return nil }
func (m *MemoryBackend) EnsureIndexes(ctx context.Context) error { return nil }

func (m *MemoryBackend) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.graphs[id]
	return ok, nil
}

func (m *MemoryBackend) Create(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.graphs[id]; !ok {
		m.graphs[id] = nil
	}
	return nil
}

func (m *MemoryBackend) Load(ctx context.Context, id string, g *rdf.Graph) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.graphs[id]
	if !ok {
		return fmt.Errorf("graph not found: %s", id)
	}
	g.AddAll(ts)
	return nil
}

func (m *MemoryBackend) Apply(ctx context.Context, id string, d Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.graphs[id]
	if !ok {
		return fmt.Errorf("graph not found: %s", id)
	}

	gone := make(map[rdf.Triple]bool, len(d.Removed))
	for _, t := range d.Removed {
		gone[t] = true
	}
	kept := make([]rdf.Triple, 0, len(ts)+len(d.Added))
	present := make(map[rdf.Triple]bool, len(ts))
	for _, t := range ts {
		if !gone[t] {
			kept = append(kept, t)
			present[t] = true
		}
	}
	for _, t := range d.Added {
		if !present[t] {
			kept = append(kept, t)
			present[t] = true
		}
	}
	m.graphs[id] = kept
	return nil
}

func (m *MemoryBackend) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.graphs))
	for id := range m.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CreateSubscription stores a copy of sub.
func (m *MemoryBackend) CreateSubscription(ctx context.Context, sub *subscriptions.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; ok {
		return fmt.Errorf("subscription already exists: %s", sub.ID)
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemoryBackend) UpdateSubscription(ctx context.Context, sub *subscriptions.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return fmt.Errorf("subscription not found: %s", sub.ID)
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemoryBackend) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *MemoryBackend) LoadSubscriptions(ctx context.Context) ([]*subscriptions.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*subscriptions.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}
