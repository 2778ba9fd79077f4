package graph

import (
	"context"
	"fmt"

	"github.com/systemshift/graphedit/internal/rdf"
	"github.com/systemshift/graphedit/internal/server/subscriptions"
)

// Backend defines the interface for graph storage backends.
// Memory, SQLite and Neo4j implement this interface.
type Backend interface {
	// Lifecycle
	Close(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error

	// Graph operations
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, id string) error
	// Load adds the persisted statements of id to g, restoring blank node
	// handles from their persisted labels.
	Load(ctx context.Context, id string, g *rdf.Graph) error
	// Apply persists d atomically: either every removal and addition is
	// stored or none is.
	Apply(ctx context.Context, id string, d Delta) error
	List(ctx context.Context) ([]string, error)

	// Subscription persistence (implements subscriptions.Repository)
	subscriptions.Repository
}

// Delta is one committed change to a graph. Removals are applied before
// additions.
type Delta struct {
	Removed []rdf.Triple
	Added   []rdf.Triple
}

// Empty reports whether d changes nothing.
func (d Delta) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0
}

// net reduces d to the statements that actually change g: removals of
// absent statements and additions of present ones are dropped, and a
// statement both removed and re-added stays where it is.
func (d Delta) net(g *rdf.Graph) Delta {
	removed := make(map[rdf.Triple]bool, len(d.Removed))
	for _, t := range d.Removed {
		if g.Contains(t) {
			removed[t] = true
		}
	}

	var out Delta
	added := make(map[rdf.Triple]bool, len(d.Added))
	for _, t := range d.Added {
		if added[t] {
			continue
		}
		added[t] = true
		if removed[t] {
			delete(removed, t)
			continue
		}
		if !g.Contains(t) {
			out.Added = append(out.Added, t)
		}
	}
	for _, t := range d.Removed {
		if removed[t] {
			out.Removed = append(out.Removed, t)
			delete(removed, t)
		}
	}
	return out
}

// Backend kinds accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string
	SQLitePath string
	Neo4j      Neo4jConfig
}

// Open connects the configured backend and prepares its schema.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Backend {
	case BackendMemory, "":
		b = NewMemory()
	case BackendSQLite:
		b, err = NewSQLite(ctx, cfg.SQLitePath)
	case BackendNeo4j:
		b, err = NewNeo4j(ctx, cfg.Neo4j)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := b.EnsureIndexes(ctx); err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("ensuring indexes: %w", err)
	}
	return b, nil
}
