package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/systemshift/graphedit/internal/rdf"
	"github.com/systemshift/graphedit/internal/server/subscriptions"
)

// Neo4jBackend stores each graph as a :Graph node and each statement as a
// :Statement node keyed by graph and N-Triples line.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
}

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewNeo4j connects to Neo4j
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jBackend{driver: driver, database: database}, nil
}

func (r *Neo4jBackend) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
}

// Close closes the Neo4j connection
func (r *Neo4jBackend) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// EnsureIndexes creates the uniqueness constraints the backend relies on
func (r *Neo4jBackend) EnsureIndexes(ctx context.Context) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	constraints := []string{
		`CREATE CONSTRAINT graph_id IF NOT EXISTS FOR (g:Graph) REQUIRE g.id IS UNIQUE`,
		`CREATE CONSTRAINT statement_key IF NOT EXISTS FOR (s:Statement) REQUIRE (s.graph, s.key) IS UNIQUE`,
		`CREATE CONSTRAINT subscription_id IF NOT EXISTS FOR (s:Subscription) REQUIRE s.id IS UNIQUE`,
	}
	for _, c := range constraints {
		result, err := session.Run(ctx, c, nil)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			return fmt.Errorf("creating constraint: %w", err)
		}
	}
	return nil
}

// Exists reports whether the graph has been created
func (r *Neo4jBackend) Exists(ctx context.Context, id string) (bool, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (g:Graph {id: $id}) RETURN count(g) AS n`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := record.Get("n")
		return n.(int64) > 0, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Create registers an empty graph
func (r *Neo4jBackend) Create(ctx context.Context, id string) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MERGE (g:Graph {id: $id})
			ON CREATE SET g.created = datetime(), g.modified = datetime(), g.seq = 0
		`
		_, err := tx.Run(ctx, query, map[string]any{"id": id})
		return nil, err
	})
	return err
}

// Load reads the statements of a graph in insertion order
func (r *Neo4jBackend) Load(ctx context.Context, id string, g *rdf.Graph) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (s:Statement {graph: $id})
			RETURN s.subject AS s, s.predicate AS p, s.object AS o
			ORDER BY s.seq
		`
		result, err := tx.Run(ctx, query, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}

		var rows [][3]string
		for result.Next(ctx) {
			record := result.Record()
			s, _ := record.Get("s")
			p, _ := record.Get("p")
			o, _ := record.Get("o")
			rows = append(rows, [3]string{s.(string), p.(string), o.(string)})
		}
		return rows, result.Err()
	})
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}

	for _, row := range rows.([][3]string) {
		t, err := g.ParseTriple(row[0], row[1], row[2])
		if err != nil {
			return fmt.Errorf("decoding statement of %s: %w", id, err)
		}
		g.Add(t)
	}
	return nil
}

// Apply stores a delta in one write transaction
func (r *Neo4jBackend) Apply(ctx context.Context, id string, d Delta) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	keys := make([]string, len(d.Removed))
	for i, t := range d.Removed {
		keys[i] = t.String()
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (g:Graph {id: $id})
			SET g.seq = coalesce(g.seq, 0) + $n, g.modified = datetime()
			RETURN g.seq AS seq
		`, map[string]any{"id": id, "n": int64(len(d.Added))})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("graph not found: %s: %w", id, err)
		}
		seq, _ := record.Get("seq")
		base := seq.(int64) - int64(len(d.Added))

		if len(keys) > 0 {
			_, err := tx.Run(ctx, `
				UNWIND $keys AS key
				MATCH (s:Statement {graph: $id, key: key})
				DELETE s
			`, map[string]any{"id": id, "keys": keys})
			if err != nil {
				return nil, err
			}
		}

		if len(d.Added) > 0 {
			rows := make([]map[string]any, len(d.Added))
			for i, t := range d.Added {
				rows[i] = map[string]any{
					"key": t.String(),
					"s":   t.S.String(),
					"p":   t.P.String(),
					"o":   t.O.String(),
					"seq": base + int64(i),
				}
			}
			_, err := tx.Run(ctx, `
				UNWIND $rows AS row
				MERGE (s:Statement {graph: $id, key: row.key})
				ON CREATE SET s.subject = row.s, s.predicate = row.p, s.object = row.o, s.seq = row.seq
			`, map[string]any{"id": id, "rows": rows})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// List returns all graph identifiers
func (r *Neo4jBackend) List(ctx context.Context) ([]string, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (g:Graph) RETURN g.id AS id ORDER BY id`, nil)
		if err != nil {
			return nil, err
		}

		var ids []string
		for result.Next(ctx) {
			record := result.Record()
			id, _ := record.Get("id")
			ids = append(ids, id.(string))
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Subscription persistence methods

// CreateSubscription stores a subscription as a :Subscription node
func (r *Neo4jBackend) CreateSubscription(ctx context.Context, sub *subscriptions.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshaling subscription: %w", err)
	}

	session := r.session(ctx)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			CREATE (s:Subscription {id: $id, data: $data, created: datetime($created)})
		`
		_, err := tx.Run(ctx, query, map[string]any{
			"id":      sub.ID,
			"data":    string(data),
			"created": sub.Created.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
		return nil, err
	})
	return err
}

// UpdateSubscription replaces a stored subscription
func (r *Neo4jBackend) UpdateSubscription(ctx context.Context, sub *subscriptions.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshaling subscription: %w", err)
	}

	session := r.session(ctx)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (s:Subscription {id: $id})
			SET s.data = $data
			RETURN count(s) AS n
		`, map[string]any{"id": sub.ID, "data": string(data)})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		if n, _ := record.Get("n"); n.(int64) == 0 {
			return nil, fmt.Errorf("subscription not found: %s", sub.ID)
		}
		return nil, nil
	})
	return err
}

// DeleteSubscription removes a subscription node
func (r *Neo4jBackend) DeleteSubscription(ctx context.Context, id string) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `MATCH (s:Subscription {id: $id}) DELETE s`, map[string]any{"id": id})
		return nil, err
	})
	return err
}

// LoadSubscriptions loads all subscriptions, oldest first
func (r *Neo4jBackend) LoadSubscriptions(ctx context.Context) ([]*subscriptions.Subscription, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (s:Subscription) RETURN s.data AS data ORDER BY s.created`, nil)
		if err != nil {
			return nil, err
		}

		var docs []string
		for result.Next(ctx) {
			data, _ := result.Record().Get("data")
			docs = append(docs, data.(string))
		}
		return docs, result.Err()
	})
	if err != nil {
		return nil, err
	}

	var subs []*subscriptions.Subscription
	for _, doc := range result.([]string) {
		sub := &subscriptions.Subscription{}
		if err := json.Unmarshal([]byte(doc), sub); err != nil {
			return nil, fmt.Errorf("unmarshaling subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
