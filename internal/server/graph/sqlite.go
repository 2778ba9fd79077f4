package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/systemshift/graphedit/internal/rdf"
	"github.com/systemshift/graphedit/internal/server/subscriptions"
)

// SQLiteBackend implements Backend using SQLite
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLite opens (and if needed creates) the database at dbPath
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// Pragmas are per connection; one connection keeps them in force and
	// serialises writers.
	db.SetMaxOpenConns(1)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteBackend{db: db}, nil
}

// Close closes the SQLite connection
func (r *SQLiteBackend) Close(ctx context.Context) error {
	return r.db.Close()
}

// EnsureIndexes creates necessary indexes (already created in schema)
func (r *SQLiteBackend) EnsureIndexes(ctx context.Context) error {
	return nil
}

// Exists reports whether the graph has been created
func (r *SQLiteBackend) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM graphs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking graph: %w", err)
	}
	return true, nil
}

// Create registers an empty graph. Creating an existing graph is a no-op.
func (r *SQLiteBackend) Create(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO graphs (id, created_at, modified_at) VALUES (?, ?, ?)`,
		id, now, now)
	if err != nil {
		return fmt.Errorf("creating graph: %w", err)
	}
	return nil
}

// Load reads the statements of a graph in insertion order
func (r *SQLiteBackend) Load(ctx context.Context, id string, g *rdf.Graph) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT subject, predicate, object FROM triples WHERE graph_id = ? ORDER BY seq`, id)
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s, p, o string
		if err := rows.Scan(&s, &p, &o); err != nil {
			return fmt.Errorf("scanning statement: %w", err)
		}
		t, err := g.ParseTriple(s, p, o)
		if err != nil {
			return fmt.Errorf("decoding statement of %s: %w", id, err)
		}
		g.Add(t)
	}
	return rows.Err()
}

// Apply stores a delta in one transaction
func (r *SQLiteBackend) Apply(ctx context.Context, id string, d Delta) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if len(d.Removed) > 0 {
		del, err := tx.PrepareContext(ctx,
			`DELETE FROM triples WHERE graph_id = ? AND subject = ? AND predicate = ? AND object = ?`)
		if err != nil {
			return fmt.Errorf("preparing delete: %w", err)
		}
		defer del.Close()
		for _, t := range d.Removed {
			if _, err := del.ExecContext(ctx, id, t.S.String(), t.P.String(), t.O.String()); err != nil {
				return fmt.Errorf("deleting statement: %w", err)
			}
		}
	}

	if len(d.Added) > 0 {
		ins, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO triples (graph_id, subject, predicate, object) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer ins.Close()
		for _, t := range d.Added {
			if _, err := ins.ExecContext(ctx, id, t.S.String(), t.P.String(), t.O.String()); err != nil {
				return fmt.Errorf("inserting statement: %w", err)
			}
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE graphs SET modified_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("touching graph: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("graph not found: %s", id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delta: %w", err)
	}
	return nil
}

// List returns every graph identifier
func (r *SQLiteBackend) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM graphs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing graphs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning graph id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Subscription persistence methods

// CreateSubscription persists a subscription as a JSON document
func (r *SQLiteBackend) CreateSubscription(ctx context.Context, sub *subscriptions.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshaling subscription: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, data, created_at, modified_at) VALUES (?, ?, ?, ?)`,
		sub.ID, string(data), sub.Created.UTC().Format(time.RFC3339Nano), sub.Modified.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

// UpdateSubscription replaces a stored subscription
func (r *SQLiteBackend) UpdateSubscription(ctx context.Context, sub *subscriptions.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshaling subscription: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET data = ?, modified_at = ? WHERE id = ?`,
		string(data), sub.Modified.UTC().Format(time.RFC3339Nano), sub.ID)
	if err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription not found: %s", sub.ID)
	}
	return nil
}

// DeleteSubscription removes a subscription
func (r *SQLiteBackend) DeleteSubscription(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

// LoadSubscriptions loads all subscriptions, oldest first
func (r *SQLiteBackend) LoadSubscriptions(ctx context.Context) ([]*subscriptions.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*subscriptions.Subscription
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		sub := &subscriptions.Subscription{}
		if err := json.Unmarshal([]byte(data), sub); err != nil {
			return nil, fmt.Errorf("unmarshaling subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
