package graph

// SQLite schema DDL constants

const schemaGraphs = `
CREATE TABLE IF NOT EXISTS graphs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL
)`

// Terms are stored in N-Triples form; blank nodes as _:b<handle>.
const schemaTriples = `
CREATE TABLE IF NOT EXISTS triples (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    graph_id TEXT NOT NULL REFERENCES graphs(id) ON DELETE CASCADE,
    subject TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    UNIQUE(graph_id, subject, predicate, object)
)`

const schemaSubscriptions = `
CREATE TABLE IF NOT EXISTS subscriptions (
    id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL
)`

// Index definitions
const indexTriplesGraph = `CREATE INDEX IF NOT EXISTS idx_triples_graph ON triples(graph_id, seq)`

// SQLite pragmas for optimal performance
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaFK = `PRAGMA foreign_keys=ON`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaGraphs,
		schemaTriples,
		schemaSubscriptions,
		indexTriplesGraph,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaFK,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}
