package indexer

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB stores chunk text and embeddings for the resume index.
type DB struct {
	db *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	// WAL allows readers while ingestion writes.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db}
	if err := d.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id  TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		seq       INTEGER NOT NULL,
		text      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_namespace ON chunks(namespace);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id  TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		vector    BLOB NOT NULL,
		FOREIGN KEY (chunk_id) REFERENCES chunks(chunk_id) ON DELETE CASCADE
	);
	`
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// InsertChunks stores chunks and their vectors in one transaction. vectors
// may be nil when no embedder is configured.
func (d *DB) InsertChunks(ctx context.Context, chunks []Chunk, vectors [][]byte, dim int) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks (chunk_id, namespace, seq, text) VALUES (?, ?, ?, ?)`,
			c.ChunkID, c.Namespace, c.Seq, c.Text); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
		if i < len(vectors) && vectors[i] != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO embeddings (chunk_id, dimension, vector) VALUES (?, ?, ?)`,
				c.ChunkID, dim, vectors[i]); err != nil {
				return fmt.Errorf("insert embedding %s: %w", c.ChunkID, err)
			}
		}
	}
	return tx.Commit()
}

// GetChunk returns one chunk by id.
func (d *DB) GetChunk(ctx context.Context, chunkID string) (*Chunk, error) {
	var c Chunk
	err := d.db.QueryRowContext(ctx,
		`SELECT chunk_id, namespace, seq, text FROM chunks WHERE chunk_id = ?`, chunkID).
		Scan(&c.ChunkID, &c.Namespace, &c.Seq, &c.Text)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// embeddedChunk is a chunk with its decoded vector.
type embeddedChunk struct {
	chunk  Chunk
	vector []byte
}

// embeddedChunks returns chunks that have vectors, optionally restricted to
// one namespace.
func (d *DB) embeddedChunks(ctx context.Context, namespace string, limit int) ([]embeddedChunk, error) {
	query := `SELECT c.chunk_id, c.namespace, c.seq, c.text, e.vector
		FROM chunks c JOIN embeddings e ON e.chunk_id = c.chunk_id`
	args := []any{}
	if namespace != "" {
		query += ` WHERE c.namespace = ?`
		args = append(args, namespace)
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []embeddedChunk
	for rows.Next() {
		var ec embeddedChunk
		if err := rows.Scan(&ec.chunk.ChunkID, &ec.chunk.Namespace, &ec.chunk.Seq, &ec.chunk.Text, &ec.vector); err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

// ChunkIDs returns the ids of every chunk in namespace.
func (d *DB) ChunkIDs(ctx context.Context, namespace string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT chunk_id FROM chunks WHERE namespace = ? ORDER BY seq`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteNamespace removes every chunk and embedding of namespace.
func (d *DB) DeleteNamespace(ctx context.Context, namespace string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE namespace = ?)`, namespace); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return tx.Commit()
}
