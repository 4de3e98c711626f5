package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/internal/types"
	"github.com/xhad/normativa/pkg/faults"
)

// Ensure VectorStore implements the interface.
var _ types.VectorStore = (*VectorStore)(nil)

type PGVectorConfig struct {
	ConnString string
	// CatalogTable maps collection names to the tables holding their entries.
	CatalogTable string
	VectorDim    int
	Logger       *slog.Logger
}

// VectorStore keeps one table per collection with an HNSW cosine index. A
// catalog table maps names to tables, so promoting a staging collection only
// rewrites a catalog row.
type VectorStore struct {
	config   PGVectorConfig
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
}

func NewPGVectorStore(ctx context.Context, config PGVectorConfig, embedder embeddings.Embedder) (*VectorStore, error) {
	if config.ConnString == "" {
		return nil, &faults.ConfigurationError{Setting: "database.url", Err: errors.New("connection string is empty")}
	}
	if config.CatalogTable == "" {
		config.CatalogTable = "normativa_collections"
	}
	if err := ValidateName(config.CatalogTable); err != nil {
		return nil, &faults.ConfigurationError{Setting: "database.catalog_table", Err: err}
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createCatalog := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			table_name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.config.CatalogTable)

	_, err = vs.pool.Exec(ctx, createCatalog)
	if err != nil {
		return fmt.Errorf("failed to create catalog table: %w", err)
	}

	return nil
}

func (vs *VectorStore) CreateCollection(ctx context.Context, name string) (types.Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	table := "vec_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, faults.Service("store", "create_collection", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (name, table_name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		vs.config.CatalogTable), name, table)
	if err != nil {
		return nil, faults.Service("store", "create_collection", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionExists, name)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, table, vs.config.VectorDim)
	if _, err := tx.Exec(ctx, createTable); err != nil {
		return nil, faults.Service("store", "create_collection", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		table, table)
	if _, err := tx.Exec(ctx, createIndex); err != nil {
		return nil, faults.Service("store", "create_collection", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, faults.Service("store", "create_collection", err)
	}

	vs.config.Logger.Debug("collection created", "collection", name, "table", table)
	return &pgCollection{store: vs, name: name, table: table}, nil
}

func (vs *VectorStore) GetCollection(ctx context.Context, name string) (types.Collection, error) {
	table, err := vs.tableFor(ctx, vs.pool, name)
	if err != nil {
		return nil, err
	}
	return &pgCollection{store: vs, name: name, table: table}, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (vs *VectorStore) tableFor(ctx context.Context, q querier, name string) (string, error) {
	var table string
	err := q.QueryRow(ctx, fmt.Sprintf(`SELECT table_name FROM %s WHERE name = $1`, vs.config.CatalogTable), name).Scan(&table)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	if err != nil {
		return "", faults.Service("store", "get_collection", err)
	}
	return table, nil
}

func (vs *VectorStore) DeleteCollection(ctx context.Context, name string) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return faults.Service("store", "delete_collection", err)
	}
	defer tx.Rollback(ctx)

	if err := vs.drop(ctx, tx, name); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return faults.Service("store", "delete_collection", err)
	}
	return nil
}

// drop removes name and its table inside tx. Unknown names are a no-op.
func (vs *VectorStore) drop(ctx context.Context, tx pgx.Tx, name string) error {
	table, err := vs.tableFor(ctx, tx, name)
	if errors.Is(err, types.ErrCollectionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, vs.config.CatalogTable), name); err != nil {
		return faults.Service("store", "delete_collection", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return faults.Service("store", "delete_collection", err)
	}
	return nil
}

func (vs *VectorStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := vs.pool.Query(ctx, fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, vs.config.CatalogTable))
	if err != nil {
		return nil, faults.Service("store", "list_collections", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, faults.Service("store", "list_collections", err)
	}
	return names, nil
}

// Promote drops name and renames staging to it in a single transaction.
func (vs *VectorStore) Promote(ctx context.Context, staging, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return faults.Service("store", "promote", err)
	}
	defer tx.Rollback(ctx)

	if _, err := vs.tableFor(ctx, tx, staging); err != nil {
		return err
	}
	if err := vs.drop(ctx, tx, name); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET name = $1 WHERE name = $2`, vs.config.CatalogTable), name, staging); err != nil {
		return faults.Service("store", "promote", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return faults.Service("store", "promote", err)
	}
	return nil
}

// Lock takes a session-level advisory lock keyed on name. The connection
// holding it stays out of the pool until unlock is called.
func (vs *VectorStore) Lock(ctx context.Context, name string) (func(), error) {
	conn, err := vs.pool.Acquire(ctx)
	if err != nil {
		return nil, faults.Service("store", "lock", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&acquired); err != nil {
		conn.Release()
		return nil, faults.Service("store", "lock", err)
	}
	if !acquired {
		conn.Release()
		return nil, fmt.Errorf("%w: %s", types.ErrIndexInProgress, name)
	}

	return func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
			vs.config.Logger.Warn("failed to release index lock", "collection", name, "error", err)
		}
		conn.Release()
	}, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

type pgCollection struct {
	store *VectorStore
	name  string
	table string
}

func (c *pgCollection) Name() string { return c.name }

// Add upserts entries by id in one transaction.
func (c *pgCollection) Add(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	vectors, err := embedEntries(ctx, c.store.embedder, texts)
	if err != nil {
		return err
	}

	// Begin transaction
	tx, err := c.store.pool.Begin(ctx)
	if err != nil {
		return faults.Service("store", "add", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		c.table)

	batch := &pgx.Batch{}
	for i, e := range entries {
		batch.Queue(stmt, e.ID, e.Text, copyMetadata(e.Metadata), pgvector.NewVector(vectors[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return faults.Service("store", "add", fmt.Errorf("failed to insert entries: %w", err))
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return faults.Service("store", "add", fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func (c *pgCollection) Query(ctx context.Context, text string, k int) ([]models.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vector, err := embedQuery(ctx, c.store.embedder, text)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, embedding <=> $1 AS distance
		FROM %s
		ORDER BY distance, id
		LIMIT $2`,
		c.table)

	rows, err := c.store.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, faults.Service("store", "query", fmt.Errorf("failed to query entries: %w", err))
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.ID, &m.Text, &m.Metadata, &m.Distance); err != nil {
			return nil, faults.Service("store", "query", fmt.Errorf("failed to scan row: %w", err))
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Service("store", "query", err)
	}

	return matches, nil
}

func (c *pgCollection) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.store.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, c.table)).Scan(&n); err != nil {
		return 0, faults.Service("store", "count", err)
	}
	return n, nil
}
