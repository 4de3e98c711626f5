package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/internal/types"
	"github.com/xhad/normativa/pkg/faults"
)

// Ensure SQLiteStore implements the interface.
var _ types.VectorStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS entries (
	collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE ON UPDATE CASCADE,
	id         TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE TABLE IF NOT EXISTS index_locks (
	name        TEXT PRIMARY KEY,
	acquired_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Locks older than this are left over from a crashed run. A held lock is
// touched every lockRefreshInterval, well inside that window.
const (
	staleLockAge        = "-6 hours"
	lockRefreshInterval = 10 * time.Minute
)

// SQLiteStore keeps all collections in one SQLite file. Embeddings are
// stored as float32 BLOBs and queries rank by brute-force cosine distance.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	embedder    embeddings.Embedder
	lockRefresh time.Duration
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string, embedder embeddings.Embedder) (*SQLiteStore, error) {
	if path == "" {
		return nil, &faults.ConfigurationError{Setting: "database.path", Err: errors.New("sqlite path is empty")}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, embedder: embedder, lockRefresh: lockRefreshInterval}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) CreateCollection(ctx context.Context, name string) (types.Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO collections(name) VALUES(?)`, name)
	if err != nil {
		return nil, faults.Service("store", "create_collection", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionExists, name)
	}
	return &sqliteCollection{store: s, name: name}, nil
}

func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (types.Collection, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM collections WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, faults.Service("store", "get_collection", err)
	}
	return &sqliteCollection{store: s, name: found}, nil
}

func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return faults.Service("store", "delete_collection", err)
	}
	return nil
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, faults.Service("store", "list_collections", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, faults.Service("store", "list_collections", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Service("store", "list_collections", err)
	}
	return names, nil
}

// Promote drops name and renames staging in one transaction; the foreign key
// cascades carry the entries along.
func (s *SQLiteStore) Promote(ctx context.Context, staging, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.Service("store", "promote", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return faults.Service("store", "promote", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE collections SET name = ? WHERE name = ?`, name, staging)
	if err != nil {
		return faults.Service("store", "promote", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", types.ErrCollectionNotFound, staging)
	}
	if err := tx.Commit(); err != nil {
		return faults.Service("store", "promote", err)
	}
	return nil
}

// Lock inserts a lock row for name. Rows older than staleLockAge are
// reclaimed; the row of a held lock is refreshed until unlock.
func (s *SQLiteStore) Lock(ctx context.Context, name string) (func(), error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM index_locks WHERE name = ? AND acquired_at < datetime('now', ?)`, name, staleLockAge); err != nil {
		return nil, faults.Service("store", "lock", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO index_locks(name) VALUES(?)`, name)
	if err != nil {
		return nil, faults.Service("store", "lock", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrIndexInProgress, name)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.lockRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := s.db.ExecContext(context.Background(),
					`UPDATE index_locks SET acquired_at = CURRENT_TIMESTAMP WHERE name = ?`, name); err != nil {
					slog.Warn("refreshing index lock", "collection", name, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			_, _ = s.db.ExecContext(context.Background(), `DELETE FROM index_locks WHERE name = ?`, name)
		})
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

type sqliteCollection struct {
	store *SQLiteStore
	name  string
}

func (c *sqliteCollection) Name() string { return c.name }

// Add upserts entries by id.
func (c *sqliteCollection) Add(ctx context.Context, entries []models.Entry) error {
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

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.Service("store", "add", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries(collection, id, content, metadata, embedding) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding`)
	if err != nil {
		return faults.Service("store", "add", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		meta, err := json.Marshal(copyMetadata(e.Metadata))
		if err != nil {
			return fmt.Errorf("encoding metadata of %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.name, e.ID, e.Text, string(meta), EncodeEmbedding(vectors[i])); err != nil {
			return faults.Service("store", "add", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return faults.Service("store", "add", err)
	}
	return nil
}

func (c *sqliteCollection) Query(ctx context.Context, text string, k int) ([]models.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vector, err := embedQuery(ctx, c.store.embedder, text)
	if err != nil {
		return nil, err
	}

	rows, err := c.store.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM entries WHERE collection = ?`, c.name)
	if err != nil {
		return nil, faults.Service("store", "query", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var (
			m    models.Match
			meta string
			blob []byte
		)
		if err := rows.Scan(&m.ID, &m.Text, &meta, &blob); err != nil {
			return nil, faults.Service("store", "query", err)
		}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", m.ID, err)
		}
		stored, err := DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding of %s: %w", m.ID, err)
		}
		if m.Distance, err = CosineDistance(vector, stored); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Service("store", "query", err)
	}
	return rank(matches, k), nil
}

func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE collection = ?`, c.name).Scan(&n)
	if err != nil {
		return 0, faults.Service("store", "count", err)
	}
	return n, nil
}
