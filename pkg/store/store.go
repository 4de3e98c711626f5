// Package store keeps named collections of embedded text fragments and
// answers nearest-neighbour queries over them. Three backends share the
// types.VectorStore contract: Postgres with pgvector, SQLite and memory.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/tmc/langchaingo/embeddings"

	"github.com/xhad/normativa/internal/types"
	"github.com/xhad/normativa/pkg/faults"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

var namePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Config struct {
	Driver string
	// URL is the Postgres connection string.
	URL string
	// Path is the SQLite database file.
	Path string
	// Dimension of the embedding vectors, required by the Postgres schema.
	Dimension int
	Logger    *slog.Logger
}

// New opens the backend selected by config.Driver. Every collection it hands
// out embeds its text with embedder.
func New(ctx context.Context, config Config, embedder embeddings.Embedder) (types.VectorStore, error) {
	switch config.Driver {
	case DriverPostgres:
		return NewPGVectorStore(ctx, PGVectorConfig{
			ConnString: config.URL,
			VectorDim:  config.Dimension,
			Logger:     config.Logger,
		}, embedder)
	case DriverSQLite:
		return NewSQLiteStore(ctx, config.Path, embedder)
	case DriverMemory, "":
		return NewMemoryStore(embedder), nil
	}
	return nil, &faults.ConfigurationError{
		Setting: "database.driver",
		Err:     fmt.Errorf("unsupported driver %q", config.Driver),
	}
}

// ValidateName rejects collection names that are not plain lower-case
// identifiers.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid collection name %q: must match %s", name, namePattern)
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func embedEntries(ctx context.Context, embedder embeddings.Embedder, texts []string) ([][]float32, error) {
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, faults.Service("embedding", "embed_documents", err)
	}
	if len(vectors) != len(texts) {
		return nil, &faults.ServiceError{
			Service: "embedding",
			Op:      "embed_documents",
			Err:     fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts)),
		}
	}
	return vectors, nil
}

func embedQuery(ctx context.Context, embedder embeddings.Embedder, text string) ([]float32, error) {
	vector, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, faults.Service("embedding", "embed_query", err)
	}
	return vector, nil
}
