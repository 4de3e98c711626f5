// Package retrieval fetches the fragments most similar to a request from the
// indexed corpus.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/internal/types"
)

// DefaultTopK is the number of fragments retrieved when none is requested.
const DefaultTopK = 10

type EngineConfig struct {
	Collection string
	TopK       int
	Logger     *slog.Logger
}

// Engine queries one named collection. The collection is looked up on every
// call so a rebuilt index is picked up without restarting.
type Engine struct {
	config EngineConfig
	store  types.VectorStore
}

func NewWithConfig(store types.VectorStore, config EngineConfig) *Engine {
	if config.Collection == "" {
		config.Collection = "normatividad"
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Engine{config: config, store: store}
}

// Retrieve returns the k nearest fragments joined by blank lines, in rank
// order, together with the sorted set of their sources. k <= 0 uses the
// configured default.
func (e *Engine) Retrieve(ctx context.Context, message string, k int) (models.RetrievalResult, error) {
	if k <= 0 {
		k = e.config.TopK
	}

	collection, err := e.store.GetCollection(ctx, e.config.Collection)
	if err != nil {
		return models.RetrievalResult{}, fmt.Errorf("opening collection %s: %w", e.config.Collection, err)
	}

	matches, err := collection.Query(ctx, message, k)
	if err != nil {
		return models.RetrievalResult{}, fmt.Errorf("querying collection %s: %w", e.config.Collection, err)
	}

	texts := make([]string, 0, len(matches))
	sources := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Text)
		source := m.Metadata[models.SourceKey]
		if source == "" {
			source = models.UnknownSource
		}
		sources = append(sources, source)
	}

	result := models.NewRetrievalResult(strings.Join(texts, "\n\n"), sources)
	e.config.Logger.Debug("retrieved context", "collection", e.config.Collection, "chunks", len(matches), "sources", len(result.Sources))
	return result, nil
}
