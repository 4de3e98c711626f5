package retrieval_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/internal/types"
	"github.com/xhad/normativa/pkg/retrieval"
	"github.com/xhad/normativa/pkg/store"
)

type letterEmbedder struct{}

func (e letterEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = e.EmbedQuery(ctx, text)
	}
	return out, nil
}

func (letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func seed(t *testing.T) types.VectorStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore(letterEmbedder{})
	c, err := s.CreateCollection(ctx, "normatividad")
	require.NoError(t, err)
	require.NoError(t, c.Add(ctx, []models.Entry{
		{ID: "ley.pdf_0", Text: "aaaa", Metadata: map[string]string{models.SourceKey: "ley.pdf"}},
		{ID: "circ.pdf_0", Text: "aaab", Metadata: map[string]string{models.SourceKey: "circ.pdf"}},
		{ID: "ley.pdf_1", Text: "aabb", Metadata: map[string]string{models.SourceKey: "ley.pdf"}},
		{ID: "anon_0", Text: "abbb"},
		{ID: "zzz_0", Text: "zzzz", Metadata: map[string]string{models.SourceKey: "z.pdf"}},
	}))
	return s
}

func TestRetrieve(t *testing.T) {
	engine := retrieval.NewWithConfig(seed(t), retrieval.EngineConfig{})

	result, err := engine.Retrieve(context.Background(), "aaaa", 4)

	require.NoError(t, err)
	assert.Equal(t, "aaaa\n\naaab\n\naabb\n\nabbb", result.Context)
	assert.Equal(t, []string{models.UnknownSource, "circ.pdf", "ley.pdf"}, result.Sources)
}

func TestRetrieveDefaultTopK(t *testing.T) {
	engine := retrieval.NewWithConfig(seed(t), retrieval.EngineConfig{TopK: 2})

	result, err := engine.Retrieve(context.Background(), "aaaa", 0)

	require.NoError(t, err)
	assert.Equal(t, "aaaa\n\naaab", result.Context)
	assert.Equal(t, []string{"circ.pdf", "ley.pdf"}, result.Sources)
}

func TestRetrieveDeterministic(t *testing.T) {
	engine := retrieval.NewWithConfig(seed(t), retrieval.EngineConfig{})

	first, err := engine.Retrieve(context.Background(), "abab", 10)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := engine.Retrieve(context.Background(), "abab", 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieveMissingCollection(t *testing.T) {
	engine := retrieval.NewWithConfig(store.NewMemoryStore(letterEmbedder{}), retrieval.EngineConfig{Collection: "vacia"})

	_, err := engine.Retrieve(context.Background(), "aaaa", 3)

	assert.ErrorIs(t, err, types.ErrCollectionNotFound)
}
