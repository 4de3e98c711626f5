package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/normativa/pkg/faults"
)

type fakeEmbedder struct {
	vectors [][]float32
	errs    []error
	calls   int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float32, len(texts))
	for j, text := range texts {
		out[j] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func newTestEmbedder(inner *fakeEmbedder) *Embedder {
	e := NewEmbedder(inner, EmbedderConfig{Timeout: time.Second})
	e.caller.backoff = func(int) time.Duration { return 0 }
	return e
}

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := NewEmbedderWithConfig(EmbedderConfig{
		Model:   "nomic-embed-text:latest",
		BaseURL: "http://localhost:11434",
	})
	require.NoError(t, err)
	assert.NotNil(t, emb)
}

func TestEmbedder_EmbedDocuments(t *testing.T) {
	inner := &fakeEmbedder{}
	emb := newTestEmbedder(inner)

	vectors, err := emb.EmbedDocuments(context.Background(), []string{"a", "bbb"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}}, vectors)
}

func TestEmbedder_EmptyInput(t *testing.T) {
	inner := &fakeEmbedder{}
	emb := newTestEmbedder(inner)

	vectors, err := emb.EmbedDocuments(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, 0, inner.calls)
}

func TestEmbedder_CountMismatch(t *testing.T) {
	inner := &fakeEmbedder{vectors: [][]float32{{1}}}
	emb := newTestEmbedder(inner)

	_, err := emb.EmbedDocuments(context.Background(), []string{"a", "b"})

	var se *faults.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "embedding", se.Service)
}

func TestEmbedder_RetriesQuery(t *testing.T) {
	inner := &fakeEmbedder{errs: []error{errors.New("503 service unavailable")}}
	emb := newTestEmbedder(inner)

	vector, err := emb.EmbedQuery(context.Background(), "abcd")

	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1}, vector)
	assert.Equal(t, 2, inner.calls)
}
