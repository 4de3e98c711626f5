package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/normativa/pkg/faults"
)

type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL
	APIKey    string
	BatchSize int
	Timeout   time.Duration
	// RequestsPerSecond limits outgoing calls; zero means unlimited.
	RequestsPerSecond float64
	MaxRetries        int
	Logger            *slog.Logger
}

func (c EmbedderConfig) withDefaults() EmbedderConfig {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.Model = "text-embedding-3-small"
		default:
			c.Model = "nomic-embed-text:latest" // Default Ollama model
		}
	}
	if c.BaseURL == "" && c.Provider == ProviderOllama {
		c.BaseURL = "http://localhost:11434"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Embedder turns text into vectors. It satisfies embeddings.Embedder, adding
// rate limiting, timeouts and retries around the provider client.
type Embedder struct {
	config EmbedderConfig
	embed  embeddings.Embedder
	caller *caller
}

var _ embeddings.Embedder = (*Embedder)(nil)

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	config = config.withDefaults()

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, &faults.ConfigurationError{Setting: "embedder", Err: fmt.Errorf("failed to initialize embedder: %w", err)}
		}
		client = emb
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithEmbeddingModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		emb, err := openai.New(opts...)
		if err != nil {
			return nil, &faults.ConfigurationError{Setting: "embedder", Err: fmt.Errorf("failed to initialize embedder: %w", err)}
		}
		client = emb
	default:
		return nil, &faults.ConfigurationError{
			Setting: "embedder.provider",
			Err:     fmt.Errorf("unsupported provider %q", config.Provider),
		}
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, &faults.ConfigurationError{Setting: "embedder", Err: err}
	}
	return NewEmbedder(embedder, config), nil
}

// NewEmbedder wraps an existing embedder.
func NewEmbedder(embedder embeddings.Embedder, config EmbedderConfig) *Embedder {
	config = config.withDefaults()
	return &Embedder{
		config: config,
		embed:  embedder,
		caller: newCaller("embedding", config.RequestsPerSecond, config.Timeout, config.MaxRetries, config.Logger),
	}
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := call(ctx, e.caller, "embed_documents", func(ctx context.Context) ([][]float32, error) {
		return e.embed.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		return nil, err
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

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, e.caller, "embed_query", func(ctx context.Context) ([]float32, error) {
		return e.embed.EmbedQuery(ctx, text)
	})
}
