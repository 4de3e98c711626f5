package config

import (
	"fmt"
	"net/url"

	"github.com/xhad/normativa/pkg/llm"
	"github.com/xhad/normativa/pkg/store"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate model providers
	errors = append(errors, validateProvider("llm", c.LLM.Provider, c.LLM.BaseURL, c.LLM.APIKey)...)
	errors = append(errors, validateProvider("embedder", c.Embedder.Provider, c.Embedder.BaseURL, c.Embedder.APIKey)...)
	errors = append(errors, validateProvider("ocr", c.OCR.Provider, c.OCR.BaseURL, c.OCR.APIKey)...)

	if c.LLM.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout",
			Message: "timeout must not be negative",
		})
	}

	if c.LLM.MaxRetries < 1 || c.LLM.MaxRetries > 10 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_retries",
			Message: "max_retries must be between 1 and 10",
		})
	}

	if c.LLM.RequestsPerSecond < 0 || c.Embedder.RequestsPerSecond < 0 {
		errors = append(errors, ValidationError{
			Field:   "requests_per_second",
			Message: "requests_per_second must not be negative",
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Database config
	switch c.Database.Driver {
	case store.DriverPostgres:
		if c.Database.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "database URL is required for the postgres driver",
			})
		} else if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	case store.DriverSQLite:
		if c.Database.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "database.path",
				Message: "database path is required for the sqlite driver",
			})
		}
	case store.DriverMemory:
	default:
		errors = append(errors, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("unsupported driver %q", c.Database.Driver),
		})
	}

	if c.Database.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.dimension",
			Message: "dimension must be positive",
		})
	}

	if dim, ok := EmbeddingDimension(c.Embedder.Model); ok && c.Database.Dimension > 0 && dim != c.Database.Dimension {
		errors = append(errors, ValidationError{
			Field:   "database.dimension",
			Message: fmt.Sprintf("dimension %d does not match embedder %s (%d)", c.Database.Dimension, c.Embedder.Model, dim),
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Corpus config
	if err := store.ValidateName(c.Corpus.Collection); err != nil {
		errors = append(errors, ValidationError{
			Field:   "corpus.collection",
			Message: err.Error(),
		})
	}

	if c.Corpus.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "corpus.workers",
			Message: "workers must be positive",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	if _, err := c.NormalizerRules(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "normalizer",
			Message: err.Error(),
		})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	return errors
}

func validateProvider(section, provider, baseURL, apiKey string) []ValidationError {
	var errors []ValidationError

	switch provider {
	case llm.ProviderOllama:
		if baseURL == "" {
			errors = append(errors, ValidationError{
				Field:   section + ".base_url",
				Message: "Ollama base URL is required",
			})
		}
	case llm.ProviderOpenAI:
		if apiKey == "" {
			errors = append(errors, ValidationError{
				Field:   section + ".api_key",
				Message: "API key is required for the openai provider",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   section + ".provider",
			Message: fmt.Sprintf("unsupported provider %q", provider),
		})
		return errors
	}

	// Validate base URL format
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   section + ".base_url",
				Message: "invalid base URL",
			})
		}
	}

	return errors
}
