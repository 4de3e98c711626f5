package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/normativa/pkg/normalizer"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OLLAMA_BASE_URL", "DATABASE_URL", "OPENAI_API_KEY", "NORMATIVA_CORPUS"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "llama3"
  timeout: 45s
  requests_per_second: 2

embedder:
  model: "mxbai-embed-large"
  batch_size: 16

database:
  driver: "postgres"
  url: "postgres://localhost:5432/test"
  dimension: 1024
  batch_size: 50

corpus:
  folder: "/data/normas"
  collection: "circulares"
  catalog: "/data/catalogo.json"
  workers: 8

retrieval:
  top_k: 5

normalizer:
  noise:
    - name: "signature"
      pattern: "(?i)enviado desde mi iphone"
      action: "drop_line"

output:
  dir: "/tmp/respuestas"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 45*time.Second, config.LLM.Timeout)
	assert.Equal(t, 2.0, config.LLM.RequestsPerSecond)
	assert.Equal(t, "mxbai-embed-large", config.Embedder.Model)
	assert.Equal(t, 16, config.Embedder.BatchSize)
	assert.Equal(t, "postgres://localhost:5432/test", config.Database.URL)
	assert.Equal(t, 1024, config.Database.Dimension)
	assert.Equal(t, "circulares", config.Corpus.Collection)
	assert.Equal(t, 8, config.Corpus.Workers)
	assert.Equal(t, 5, config.Retrieval.TopK)
	assert.Equal(t, "/tmp/respuestas", config.Output.Dir)
	require.Len(t, config.Normalizer.Noise, 1)
	assert.Equal(t, "drop_line", config.Normalizer.Noise[0].Action)

	// Unset sections inherit from llm
	assert.Equal(t, "ollama", config.Embedder.Provider)
	assert.Equal(t, "http://localhost:11434", config.Embedder.BaseURL)
	assert.Equal(t, "llava", config.OCR.Model)
	assert.Equal(t, 90*time.Second, config.OCR.Timeout)

	assert.Empty(t, config.Validate())
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, "nomic-embed-text", config.Embedder.Model)
	assert.Equal(t, "sqlite", config.Database.Driver)
	assert.Equal(t, "normatividad", config.Corpus.Collection)
	assert.Equal(t, 10, config.Retrieval.TopK)
	assert.Equal(t, 3, config.LLM.MaxRetries)
	assert.Empty(t, config.Validate())
}

func TestEmbeddingDimensionDefaults(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		dimension int
	}{
		{
			name: "openai small",
			config: `
llm:
  provider: "openai"
  api_key: "sk-test"
database:
  url: "postgres://localhost:5432/test"
`,
			dimension: 1536,
		},
		{
			name: "openai large",
			config: `
llm:
  provider: "openai"
  api_key: "sk-test"
embedder:
  model: "text-embedding-3-large"
`,
			dimension: 3072,
		},
		{
			name: "ollama tagged model",
			config: `
embedder:
  model: "mxbai-embed-large:latest"
`,
			dimension: 1024,
		},
		{
			name: "unknown model",
			config: `
embedder:
  model: "custom-embedder"
`,
			dimension: 768,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.config), 0644))

			config, err := LoadConfig(configPath)
			require.NoError(t, err)
			assert.Equal(t, tt.dimension, config.Database.Dimension)
			assert.Empty(t, config.Validate())
		})
	}
}

func TestConfigValidation(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.LLM.BaseURL = ""
				c.LLM.MaxRetries = 50
				c.Database.Driver = "postgres"
				c.Database.URL = "invalid-url"
				c.Database.Dimension = -1
			},
			errorMessages: []string{
				"llm.base_url: Ollama base URL is required",
				"llm.max_retries: max_retries must be between 1 and 10",
				"database.url: invalid database URL",
				"database.dimension: dimension must be positive",
			},
		},
		{
			name: "openai without key",
			mutate: func(c *Config) {
				c.Embedder.Provider = "openai"
			},
			errorMessages: []string{
				"embedder.api_key: API key is required for the openai provider",
			},
		},
		{
			name: "unknown driver and bad collection",
			mutate: func(c *Config) {
				c.Database.Driver = "chroma"
				c.Corpus.Collection = "Normas-2024"
				c.Retrieval.TopK = 0
			},
			errorMessages: []string{
				`database.driver: unsupported driver "chroma"`,
				"corpus.collection",
				"retrieval.top_k: top_k must be positive",
			},
		},
		{
			name: "bad normalizer rule",
			mutate: func(c *Config) {
				c.Normalizer.Redactions = []normalizer.RuleSpec{{Name: "broken", Pattern: "("}}
			},
			errorMessages: []string{
				"normalizer: normalizer.redactions: rule 0 (broken)",
			},
		},
		{
			name: "drop_line redaction",
			mutate: func(c *Config) {
				c.Normalizer.Redactions = []normalizer.RuleSpec{{Name: "firma", Pattern: "(?i)atentamente", Action: "drop_line"}}
			},
			errorMessages: []string{
				"normalizer: normalizer.redactions: rule 0 (firma): action drop_line is only valid for noise rules",
			},
		},
		{
			name: "replace noise rule",
			mutate: func(c *Config) {
				c.Normalizer.Noise = []normalizer.RuleSpec{{Name: "folio", Pattern: "folio", Action: "replace", Replacement: "[folio]"}}
			},
			errorMessages: []string{
				"normalizer: normalizer.noise: rule 0 (folio): action replace is not valid for noise rules",
			},
		},
		{
			name: "dimension mismatch",
			mutate: func(c *Config) {
				c.Database.Dimension = 1536
			},
			errorMessages: []string{
				"database.dimension: dimension 1536 does not match embedder nomic-embed-text (768)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := getDefaultConfig()
			require.NoError(t, err)
			tt.mutate(config)

			errors := config.Validate()
			require.Len(t, errors, len(tt.errorMessages))

			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	// Set environment variables
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("NORMATIVA_CORPUS", "/srv/normas")

	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "postgres", config.Database.Driver)
	assert.Equal(t, "sk-test", config.LLM.APIKey)
	assert.Equal(t, "sk-test", config.Embedder.APIKey)
	assert.Equal(t, "/srv/normas", config.Corpus.Folder)
}

func TestNormalizerRules(t *testing.T) {
	clearEnv(t)
	config, err := getDefaultConfig()
	require.NoError(t, err)

	defaults := normalizer.DefaultRules()
	config.Normalizer.Noise = []normalizer.RuleSpec{{Name: "iphone", Pattern: "(?i)enviado desde"}}

	rules, err := config.NormalizerRules()
	require.NoError(t, err)
	assert.Len(t, rules.Redactions, len(defaults.Redactions))
	require.Len(t, rules.Noise, len(defaults.Noise)+1)
	assert.Equal(t, "iphone", rules.Noise[len(rules.Noise)-1].Name)
	assert.Equal(t, normalizer.DropLine, rules.Noise[len(rules.Noise)-1].Action)

	config.Normalizer.ReplaceDefaults = true
	rules, err = config.NormalizerRules()
	require.NoError(t, err)
	require.Len(t, rules.Redactions, 1)
	assert.Equal(t, "email", rules.Redactions[0].Name)
	require.Len(t, rules.Noise, 1)

	_, body := normalizer.New(rules).Normalize("Enviado desde mi iPhone\nescribir a ana@example.org por favor")
	assert.Equal(t, "escribir a [correo] por favor", body)
}
