package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xhad/normativa/pkg/indexer"
	"github.com/xhad/normativa/pkg/llm"
	"github.com/xhad/normativa/pkg/normalizer"
	"github.com/xhad/normativa/pkg/store"
)

type Config struct {
	LLM struct {
		Provider          string        `yaml:"provider"`
		Model             string        `yaml:"model"`
		BaseURL           string        `yaml:"base_url"`
		APIKey            string        `yaml:"api_key"`
		Timeout           time.Duration `yaml:"timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		MaxRetries        int           `yaml:"max_retries"`
	} `yaml:"llm"`

	Embedder struct {
		Provider          string        `yaml:"provider"`
		Model             string        `yaml:"model"`
		BaseURL           string        `yaml:"base_url"`
		APIKey            string        `yaml:"api_key"`
		BatchSize         int           `yaml:"batch_size"`
		Timeout           time.Duration `yaml:"timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
	} `yaml:"embedder"`

	// OCR configures the vision model used to read uploaded images. Unset
	// connection fields fall back to the llm section.
	OCR struct {
		Provider string        `yaml:"provider"`
		Model    string        `yaml:"model"`
		BaseURL  string        `yaml:"base_url"`
		APIKey   string        `yaml:"api_key"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"ocr"`

	Database struct {
		Driver    string `yaml:"driver"`
		URL       string `yaml:"url"`
		Path      string `yaml:"path"`
		Dimension int    `yaml:"dimension"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Corpus struct {
		Folder     string `yaml:"folder"`
		Collection string `yaml:"collection"`
		Catalog    string `yaml:"catalog"`
		Workers    int    `yaml:"workers"`
	} `yaml:"corpus"`

	Retrieval struct {
		TopK int `yaml:"top_k"`
	} `yaml:"retrieval"`

	// Normalizer rules are appended to the built-in ones unless
	// ReplaceDefaults is set, in which case only email redaction survives.
	Normalizer struct {
		ReplaceDefaults bool                  `yaml:"replace_defaults"`
		Redactions      []normalizer.RuleSpec `yaml:"redactions"`
		Noise           []normalizer.RuleSpec `yaml:"noise"`
	} `yaml:"normalizer"`

	Output struct {
		Dir string `yaml:"dir"`
	} `yaml:"output"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/normativa/config.yaml"),
			"/etc/normativa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = llm.ProviderOllama
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == llm.ProviderOpenAI {
			config.LLM.Model = "gpt-4o"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == llm.ProviderOllama {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}
	if config.LLM.MaxRetries == 0 {
		config.LLM.MaxRetries = llm.MaxRetries
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = config.LLM.Provider
	}
	if config.Embedder.Model == "" {
		if config.Embedder.Provider == llm.ProviderOpenAI {
			config.Embedder.Model = "text-embedding-3-small"
		} else {
			config.Embedder.Model = "nomic-embed-text"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == config.LLM.Provider {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.APIKey == "" {
		config.Embedder.APIKey = config.LLM.APIKey
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}
	if config.Embedder.Timeout == 0 {
		config.Embedder.Timeout = config.LLM.Timeout
	}

	if config.OCR.Provider == "" {
		config.OCR.Provider = config.LLM.Provider
	}
	if config.OCR.Model == "" {
		if config.OCR.Provider == llm.ProviderOpenAI {
			config.OCR.Model = "gpt-4o"
		} else {
			config.OCR.Model = "llava"
		}
	}
	if config.OCR.BaseURL == "" && config.OCR.Provider == config.LLM.Provider {
		config.OCR.BaseURL = config.LLM.BaseURL
	}
	if config.OCR.APIKey == "" {
		config.OCR.APIKey = config.LLM.APIKey
	}
	if config.OCR.Timeout == 0 {
		config.OCR.Timeout = 2 * config.LLM.Timeout
	}

	if config.Database.Driver == "" {
		if config.Database.URL != "" {
			config.Database.Driver = store.DriverPostgres
		} else {
			config.Database.Driver = store.DriverSQLite
		}
	}
	if config.Database.Path == "" {
		config.Database.Path = "normativa.db"
	}
	if config.Database.Dimension == 0 {
		config.Database.Dimension = 768
		if dim, ok := EmbeddingDimension(config.Embedder.Model); ok {
			config.Database.Dimension = dim
		}
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 64
	}

	if config.Corpus.Folder == "" {
		config.Corpus.Folder = "normatividad_compilado"
	}
	if config.Corpus.Collection == "" {
		config.Corpus.Collection = "normatividad"
	}
	if config.Corpus.Catalog == "" {
		config.Corpus.Catalog = "metadata/catalogo_normatividad.json"
	}
	if config.Corpus.Workers == 0 {
		config.Corpus.Workers = 4
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 10
	}

	if config.Output.Dir == "" {
		config.Output.Dir = "output"
	}

	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
}

// embeddingDimensions lists the vector sizes of well-known embedding models.
var embeddingDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// EmbeddingDimension reports the vector size of a known embedding model. An
// Ollama tag such as ":latest" is ignored.
func EmbeddingDimension(model string) (int, bool) {
	name, _, _ := strings.Cut(model, ":")
	dim, ok := embeddingDimensions[name]
	return dim, ok
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = apiKey
	}
	if folder := os.Getenv("NORMATIVA_CORPUS"); folder != "" {
		config.Corpus.Folder = folder
	}
}

func (c *Config) ChatConfig(logger *slog.Logger) llm.ChatConfig {
	return llm.ChatConfig{
		Provider:          c.LLM.Provider,
		Model:             c.LLM.Model,
		BaseURL:           c.LLM.BaseURL,
		APIKey:            c.LLM.APIKey,
		Timeout:           c.LLM.Timeout,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		MaxRetries:        c.LLM.MaxRetries,
		Logger:            logger,
	}
}

// VisionConfig shares the llm section's rate limit and retry budget.
func (c *Config) VisionConfig(logger *slog.Logger) llm.ChatConfig {
	return llm.ChatConfig{
		Provider:          c.OCR.Provider,
		Model:             c.OCR.Model,
		BaseURL:           c.OCR.BaseURL,
		APIKey:            c.OCR.APIKey,
		Timeout:           c.OCR.Timeout,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		MaxRetries:        c.LLM.MaxRetries,
		Logger:            logger,
	}
}

func (c *Config) EmbedderConfig(logger *slog.Logger) llm.EmbedderConfig {
	return llm.EmbedderConfig{
		Provider:          c.Embedder.Provider,
		Model:             c.Embedder.Model,
		BaseURL:           c.Embedder.BaseURL,
		APIKey:            c.Embedder.APIKey,
		BatchSize:         c.Embedder.BatchSize,
		Timeout:           c.Embedder.Timeout,
		RequestsPerSecond: c.Embedder.RequestsPerSecond,
		MaxRetries:        c.LLM.MaxRetries,
		Logger:            logger,
	}
}

func (c *Config) StoreConfig(logger *slog.Logger) store.Config {
	return store.Config{
		Driver:    c.Database.Driver,
		URL:       c.Database.URL,
		Path:      c.Database.Path,
		Dimension: c.Database.Dimension,
		Logger:    logger,
	}
}

func (c *Config) IndexerConfig(logger *slog.Logger) indexer.IndexerConfig {
	return indexer.IndexerConfig{
		Folder:     c.Corpus.Folder,
		Collection: c.Corpus.Collection,
		Workers:    c.Corpus.Workers,
		BatchSize:  c.Database.BatchSize,
		Logger:     logger,
	}
}

// NormalizerRules compiles the configured rules on top of the defaults. The
// email redaction is always kept.
func (c *Config) NormalizerRules() (normalizer.Rules, error) {
	rules := normalizer.DefaultRules()
	if c.Normalizer.ReplaceDefaults {
		var kept []normalizer.Rule
		for _, r := range rules.Redactions {
			if r.Name == "email" {
				kept = append(kept, r)
			}
		}
		rules = normalizer.Rules{Redactions: kept}
	}

	redactions, err := normalizer.CompileRedactions(c.Normalizer.Redactions)
	if err != nil {
		return normalizer.Rules{}, fmt.Errorf("normalizer.redactions: %w", err)
	}
	noise, err := normalizer.CompileNoise(c.Normalizer.Noise)
	if err != nil {
		return normalizer.Rules{}, fmt.Errorf("normalizer.noise: %w", err)
	}

	rules.Redactions = append(rules.Redactions, redactions...)
	rules.Noise = append(rules.Noise, noise...)
	return rules, nil
}
