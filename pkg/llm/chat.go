package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/normativa/pkg/faults"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

var errEmptyResponse = errors.New("empty response from model")

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider string
	Model    string
	BaseURL  string // Ollama server URL or OpenAI-compatible endpoint
	APIKey   string
	// Timeout bounds every single model call.
	Timeout time.Duration
	// RequestsPerSecond limits outgoing calls; zero means unlimited.
	RequestsPerSecond float64
	MaxRetries        int
	Logger            *slog.Logger
}

func (c ChatConfig) withDefaults() ChatConfig {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.Model = "gpt-4o"
		default:
			c.Model = "mistral" // Default Ollama model
		}
	}
	if c.BaseURL == "" && c.Provider == ProviderOllama {
		c.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxRetries
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ChatEngine sends role-tagged messages to a language model and returns the
// first completion.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
	caller *caller
}

// NewWithConfig creates a new ChatEngine backed by the configured provider.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config = config.withDefaults()
	model, err := NewModel(config)
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, config), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, config ChatConfig) *ChatEngine {
	config = config.withDefaults()
	return &ChatEngine{
		config: config,
		llm:    model,
		caller: newCaller("llm", config.RequestsPerSecond, config.Timeout, config.MaxRetries, config.Logger),
	}
}

// NewModel builds the langchaingo client for config.Provider.
func NewModel(config ChatConfig) (llms.Model, error) {
	config = config.withDefaults()
	switch config.Provider {
	case ProviderOllama:
		model, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
		if err != nil {
			return nil, &faults.ConfigurationError{Setting: "llm", Err: fmt.Errorf("failed to initialize LLM: %w", err)}
		}
		return model, nil
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, &faults.ConfigurationError{Setting: "llm", Err: fmt.Errorf("failed to initialize LLM: %w", err)}
		}
		return model, nil
	}
	return nil, &faults.ConfigurationError{
		Setting: "llm.provider",
		Err:     fmt.Errorf("unsupported provider %q", config.Provider),
	}
}

// Model returns the underlying langchaingo model.
func (ce *ChatEngine) Model() llms.Model {
	return ce.llm
}

// Complete runs one completion and returns its trimmed text. op names the
// call in errors and logs.
func (ce *ChatEngine) Complete(ctx context.Context, op string, messages []llms.MessageContent, options ...llms.CallOption) (string, error) {
	return call(ctx, ce.caller, op, func(ctx context.Context) (string, error) {
		start := time.Now()
		resp, err := ce.llm.GenerateContent(ctx, messages, options...)
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			return "", &faults.ServiceError{Service: "llm", Op: op, Err: errEmptyResponse}
		}

		text := strings.TrimSpace(resp.Choices[0].Content)
		if text == "" {
			return "", &faults.ServiceError{Service: "llm", Op: op, Err: errEmptyResponse}
		}
		ce.config.Logger.Debug("model call", "op", op, "model", ce.config.Model, "duration", time.Since(start))
		return text, nil
	})
}
