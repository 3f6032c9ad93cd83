// Package provider adapts LLM vendors to a single reply-generation contract.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

// Provider names accepted by New. Unknown names are treated as
// OpenAI-compatible endpoints and require a base URL.
const (
	NameOpenAI     = "openai"
	NameAnthropic  = "anthropic"
	NameGemini     = "gemini"
	NameDeepSeek   = "deepseek"
	NameOpenRouter = "openrouter"
	NameOllama     = "ollama"
)

const (
	// DefaultMaxTokens is the reply budget when none is configured.
	DefaultMaxTokens = 1024
	// DefaultTimeout bounds a single vendor call.
	DefaultTimeout = 60 * time.Second
)

// Adapter generates an assistant reply from vendor-neutral history.
type Adapter interface {
	// Name is the provider identifier, e.g. "openai".
	Name() string

	// Generate returns the reply to newMessage given the prior history.
	// Vendor failures are returned as *apperrors.ProviderError.
	Generate(ctx context.Context, history []storage.Message, newMessage, language string) (string, error)
}

// ImageAnalyzer is implemented by adapters that can read medical scan images.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}

// Config holds the settings for the single active provider.
type Config struct {
	Name            string
	APIKey          string
	BaseURL         string
	Model           string
	MaxTokens       int
	Timeout         time.Duration
	Persona         string
	DefaultLanguage string
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Persona == "" {
		c.Persona = DefaultPersona
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	return c
}

// New constructs the adapter named by cfg.Name. It is called once at startup.
func New(ctx context.Context, cfg Config) (Adapter, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" && cfg.Name != NameOllama {
		return nil, fmt.Errorf("api key required for provider %q", cfg.Name)
	}

	switch cfg.Name {
	case NameAnthropic:
		return NewAnthropic(cfg), nil
	case NameGemini:
		return NewGemini(ctx, cfg)
	case NameOpenAI, NameDeepSeek, NameOpenRouter, NameOllama:
		return NewOpenAI(cfg), nil
	case "":
		return nil, fmt.Errorf("provider name required")
	default:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("unknown provider %q: base url required for OpenAI-compatible endpoints", cfg.Name)
		}
		return NewOpenAI(cfg), nil
	}
}
