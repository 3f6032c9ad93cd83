// Package config provides configuration loading for the ScanMed assistant.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/molarewaju77/ScanMed-sub001/internal/provider"
	"github.com/molarewaju77/ScanMed-sub001/internal/scan"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "SCANMED"

// Config holds all configuration for the service.
type Config struct {
	// Provider settings
	Provider        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	GeminiAPIKey    string
	Model           string
	MaxTokens       int
	TimeoutSeconds  int
	PersonaFile     string
	DefaultLanguage string

	// Storage settings
	StorageDriver string
	DataDir       string
	DSN           string
	RetentionDays int
	PurgeInterval time.Duration

	// HTTP settings
	HTTPAddr   string
	AuthSecret string
	RateLimit  float64

	// Slack settings
	SlackBotToken string
	SlackAppToken string

	// Optional settings
	LogLevel         string
	LogFormat        string
	ScanMaxDimension int
}

// NewViper returns a viper instance reading SCANMED_* variables with
// defaults applied. Callers may bind flags to it before Load.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("PROVIDER", provider.NameOpenAI)
	v.SetDefault("MAX_TOKENS", provider.DefaultMaxTokens)
	v.SetDefault("TIMEOUT_SECONDS", int(provider.DefaultTimeout/time.Second))
	v.SetDefault("DEFAULT_LANGUAGE", "en")
	v.SetDefault("STORAGE_DRIVER", storage.DriverSQLite)
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("RETENTION_DAYS", 30)
	v.SetDefault("PURGE_INTERVAL", "1h")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("RATE_LIMIT", 2)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("SCAN_MAX_DIMENSION", scan.DefaultMaxDimension)

	return v
}

// Load reads configuration from v and checks the settings every command
// needs. Use ValidateServe for the long-running service.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Provider:         strings.ToLower(v.GetString("PROVIDER")),
		OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:    v.GetString("OPENAI_BASE_URL"),
		AnthropicAPIKey:  v.GetString("ANTHROPIC_API_KEY"),
		GeminiAPIKey:     v.GetString("GEMINI_API_KEY"),
		Model:            v.GetString("MODEL"),
		MaxTokens:        v.GetInt("MAX_TOKENS"),
		TimeoutSeconds:   v.GetInt("TIMEOUT_SECONDS"),
		PersonaFile:      v.GetString("PERSONA_FILE"),
		DefaultLanguage:  v.GetString("DEFAULT_LANGUAGE"),
		StorageDriver:    strings.ToLower(v.GetString("STORAGE_DRIVER")),
		DataDir:          v.GetString("DATA_DIR"),
		DSN:              v.GetString("DSN"),
		RetentionDays:    v.GetInt("RETENTION_DAYS"),
		PurgeInterval:    v.GetDuration("PURGE_INTERVAL"),
		HTTPAddr:         v.GetString("HTTP_ADDR"),
		AuthSecret:       v.GetString("AUTH_SECRET"),
		RateLimit:        v.GetFloat64("RATE_LIMIT"),
		SlackBotToken:    v.GetString("SLACK_BOT_TOKEN"),
		SlackAppToken:    v.GetString("SLACK_APP_TOKEN"),
		LogLevel:         strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:        strings.ToLower(v.GetString("LOG_FORMAT")),
		ScanMaxDimension: v.GetInt("SCAN_MAX_DIMENSION"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks storage, retention and logging settings.
func (c *Config) Validate() error {
	var errs []string

	switch c.StorageDriver {
	case storage.DriverMemory, storage.DriverFile, storage.DriverBolt, storage.DriverSQLite:
	case storage.DriverPostgres:
		if c.DSN == "" {
			errs = append(errs, "SCANMED_DSN is required for the postgres storage driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid storage driver %q, must be one of memory, file, bolt, sqlite, postgres", c.StorageDriver))
	}

	if c.RetentionDays <= 0 {
		errs = append(errs, "SCANMED_RETENTION_DAYS must be positive")
	}
	if c.PurgeInterval <= 0 {
		errs = append(errs, "SCANMED_PURGE_INTERVAL must be a positive duration")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("invalid log format %q, must be 'text' or 'json'", c.LogFormat))
	}

	return joinErrors(errs)
}

// ValidateServe checks the provider, HTTP and Slack settings.
func (c *Config) ValidateServe() error {
	var errs []string

	switch c.Provider {
	case provider.NameAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, "SCANMED_ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case provider.NameGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, "SCANMED_GEMINI_API_KEY is required for the gemini provider")
		}
	case provider.NameOllama:
	case provider.NameOpenAI, provider.NameDeepSeek, provider.NameOpenRouter:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Sprintf("SCANMED_OPENAI_API_KEY is required for the %s provider", c.Provider))
		}
	case "":
		errs = append(errs, "SCANMED_PROVIDER is required")
	default:
		if c.OpenAIBaseURL == "" {
			errs = append(errs, fmt.Sprintf("unknown provider %q requires SCANMED_OPENAI_BASE_URL", c.Provider))
		}
		if c.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Sprintf("SCANMED_OPENAI_API_KEY is required for the %s provider", c.Provider))
		}
	}

	if c.MaxTokens <= 0 {
		errs = append(errs, "SCANMED_MAX_TOKENS must be positive")
	}
	if c.TimeoutSeconds <= 0 {
		errs = append(errs, "SCANMED_TIMEOUT_SECONDS must be positive")
	}
	if _, err := language.Parse(c.DefaultLanguage); err != nil {
		errs = append(errs, fmt.Sprintf("invalid SCANMED_DEFAULT_LANGUAGE %q", c.DefaultLanguage))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, "SCANMED_HTTP_ADDR is required")
	}
	if c.RateLimit < 0 {
		errs = append(errs, "SCANMED_RATE_LIMIT must not be negative")
	}
	if (c.SlackBotToken == "") != (c.SlackAppToken == "") {
		errs = append(errs, "SCANMED_SLACK_BOT_TOKEN and SCANMED_SLACK_APP_TOKEN must be set together")
	}

	return joinErrors(errs)
}

// ProviderConfig returns the settings for the active provider.
func (c *Config) ProviderConfig() provider.Config {
	cfg := provider.Config{
		Name:            c.Provider,
		Model:           c.Model,
		MaxTokens:       c.MaxTokens,
		Timeout:         time.Duration(c.TimeoutSeconds) * time.Second,
		Persona:         provider.LoadPersona(c.PersonaFile),
		DefaultLanguage: c.DefaultLanguage,
	}
	switch c.Provider {
	case provider.NameAnthropic:
		cfg.APIKey = c.AnthropicAPIKey
	case provider.NameGemini:
		cfg.APIKey = c.GeminiAPIKey
	default:
		cfg.APIKey = c.OpenAIAPIKey
		cfg.BaseURL = c.OpenAIBaseURL
	}
	return cfg
}

// StorageConfig returns the store driver settings.
func (c *Config) StorageConfig() storage.OpenConfig {
	return storage.OpenConfig{
		Driver:  c.StorageDriver,
		DataDir: c.DataDir,
		DSN:     c.DSN,
	}
}

// Retention returns the soft-delete retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SlackEnabled reports whether both Slack tokens are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func joinErrors(errs []string) error {
	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
