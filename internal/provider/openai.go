package provider

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

// Base URLs and models for OpenAI-compatible providers, used when not configured.
var openAIDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	NameOpenAI:     {BaseURL: "", Model: "gpt-4o-mini"},
	NameDeepSeek:   {BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"},
	NameOpenRouter: {BaseURL: "https://openrouter.ai/api/v1", Model: "openai/gpt-4o-mini"},
	NameOllama:     {BaseURL: "http://localhost:11434/v1", Model: "llama3.1"},
}

// OpenAIAdapter talks to OpenAI and any OpenAI-compatible endpoint.
type OpenAIAdapter struct {
	client *openai.Client
	name   string
	model  string
	cfg    Config
}

// NewOpenAI creates an adapter for cfg.Name.
func NewOpenAI(cfg Config) *OpenAIAdapter {
	cfg = cfg.withDefaults()
	defaults := openAIDefaults[cfg.Name]

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	} else if defaults.BaseURL != "" {
		clientConfig.BaseURL = defaults.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(cfg.Timeout)

	model := cfg.Model
	if model == "" {
		model = defaults.Model
	}

	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientConfig),
		name:   cfg.Name,
		model:  model,
		cfg:    cfg,
	}
}

// Name implements Adapter.
func (a *OpenAIAdapter) Name() string { return a.name }

// Generate performs a chat completion.
func (a *OpenAIAdapter) Generate(ctx context.Context, history []storage.Message, newMessage, lang string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	messages := withOpenAISystem(
		BuildOpenAIMessages(history, newMessage),
		BuildInstruction(a.cfg.Persona, lang, a.cfg.DefaultLanguage),
	)

	slog.Debug("openai: chat request",
		"provider", a.name,
		"model", a.model,
		"messages_count", len(messages),
	)

	startTime := time.Now()
	resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: a.cfg.MaxTokens,
		Messages:  messages,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", a.providerError(err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", apperrors.NewProviderError(a.name, 0, "empty response", nil)
	}

	slog.Debug("openai: chat response received",
		"provider", a.name,
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}

// openAIRole maps a sender to the chat-completions role vocabulary.
func openAIRole(sender storage.Sender) string {
	if sender == storage.SenderAssistant {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

// senderFromOpenAIRole is the inverse of openAIRole; system has no sender.
func senderFromOpenAIRole(role string) (storage.Sender, bool) {
	switch role {
	case openai.ChatMessageRoleUser:
		return storage.SenderUser, true
	case openai.ChatMessageRoleAssistant:
		return storage.SenderAssistant, true
	default:
		return "", false
	}
}

// BuildOpenAIMessages translates history plus the new user turn.
func BuildOpenAIMessages(history []storage.Message, newMessage string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Sender),
			Content: m.Text,
		})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: newMessage,
	})
}

// withOpenAISystem prepends the instruction unless a system message exists.
func withOpenAISystem(messages []openai.ChatCompletionMessage, instruction string) []openai.ChatCompletionMessage {
	for _, m := range messages {
		if m.Role == openai.ChatMessageRoleSystem {
			return messages
		}
	}
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instruction})
	return append(out, messages...)
}

func (a *OpenAIAdapter) providerError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperrors.NewProviderError(a.name, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperrors.NewProviderError(a.name, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	return apperrors.NewProviderError(a.name, 0, err.Error(), err)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
