package provider

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicAdapter wraps the Anthropic SDK client.
type AnthropicAdapter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	cfg       Config
}

// NewAnthropic creates a Claude adapter. The SDK's own retries are disabled.
func NewAnthropic(cfg Config) *AnthropicAdapter {
	cfg = cfg.withDefaults()
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}

	return &AnthropicAdapter{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(cfg.MaxTokens),
		cfg:       cfg,
	}
}

// Name implements Adapter.
func (a *AnthropicAdapter) Name() string { return NameAnthropic }

// Generate sends the translated history to Claude.
func (a *AnthropicAdapter) Generate(ctx context.Context, history []storage.Message, newMessage, lang string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  BuildAnthropicMessages(history, newMessage),
	}
	params.System = withAnthropicSystem(params.System, BuildInstruction(a.cfg.Persona, lang, a.cfg.DefaultLanguage))

	slog.Debug("anthropic: messages request", "model", a.model, "messages_count", len(params.Messages))

	msg, err := a.client.Messages.New(callCtx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", anthropicError(err)
	}

	text := ExtractTextContent(msg)
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewProviderError(NameAnthropic, 0, "empty response", nil)
	}
	return text, nil
}

// anthropicRole maps a sender to Claude's role vocabulary.
func anthropicRole(sender storage.Sender) anthropic.MessageParamRole {
	if sender == storage.SenderAssistant {
		return anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParamRoleUser
}

// senderFromAnthropicRole is the inverse of anthropicRole.
func senderFromAnthropicRole(role anthropic.MessageParamRole) (storage.Sender, bool) {
	switch role {
	case anthropic.MessageParamRoleUser:
		return storage.SenderUser, true
	case anthropic.MessageParamRoleAssistant:
		return storage.SenderAssistant, true
	default:
		return "", false
	}
}

// BuildAnthropicMessages translates history plus the new user turn.
func BuildAnthropicMessages(history []storage.Message, newMessage string) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, buildAnthropicMessage(anthropicRole(msg.Sender), msg.Text))
	}
	return append(messages, buildAnthropicMessage(anthropic.MessageParamRoleUser, newMessage))
}

func buildAnthropicMessage(role anthropic.MessageParamRole, content string) anthropic.MessageParam {
	return anthropic.MessageParam{
		Role: role,
		Content: []anthropic.ContentBlockParamUnion{
			anthropic.NewTextBlock(content),
		},
	}
}

// withAnthropicSystem adds the instruction only if no system block exists.
func withAnthropicSystem(system []anthropic.TextBlockParam, instruction string) []anthropic.TextBlockParam {
	if len(system) > 0 || instruction == "" {
		return system
	}
	return []anthropic.TextBlockParam{{Text: instruction}}
}

// ExtractTextContent extracts text content from a message.
func ExtractTextContent(msg *anthropic.Message) string {
	var text string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		}
	}
	return text
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apperrors.NewProviderError(NameAnthropic, apiErr.StatusCode, err.Error(), err)
	}
	return apperrors.NewProviderError(NameAnthropic, 0, err.Error(), err)
}
