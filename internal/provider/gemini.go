package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiAdapter talks to the Gemini API. It also implements ImageAnalyzer.
type GeminiAdapter struct {
	client *genai.Client
	model  string
	cfg    Config
}

// NewGemini creates a Gemini adapter.
func NewGemini(ctx context.Context, cfg Config) (*GeminiAdapter, error) {
	cfg = cfg.withDefaults()
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiAdapter{client: client, model: model, cfg: cfg}, nil
}

// Name implements Adapter.
func (a *GeminiAdapter) Name() string { return NameGemini }

// Generate sends the translated history with the persona as system instruction.
func (a *GeminiAdapter) Generate(ctx context.Context, history []storage.Message, newMessage, lang string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	contents := BuildGeminiContents(history, newMessage)
	config := withGeminiSystem(a.generateConfig(), BuildInstruction(a.cfg.Persona, lang, a.cfg.DefaultLanguage))

	slog.Debug("gemini: generate request", "model", a.model, "contents_count", len(contents))

	resp, err := a.client.Models.GenerateContent(callCtx, a.model, contents, config)
	return a.replyText(ctx, resp, err)
}

// AnalyzeImage asks the model to interpret a scan image.
func (a *GeminiAdapter) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	config := withGeminiSystem(a.generateConfig(), strings.TrimSpace(a.cfg.Persona))

	slog.Debug("gemini: image request", "model", a.model, "mime_type", mimeType, "bytes", len(image))

	resp, err := a.client.Models.GenerateContent(callCtx, a.model, contents, config)
	return a.replyText(ctx, resp, err)
}

func (a *GeminiAdapter) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		MaxOutputTokens: int32(a.cfg.MaxTokens),
	}
}

func (a *GeminiAdapter) replyText(ctx context.Context, resp *genai.GenerateContentResponse, err error) (string, error) {
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", geminiError(err)
	}
	if resp == nil {
		return "", apperrors.NewProviderError(NameGemini, 0, "empty response", nil)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewProviderError(NameGemini, 0, "empty response", nil)
	}
	return text, nil
}

// geminiError maps SDK errors to a ProviderError, keeping the HTTP status
// when the API reported one.
func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apperrors.NewProviderError(NameGemini, apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apperrors.NewProviderError(NameGemini, apiErrPtr.Code, apiErrPtr.Message, err)
	}
	return apperrors.NewProviderError(NameGemini, 0, err.Error(), err)
}

// geminiRole maps a sender to Gemini's role vocabulary (user/model).
func geminiRole(sender storage.Sender) genai.Role {
	if sender == storage.SenderAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// senderFromGeminiRole is the inverse of geminiRole.
func senderFromGeminiRole(role string) (storage.Sender, bool) {
	switch role {
	case string(genai.RoleUser):
		return storage.SenderUser, true
	case string(genai.RoleModel):
		return storage.SenderAssistant, true
	default:
		return "", false
	}
}

// BuildGeminiContents translates history plus the new user turn.
func BuildGeminiContents(history []storage.Message, newMessage string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		contents = append(contents, genai.NewContentFromText(m.Text, geminiRole(m.Sender)))
	}
	return append(contents, genai.NewContentFromText(newMessage, genai.RoleUser))
}

// withGeminiSystem sets the system instruction unless one is already present.
func withGeminiSystem(config *genai.GenerateContentConfig, instruction string) *genai.GenerateContentConfig {
	if config.SystemInstruction != nil || instruction == "" {
		return config
	}
	config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	return config
}
