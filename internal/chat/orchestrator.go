// Package chat coordinates a conversation turn between the store and the
// active provider.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
	"github.com/molarewaju77/ScanMed-sub001/internal/metrics"
	"github.com/molarewaju77/ScanMed-sub001/internal/provider"
	"github.com/molarewaju77/ScanMed-sub001/internal/scan"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

// FallbackReply is returned in place of the assistant's answer when the
// provider call fails.
const FallbackReply = "Sorry, I'm having trouble reaching the assistant right now. Please try again in a moment."

// DefaultScanPrompt is used when a scan is uploaded without a question.
const DefaultScanPrompt = "Describe what this medical scan or test result shows in plain language, and point out anything worth discussing with a doctor."

const maxConcurrentScans = 3

// SendRequest is one user turn.
type SendRequest struct {
	OwnerID        string
	ConversationID string
	Text           string
	Language       string
}

// SendResult is the assistant's side of a turn. Degraded is set when Reply
// is FallbackReply and nothing was persisted.
type SendResult struct {
	Reply          string
	ConversationID string
	Degraded       bool
}

// ScanRequest asks the provider to interpret an uploaded image.
type ScanRequest struct {
	OwnerID  string
	Image    []byte
	MIMEType string
	Prompt   string
	Language string
}

// Orchestrator runs chat turns against a single provider adapter.
type Orchestrator struct {
	adapter  provider.Adapter
	store    storage.ConversationStore
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	scanDim  int
	scanSlot *semaphore.Weighted
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records turn outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithScanMaxDimension bounds the longest edge of prepared scan images.
func WithScanMaxDimension(px int) Option {
	return func(o *Orchestrator) { o.scanDim = px }
}

// New creates an orchestrator. The adapter is fixed for its lifetime.
func New(adapter provider.Adapter, store storage.ConversationStore, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		adapter:  adapter,
		store:    store,
		logger:   logger,
		now:      time.Now,
		scanDim:  scan.DefaultMaxDimension,
		scanSlot: semaphore.NewWeighted(maxConcurrentScans),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Provider returns the name of the active provider.
func (o *Orchestrator) Provider() string {
	return o.adapter.Name()
}

// SendMessage runs one turn: load history, ask the provider, and persist the
// user message together with the reply. Provider failures produce a degraded
// result with FallbackReply and leave the store untouched.
func (o *Orchestrator) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		o.metrics.RecordTurn(o.adapter.Name(), metrics.OutcomeRejected)
		return nil, apperrors.Validation("message text is required")
	}
	if req.OwnerID == "" {
		o.metrics.RecordTurn(o.adapter.Name(), metrics.OutcomeRejected)
		return nil, apperrors.Validation("caller identity is required")
	}

	var history []storage.Message
	if req.ConversationID != "" {
		conv, err := o.ownedConversation(ctx, req.OwnerID, req.ConversationID)
		if err != nil {
			o.metrics.RecordTurn(o.adapter.Name(), metrics.OutcomeRejected)
			return nil, err
		}
		if conv.IsDeleted() {
			o.metrics.RecordTurn(o.adapter.Name(), metrics.OutcomeRejected)
			return nil, apperrors.InvalidState("conversation is deleted; restore it before continuing")
		}
		history = conv.Messages
	}

	receivedAt := o.now()
	reply, err := o.adapter.Generate(ctx, history, text, req.Language)
	o.metrics.RecordProviderLatency(o.adapter.Name(), "generate", o.now().Sub(receivedAt))
	if err != nil {
		if apperrors.IsProvider(err) {
			o.logger.Warn("provider failed, returning fallback reply",
				"provider", o.adapter.Name(),
				"conversation_id", req.ConversationID,
				"error", err,
			)
			o.metrics.RecordTurn(o.adapter.Name(), metrics.OutcomeDegraded)
			return &SendResult{
				Reply:          FallbackReply,
				ConversationID: req.ConversationID,
				Degraded:       true,
			}, nil
		}
		o.metrics.RecordTurn(o.adapter.Name(), metrics.OutcomeFailed)
		return nil, err
	}

	turn := []storage.Message{
		storage.NewMessage(storage.SenderUser, text, receivedAt),
		storage.NewMessage(storage.SenderAssistant, reply, o.now()),
	}

	var conv *storage.Conversation
	if req.ConversationID == "" {
		conv, err = o.store.Create(ctx, req.OwnerID, turn)
	} else {
		conv, err = o.store.Append(ctx, req.ConversationID, turn, storage.OwnedBy(req.OwnerID))
	}
	if err != nil {
		o.logger.Error("failed to save conversation turn",
			"conversation_id", req.ConversationID,
			"error", err,
		)
		o.metrics.RecordTurn(o.adapter.Name(), metrics.OutcomeFailed)
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}

	o.logger.Debug("chat turn completed",
		"conversation_id", conv.ID,
		"messages", len(conv.Messages),
	)
	o.metrics.RecordTurn(o.adapter.Name(), metrics.OutcomeOK)

	return &SendResult{Reply: reply, ConversationID: conv.ID}, nil
}

// AnalyzeScan prepares the image and asks a vision-capable provider to
// interpret it. Results are not stored.
func (o *Orchestrator) AnalyzeScan(ctx context.Context, req ScanRequest) (string, error) {
	analyzer, ok := o.adapter.(provider.ImageAnalyzer)
	if !ok {
		o.metrics.RecordScan(metrics.OutcomeRejected)
		return "", apperrors.InvalidState(fmt.Sprintf("provider %s does not support image analysis", o.adapter.Name()))
	}
	if req.OwnerID == "" {
		o.metrics.RecordScan(metrics.OutcomeRejected)
		return "", apperrors.Validation("caller identity is required")
	}

	if err := o.scanSlot.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer o.scanSlot.Release(1)

	image, mimeType, err := scan.Prepare(req.Image, req.MIMEType, o.scanDim)
	if err != nil {
		o.metrics.RecordScan(metrics.OutcomeRejected)
		return "", err
	}

	start := o.now()
	text, err := analyzer.AnalyzeImage(ctx, image, mimeType, scanPrompt(req.Prompt, req.Language))
	o.metrics.RecordProviderLatency(o.adapter.Name(), "analyze_image", o.now().Sub(start))
	if err != nil {
		o.logger.Warn("scan analysis failed", "provider", o.adapter.Name(), "error", err)
		o.metrics.RecordScan(metrics.OutcomeFailed)
		return "", err
	}

	o.metrics.RecordScan(metrics.OutcomeOK)
	return text, nil
}

func scanPrompt(prompt, lang string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = DefaultScanPrompt
	}
	if strings.TrimSpace(lang) == "" {
		return prompt
	}
	tag := provider.ResolveLanguage(lang, "")
	return fmt.Sprintf("%s\n\nReply in %s.", prompt, provider.LanguageName(tag))
}

// ListConversations returns the caller's conversations, newest first.
func (o *Orchestrator) ListConversations(ctx context.Context, ownerID string, includeDeleted bool) ([]*storage.Conversation, error) {
	if ownerID == "" {
		return nil, apperrors.Validation("caller identity is required")
	}
	return o.store.ListByOwner(ctx, ownerID, includeDeleted)
}

// GetConversation returns a conversation owned by the caller, deleted or not.
func (o *Orchestrator) GetConversation(ctx context.Context, ownerID, id string) (*storage.Conversation, error) {
	return o.ownedConversation(ctx, ownerID, id)
}

// DeleteConversation soft-deletes a conversation owned by the caller.
func (o *Orchestrator) DeleteConversation(ctx context.Context, ownerID, id string) error {
	if _, err := o.ownedConversation(ctx, ownerID, id); err != nil {
		return err
	}
	if err := o.store.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	o.logger.Info("conversation deleted", "conversation_id", id)
	return nil
}

// RestoreConversation clears the deletion mark on a conversation owned by
// the caller.
func (o *Orchestrator) RestoreConversation(ctx context.Context, ownerID, id string) (*storage.Conversation, error) {
	if _, err := o.ownedConversation(ctx, ownerID, id); err != nil {
		return nil, err
	}
	conv, err := o.store.Restore(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to restore conversation: %w", err)
	}
	o.logger.Info("conversation restored", "conversation_id", id)
	return conv, nil
}

// ownedConversation loads id and hides conversations owned by someone else.
func (o *Orchestrator) ownedConversation(ctx context.Context, ownerID, id string) (*storage.Conversation, error) {
	if ownerID == "" {
		return nil, apperrors.Validation("caller identity is required")
	}
	conv, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.OwnerID != ownerID {
		return nil, apperrors.NotFound(fmt.Sprintf("conversation %s not found", id))
	}
	return conv, nil
}
