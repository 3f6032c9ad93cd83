package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
	"github.com/molarewaju77/ScanMed-sub001/internal/chat"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

// Conversations is the part of the chat orchestrator the Slack channel uses.
type Conversations interface {
	SendMessage(ctx context.Context, req chat.SendRequest) (*chat.SendResult, error)
	ListConversations(ctx context.Context, ownerID string, includeDeleted bool) ([]*storage.Conversation, error)
	DeleteConversation(ctx context.Context, ownerID, id string) error
	RestoreConversation(ctx context.Context, ownerID, id string) (*storage.Conversation, error)
}

const helpText = "*ScanMed assistant*\n" +
	"Send me a direct message or mention me to ask a health question. Each thread is one conversation.\n\n" +
	"`/scanmed list` show your conversations\n" +
	"`/scanmed trash` show deleted conversations\n" +
	"`/scanmed delete <id>` move a conversation to the trash\n" +
	"`/scanmed restore <id>` restore a deleted conversation\n" +
	"`/scanmed lang <code>` reply language, e.g. `es`\n" +
	"`/scanmed <question>` ask a one-off question"

// Handler turns Slack messages into chat turns. Each Slack thread maps to
// one stored conversation.
type Handler struct {
	chat            Conversations
	defaultLanguage string
	retention       time.Duration
	logger          *slog.Logger

	mu        sync.Mutex
	threads   map[string]string
	languages map[string]string
}

// NewHandler creates a new message handler. retention is how long deleted
// conversations stay restorable; zero means storage.DefaultRetention.
func NewHandler(conversations Conversations, defaultLanguage string, retention time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = storage.DefaultRetention
	}
	return &Handler{
		chat:            conversations,
		defaultLanguage: defaultLanguage,
		retention:       retention,
		logger:          logger,
		threads:         make(map[string]string),
		languages:       make(map[string]string),
	}
}

func threadKey(msg *IncomingMessage) string {
	return msg.ChannelID + ":" + msg.ThreadTS
}

// HandleMessage processes an incoming message.
func (h *Handler) HandleMessage(ctx context.Context, msg *IncomingMessage) (*OutgoingMessage, error) {
	h.logger.Info("handling message",
		"user", msg.UserID,
		"channel", msg.ChannelID,
		"thread", msg.ThreadTS,
	)

	if msg.IsCommand {
		return h.handleCommand(ctx, msg)
	}
	return h.converse(ctx, msg)
}

func (h *Handler) converse(ctx context.Context, msg *IncomingMessage) (*OutgoingMessage, error) {
	key := threadKey(msg)

	h.mu.Lock()
	conversationID := ""
	if msg.ThreadTS != "" {
		conversationID = h.threads[key]
	}
	lang := h.languageLocked(msg.UserID)
	h.mu.Unlock()

	result, err := h.chat.SendMessage(ctx, chat.SendRequest{
		OwnerID:        msg.UserID,
		ConversationID: conversationID,
		Text:           msg.Text,
		Language:       lang,
	})
	switch {
	case err == nil:
	case apperrors.IsNotFound(err):
		// The conversation was purged; the thread starts over.
		h.forget(key)
		return h.reply(msg, FormatInfo("That conversation no longer exists. Send your message again to start a new one.")), nil
	case apperrors.IsInvalidState(err):
		return h.reply(msg, FormatWarning(fmt.Sprintf("This conversation is in the trash. Use %s to continue it.",
			FormatInlineCode("/scanmed restore "+conversationID)))), nil
	case apperrors.IsValidation(err):
		return h.reply(msg, FormatInfo("Ask me something about your health.")), nil
	default:
		return nil, err
	}

	if result.ConversationID != "" && msg.ThreadTS != "" {
		h.mu.Lock()
		h.threads[key] = result.ConversationID
		h.mu.Unlock()
	}

	if result.Degraded {
		return h.reply(msg, FormatWarning(result.Reply)), nil
	}
	return h.reply(msg, MarkdownToMrkdwn(result.Reply)), nil
}

func (h *Handler) handleCommand(ctx context.Context, msg *IncomingMessage) (*OutgoingMessage, error) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return h.reply(msg, helpText), nil
	}

	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch strings.ToLower(fields[0]) {
	case "help":
		return h.reply(msg, helpText), nil
	case "list", "trash":
		return h.listConversations(ctx, msg, strings.EqualFold(fields[0], "trash"))
	case "delete":
		if arg == "" {
			return h.reply(msg, FormatInfo("Usage: "+FormatInlineCode("/scanmed delete <id>"))), nil
		}
		if err := h.chat.DeleteConversation(ctx, msg.UserID, arg); err != nil {
			return h.commandError(msg, err)
		}
		return h.reply(msg, FormatSuccess(fmt.Sprintf("Moved %s to the trash. It can be restored for %d days.",
			FormatInlineCode(arg), int(h.retention/(24*time.Hour))))), nil
	case "restore":
		if arg == "" {
			return h.reply(msg, FormatInfo("Usage: "+FormatInlineCode("/scanmed restore <id>"))), nil
		}
		conv, err := h.chat.RestoreConversation(ctx, msg.UserID, arg)
		if err != nil {
			return h.commandError(msg, err)
		}
		return h.reply(msg, FormatSuccess("Restored "+FormatBold(conv.Title))), nil
	case "lang", "language":
		return h.setLanguage(msg, arg)
	default:
		return h.converse(ctx, msg)
	}
}

func (h *Handler) listConversations(ctx context.Context, msg *IncomingMessage, trash bool) (*OutgoingMessage, error) {
	convs, err := h.chat.ListConversations(ctx, msg.UserID, trash)
	if err != nil {
		return h.commandError(msg, err)
	}
	if trash {
		deleted := convs[:0]
		for _, conv := range convs {
			if conv.IsDeleted() {
				deleted = append(deleted, conv)
			}
		}
		convs = deleted
	}
	if len(convs) == 0 {
		return h.reply(msg, FormatInfo("Nothing here yet.")), nil
	}

	text := FormatConversationList(convs)
	out := h.reply(msg, text)
	out.Blocks = append(out.Blocks,
		BuildSectionBlock(text),
		BuildContextBlock(fmt.Sprintf("%d conversation(s)", len(convs))),
	)
	return out, nil
}

func (h *Handler) setLanguage(msg *IncomingMessage, arg string) (*OutgoingMessage, error) {
	if arg == "" {
		h.mu.Lock()
		current := h.languageLocked(msg.UserID)
		h.mu.Unlock()
		return h.reply(msg, FormatInfo("Replies are in "+FormatInlineCode(current))), nil
	}
	tag, err := language.Parse(arg)
	if err != nil {
		return h.reply(msg, FormatError(fmt.Sprintf("%q is not a language code", arg))), nil
	}

	h.mu.Lock()
	h.languages[msg.UserID] = tag.String()
	h.mu.Unlock()

	return h.reply(msg, FormatSuccess("Replies will be in "+FormatInlineCode(tag.String()))), nil
}

func (h *Handler) commandError(msg *IncomingMessage, err error) (*OutgoingMessage, error) {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeNotFound, apperrors.CodeInvalidState, apperrors.CodeValidation:
		return h.reply(msg, FormatError(apperrors.MessageOf(err))), nil
	default:
		return nil, err
	}
}

func (h *Handler) languageLocked(userID string) string {
	if lang, ok := h.languages[userID]; ok {
		return lang
	}
	return h.defaultLanguage
}

func (h *Handler) forget(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.threads, key)
}

func (h *Handler) reply(msg *IncomingMessage, text string) *OutgoingMessage {
	return &OutgoingMessage{
		Text:     text,
		ThreadTS: msg.ThreadTS,
	}
}
