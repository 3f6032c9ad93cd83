// Package storage provides conversation storage interfaces and implementations.
package storage

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
)

const (
	// TitleMaxRunes bounds the title derived from the first user message.
	TitleMaxRunes = 50
	// PreviewMaxRunes bounds the preview of the latest message.
	PreviewMaxRunes = 100
	// DefaultRetention is how long a soft-deleted conversation stays restorable.
	DefaultRetention = 30 * 24 * time.Hour
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`    // "user" or "assistant"
	Text      string    `json:"text"`      // The message content
	Timestamp time.Time `json:"timestamp"` // When the message was sent
}

// Conversation represents a conversation thread.
type Conversation struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Title     string     `json:"title"`   // Derived once from the first user message
	Preview   string     `json:"preview"` // Truncated text of the latest message
	Messages  []Message  `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the conversation is in the trash.
func (c *Conversation) IsDeleted() bool {
	return c.DeletedAt != nil
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	if c.DeletedAt != nil {
		deletedAt := *c.DeletedAt
		out.DeletedAt = &deletedAt
	}
	return &out
}

// OwnerPredicate decides whether the caller may act on a conversation.
type OwnerPredicate func(conv *Conversation) bool

// OwnedBy returns a predicate that accepts conversations owned by ownerID.
func OwnedBy(ownerID string) OwnerPredicate {
	return func(conv *Conversation) bool {
		return conv != nil && conv.OwnerID == ownerID
	}
}

// ConversationStore provides storage for conversation history.
type ConversationStore interface {
	// Create persists a new conversation. initial must not be empty.
	Create(ctx context.Context, ownerID string, initial []Message) (*Conversation, error)

	// Append adds messages in call order as a single atomic write.
	// Returns a NotFound error if the conversation is absent or owns rejects it.
	Append(ctx context.Context, id string, messages []Message, owns OwnerPredicate) (*Conversation, error)

	// Get returns the conversation regardless of its delete state.
	Get(ctx context.Context, id string) (*Conversation, error)

	// ListByOwner returns the owner's conversations, newest first by creation.
	ListByOwner(ctx context.Context, ownerID string, includeDeleted bool) ([]*Conversation, error)

	// SoftDelete moves a conversation to the trash. Re-deleting is a no-op.
	SoftDelete(ctx context.Context, id string) error

	// Restore takes a conversation out of the trash.
	Restore(ctx context.Context, id string) (*Conversation, error)

	// PurgeExpired permanently removes conversations deleted longer than
	// retention ago and returns how many were removed.
	PurgeExpired(ctx context.Context, retention time.Duration) (int, error)

	Close() error
}

// Clock returns the current time. Drivers take one so retention can be tested.
type Clock func() time.Time

type settings struct {
	now Clock
}

// Option configures a store driver.
type Option func(*settings)

// WithClock overrides the time source.
func WithClock(now Clock) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func applyOptions(opts []Option) settings {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// NewMessage builds a message with a fresh id.
func NewMessage(sender Sender, text string, ts time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: ts,
	}
}

// NewConversationID mints a conversation id.
func NewConversationID() string {
	return shortuuid.New()
}

// DeriveTitle builds a title from the first user message in msgs.
func DeriveTitle(msgs []Message) string {
	for _, m := range msgs {
		if m.Sender == SenderUser {
			return truncate(m.Text, TitleMaxRunes)
		}
	}
	if len(msgs) > 0 {
		return truncate(msgs[0].Text, TitleMaxRunes)
	}
	return ""
}

// DerivePreview builds the preview from the last message in msgs.
func DerivePreview(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return truncate(msgs[len(msgs)-1].Text, PreviewMaxRunes)
}

// truncate collapses whitespace and cuts text to max runes with an ellipsis.
func truncate(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

func validateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return apperrors.Validation("a conversation needs at least one message")
	}
	for _, m := range msgs {
		if m.Sender != SenderUser && m.Sender != SenderAssistant {
			return apperrors.Validation("unknown message sender " + string(m.Sender))
		}
	}
	return nil
}

// newConversation applies the creation invariants shared by every driver.
func newConversation(ownerID string, initial []Message, now time.Time) (*Conversation, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, apperrors.Validation("owner id is required")
	}
	if err := validateMessages(initial); err != nil {
		return nil, err
	}
	msgs := make([]Message, len(initial))
	copy(msgs, initial)
	return &Conversation{
		ID:        NewConversationID(),
		OwnerID:   ownerID,
		Title:     DeriveTitle(msgs),
		Preview:   DerivePreview(msgs),
		Messages:  msgs,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// appendMessages mutates conv in place. The title is never recomputed.
func appendMessages(conv *Conversation, msgs []Message, now time.Time) {
	conv.Messages = append(conv.Messages, msgs...)
	conv.Preview = DerivePreview(conv.Messages)
	conv.UpdatedAt = now
}

// markDeleted sets deletedAt unless already set.
func markDeleted(conv *Conversation, now time.Time) bool {
	if conv.DeletedAt != nil {
		return false
	}
	deletedAt := now
	conv.DeletedAt = &deletedAt
	conv.UpdatedAt = now
	return true
}

func clearDeleted(conv *Conversation, now time.Time) error {
	if conv.DeletedAt == nil {
		return apperrors.InvalidState("conversation is not deleted")
	}
	conv.DeletedAt = nil
	conv.UpdatedAt = now
	return nil
}

// expired reports whether conv was soft-deleted before cutoff.
func expired(conv *Conversation, cutoff time.Time) bool {
	return conv.DeletedAt != nil && conv.DeletedAt.Before(cutoff)
}

func visible(conv *Conversation, includeDeleted bool) bool {
	return includeDeleted || conv.DeletedAt == nil
}

func sortNewestFirst(list []*Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func notFound(id string) error {
	return apperrors.NotFound("conversation " + id + " not found")
}
