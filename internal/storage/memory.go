// Package storage provides an in-memory conversation store implementation.
package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of ConversationStore.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	now           Clock
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := applyOptions(opts)
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		now:           s.now,
	}
}

// Create stores a new conversation.
func (s *MemoryStore) Create(ctx context.Context, ownerID string, initial []Message) (*Conversation, error) {
	conv, err := newConversation(ownerID, initial, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conv.ID] = conv.Clone()
	return conv, nil
}

// Append appends messages to a conversation.
func (s *MemoryStore) Append(ctx context.Context, id string, messages []Message, owns OwnerPredicate) (*Conversation, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || (owns != nil && !owns(conv)) {
		return nil, notFound(id)
	}

	appendMessages(conv, messages, s.now())
	return conv.Clone(), nil
}

// Get retrieves a conversation by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, notFound(id)
	}

	// Return a copy to prevent external modification
	return conv.Clone(), nil
}

// ListByOwner lists an owner's conversations.
func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, includeDeleted bool) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Conversation, 0)
	for _, conv := range s.conversations {
		if conv.OwnerID == ownerID && visible(conv, includeDeleted) {
			list = append(list, conv.Clone())
		}
	}
	sortNewestFirst(list)
	return list, nil
}

// SoftDelete marks a conversation deleted.
func (s *MemoryStore) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return notFound(id)
	}
	markDeleted(conv, s.now())
	return nil
}

// Restore clears the deleted mark.
func (s *MemoryStore) Restore(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, notFound(id)
	}
	if err := clearDeleted(conv, s.now()); err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

// PurgeExpired removes conversations deleted before the retention window.
func (s *MemoryStore) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention)
	purged := 0
	for id, conv := range s.conversations {
		if expired(conv, cutoff) {
			delete(s.conversations, id)
			purged++
		}
	}

	return purged, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of conversations in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
