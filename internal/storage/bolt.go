// Package storage provides a BoltDB conversation store.
package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var conversationsBucket = []byte("conversations")

// BoltStore keeps conversations as JSON values in a single bucket.
// Every mutation runs in one Update transaction.
type BoltStore struct {
	db  *bolt.DB
	now Clock
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create dir for %s", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bolt db %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create conversations bucket")
	}
	s := applyOptions(opts)
	return &BoltStore{db: db, now: s.now}, nil
}

// Create stores a new conversation.
func (s *BoltStore) Create(ctx context.Context, ownerID string, initial []Message) (*Conversation, error) {
	conv, err := newConversation(ownerID, initial, s.now())
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return putConversation(tx.Bucket(conversationsBucket), conv)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Append appends messages inside one transaction.
func (s *BoltStore) Append(ctx context.Context, id string, messages []Message, owns OwnerPredicate) (*Conversation, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}
	var out *Conversation
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		conv, err := getConversation(b, id)
		if err != nil {
			return err
		}
		if owns != nil && !owns(conv) {
			return notFound(id)
		}
		appendMessages(conv, messages, s.now())
		out = conv
		return putConversation(b, conv)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get retrieves a conversation by ID.
func (s *BoltStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var out *Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		conv, err := getConversation(tx.Bucket(conversationsBucket), id)
		out = conv
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByOwner scans the bucket for the owner's conversations.
func (s *BoltStore) ListByOwner(ctx context.Context, ownerID string, includeDeleted bool) ([]*Conversation, error) {
	list := make([]*Conversation, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, v []byte) error {
			var conv Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return errors.Wrapf(err, "failed to decode conversation %s", k)
			}
			if conv.OwnerID == ownerID && visible(&conv, includeDeleted) {
				list = append(list, &conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(list)
	return list, nil
}

// SoftDelete marks a conversation deleted.
func (s *BoltStore) SoftDelete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		conv, err := getConversation(b, id)
		if err != nil {
			return err
		}
		if !markDeleted(conv, s.now()) {
			return nil
		}
		return putConversation(b, conv)
	})
}

// Restore clears the deleted mark.
func (s *BoltStore) Restore(ctx context.Context, id string) (*Conversation, error) {
	var out *Conversation
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		conv, err := getConversation(b, id)
		if err != nil {
			return err
		}
		if err := clearDeleted(conv, s.now()); err != nil {
			return err
		}
		out = conv
		return putConversation(b, conv)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeExpired deletes expired keys in one transaction.
func (s *BoltStore) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)
	purged := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		var doomed [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var conv Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return errors.Wrapf(err, "failed to decode conversation %s", k)
			}
			if expired(&conv, cutoff) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		// Keys cannot be deleted while iterating with ForEach.
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		purged = len(doomed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getConversation(b *bolt.Bucket, id string) (*Conversation, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return nil, notFound(id)
	}
	var conv Conversation
	if err := json.Unmarshal(v, &conv); err != nil {
		return nil, errors.Wrapf(err, "failed to decode conversation %s", id)
	}
	return &conv, nil
}

func putConversation(b *bolt.Bucket, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return errors.Wrap(err, "failed to encode conversation")
	}
	return b.Put([]byte(conv.ID), data)
}
