// Package storage provides a JSON-file conversation store.
package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// FileStore keeps one JSON document per conversation under
// <dir>/<hex(owner)>/<id>.json.
type FileStore struct {
	dir  string
	fsys fs.FS
	mu   sync.Mutex
	now  Clock
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("data dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create data dir %s", dir)
	}
	s := applyOptions(opts)
	return &FileStore{dir: dir, fsys: os.DirFS(dir), now: s.now}, nil
}

// Create writes a new conversation file.
func (s *FileStore) Create(ctx context.Context, ownerID string, initial []Message) (*Conversation, error) {
	conv, err := newConversation(ownerID, initial, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Append rewrites the conversation file with the new messages.
func (s *FileStore) Append(ctx context.Context, id string, messages []Message, owns OwnerPredicate) (*Conversation, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if owns != nil && !owns(conv) {
		return nil, notFound(id)
	}

	appendMessages(conv, messages, s.now())
	if err := s.write(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Get reads a conversation by ID.
func (s *FileStore) Get(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// ListByOwner reads every file in the owner's directory.
func (s *FileStore) ListByOwner(ctx context.Context, ownerID string, includeDeleted bool) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := doublestar.Glob(s.fsys, ownerDir(ownerID)+"/*.json")
	if err != nil {
		return nil, errors.Wrap(err, "failed to glob conversations")
	}

	list := make([]*Conversation, 0, len(matches))
	for _, rel := range matches {
		conv, err := s.read(rel)
		if err != nil {
			return nil, err
		}
		if visible(conv, includeDeleted) {
			list = append(list, conv)
		}
	}
	sortNewestFirst(list)
	return list, nil
}

// SoftDelete marks a conversation deleted.
func (s *FileStore) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.load(id)
	if err != nil {
		return err
	}
	if !markDeleted(conv, s.now()) {
		return nil
	}
	return s.write(conv)
}

// Restore clears the deleted mark.
func (s *FileStore) Restore(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if err := clearDeleted(conv, s.now()); err != nil {
		return nil, err
	}
	if err := s.write(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// PurgeExpired removes files of conversations deleted before the window.
func (s *FileStore) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := doublestar.Glob(s.fsys, "*/*.json")
	if err != nil {
		return 0, errors.Wrap(err, "failed to glob conversations")
	}

	cutoff := s.now().Add(-retention)
	purged := 0
	for _, rel := range matches {
		conv, err := s.read(rel)
		if err != nil {
			return purged, err
		}
		if !expired(conv, cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
			return purged, errors.Wrapf(err, "failed to remove conversation %s", conv.ID)
		}
		purged++
	}
	return purged, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) load(id string) (*Conversation, error) {
	if !validID(id) {
		return nil, notFound(id)
	}
	matches, err := doublestar.Glob(s.fsys, "*/"+id+".json")
	if err != nil {
		return nil, errors.Wrap(err, "failed to glob conversation")
	}
	if len(matches) == 0 {
		return nil, notFound(id)
	}
	return s.read(matches[0])
}

func (s *FileStore) read(rel string) (*Conversation, error) {
	data, err := fs.ReadFile(s.fsys, rel)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", rel)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", rel)
	}
	return &conv, nil
}

// write replaces the conversation file via a temp file and rename.
func (s *FileStore) write(conv *Conversation) error {
	rel := path.Join(ownerDir(conv.OwnerID), conv.ID+".json")
	target := filepath.Join(s.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, "failed to create owner dir")
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode conversation")
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), conv.ID+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "failed to write conversation")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "failed to replace conversation file")
	}
	return nil
}

// ownerDir hex-encodes the owner id so it is always a safe, glob-free name.
func ownerDir(ownerID string) string {
	return hex.EncodeToString([]byte(ownerID))
}

func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
