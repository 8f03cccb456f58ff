// Package history keeps the durable, capped log of completed chat turns.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"ivf-chat/internal/domain"
)

const (
	// DefaultKey is the storage key the widget has always used.
	DefaultKey   = "ivf_chat_history"
	DefaultLimit = 50
)

// KeyValue is a durable string key-value area.
type KeyValue interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store persists chat turns as a single JSON array under one key.
// Reads fail soft and writes are best effort: no method returns an error.
type Store struct {
	kv     KeyValue
	key    string
	limit  int
	logger *slog.Logger
}

type Option func(*Store)

func WithLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store writing to key in kv.
func New(kv KeyValue, key string, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("history: key-value store must not be nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("history: key must not be empty")
	}
	s := &Store{
		kv:     kv,
		key:    key,
		limit:  DefaultLimit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SessionKey scopes the default key to one visitor session.
func SessionKey(sessionID string) string {
	return DefaultKey + "#" + sessionID
}

func (s *Store) Key() string { return s.key }

func (s *Store) Limit() int { return s.limit }

// Load returns the persisted turns oldest first. Missing, unreadable or
// corrupt data yields an empty slice.
func (s *Store) Load(ctx context.Context) []domain.ChatTurn {
	raw, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.logger.Warn("could not load chat history", "key", s.key, "err", err)
		return []domain.ChatTurn{}
	}
	if !found || raw == "" {
		return []domain.ChatTurn{}
	}

	var turns []domain.ChatTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		s.logger.Warn("could not load chat history", "key", s.key, "err", err)
		return []domain.ChatTurn{}
	}
	if turns == nil {
		return []domain.ChatTurn{}
	}
	return turns
}

// Append adds turn to the log and keeps only the most recent entries.
func (s *Store) Append(ctx context.Context, turn domain.ChatTurn) {
	turns := append(s.Load(ctx), turn)
	if len(turns) > s.limit {
		turns = turns[len(turns)-s.limit:]
	}

	buf, err := json.Marshal(turns)
	if err != nil {
		s.logger.Warn("could not save chat history", "key", s.key, "err", err)
		return
	}
	if err := s.kv.Put(ctx, s.key, string(buf)); err != nil {
		s.logger.Warn("could not save chat history", "key", s.key, "err", err)
	}
}

// Clear removes the persisted log.
func (s *Store) Clear(ctx context.Context) {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.logger.Warn("could not clear chat history", "key", s.key, "err", err)
	}
}
