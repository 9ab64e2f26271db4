// Package store keeps the username to password-digest mapping in memory and
// mirrors every accepted registration to a durable backend.
package store

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyExists is returned when registering a username that is taken.
	ErrAlreadyExists = errors.New("store: username already exists")
	// ErrPersist wraps durable write failures. The registration is rejected.
	ErrPersist = errors.New("store: persist credential")
	// ErrInvalidCredential is returned for records that cannot be stored.
	ErrInvalidCredential = errors.New("store: invalid credential")
)

// Credential is one stored user record.
type Credential struct {
	Username     string
	PasswordHash string
}

// Valid reports whether the record can round-trip through the flat log.
func (c Credential) Valid() bool {
	return c.Username != "" && c.PasswordHash != "" &&
		!strings.ContainsAny(c.Username, ":\r\n") &&
		!strings.ContainsAny(c.PasswordHash, "\r\n")
}

// Backend is the durable side of the store.
type Backend interface {
	// Load returns every valid record. A missing backing store is not an error.
	Load(ctx context.Context) ([]Credential, error)
	// Append durably records one credential.
	Append(ctx context.Context, c Credential) error
	Close() error
}

// Store is safe for concurrent use. Register serializes the existence check,
// the durable append and the in-memory insert under one lock.
type Store struct {
	mu      sync.RWMutex
	users   map[string]string
	backend Backend
	logger  *zap.Logger
}

// Open loads every persisted record from backend.
func Open(ctx context.Context, backend Backend, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("store: backend is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	records, err := backend.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "store: load credentials")
	}

	s := &Store{
		users:   make(map[string]string, len(records)),
		backend: backend,
		logger:  logger,
	}
	for _, rec := range records {
		if _, dup := s.users[rec.Username]; dup {
			logger.Warn("Duplicate credential record ignored", zap.String("username", rec.Username))
			continue
		}
		s.users[rec.Username] = rec.PasswordHash
	}

	logger.Info("Credential store loaded", zap.Int("users", len(s.users)))
	return s, nil
}

// Lookup returns the stored digest for username.
func (s *Store) Lookup(username string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, ok := s.users[username]
	return hash, ok
}

// Exists reports whether username is registered.
func (s *Store) Exists(username string) bool {
	_, ok := s.Lookup(username)
	return ok
}

// Len returns the number of registered users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Register inserts a new credential. The record is written to the backend
// before it becomes visible; if that write fails nothing is inserted.
func (s *Store) Register(ctx context.Context, username, passwordHash string) error {
	rec := Credential{Username: username, PasswordHash: passwordHash}
	if !rec.Valid() {
		return ErrInvalidCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return ErrAlreadyExists
	}

	if err := s.backend.Append(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return ErrAlreadyExists
		}
		s.logger.Error("Could not save user", zap.String("username", username), zap.Error(err))
		return errors.Mark(errors.Wrap(err, "append credential"), ErrPersist)
	}

	s.users[username] = passwordHash
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
