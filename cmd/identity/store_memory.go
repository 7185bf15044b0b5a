package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"commune/cmd/identity/ids"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	ids    ids.Source
	hasher *PasswordHasher

	mu      sync.RWMutex
	users   map[ids.ID]User
	hashes  map[ids.ID]string
	byEmail map[string]ids.ID
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(src ids.Source, hasher *PasswordHasher) *MemoryStore {
	return &MemoryStore{
		ids:     src,
		hasher:  hasher,
		users:   make(map[ids.ID]User),
		hashes:  make(map[ids.ID]string),
		byEmail: make(map[string]ids.ID),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := validateCreateUser(op, in); err != nil {
		return User{}, err
	}

	norm := NormalizeEmail(in.Email)
	s.mu.RLock()
	_, taken := s.byEmail[norm]
	s.mu.RUnlock()
	if taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	pwHash, err := s.hasher.Hash(op, in.Password)
	if err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := s.ids.NextContext(ctx)
	if err != nil {
		return User{}, fmt.Errorf("%s: mint id: %w", op, err)
	}

	u := User{
		ID:        id,
		Name:      NormalizeName(in.Name),
		Email:     strings.TrimSpace(in.Email),
		EmailNorm: norm,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock; hashing ran unlocked.
	if _, taken := s.byEmail[norm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	s.users[id] = u
	s.hashes[id] = pwHash
	s.byEmail[norm] = id
	return u, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id ids.ID) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return u, nil
}

func (s *MemoryStore) GetUserAuthByEmail(_ context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return UserAuth{}, invalid(op, "email is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[norm]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	return UserAuth{User: s.users[id], PasswordHash: s.hashes[id]}, nil
}
