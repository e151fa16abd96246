package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/types"
)

// MemoryUserRepository keeps users in process memory. It is used for local
// development (STORE_BACKEND=memory) and tests; data does not survive a restart.
type MemoryUserRepository struct {
	mu         sync.RWMutex
	byID       map[string]types.User
	byUsername map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:       make(map[string]types.User),
		byUsername: make(map[string]string),
	}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByUsername(_ context.Context, username string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, username, passwordHash string) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[username]; exists {
		return types.User{}, ErrDuplicateUsername
	}

	user := types.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	r.byID[user.ID] = user
	r.byUsername[username] = user.ID
	return user, nil
}
