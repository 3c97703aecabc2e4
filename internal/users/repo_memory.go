package users

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is the in-memory Repo used when no database is configured.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryRepo) GetOrCreateByEmail(ctx context.Context, user User) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(user.Email))
	if id, ok := r.byEmail[key]; ok {
		existing := r.byID[id]
		existing.UpdatedAt = time.Now().UTC()
		r.byID[id] = existing
		return existing, nil
	}

	now := time.Now().UTC()
	user.IsActive = true
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byID[user.ID] = user
	r.byEmail[key] = user.ID
	return user, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

var _ Repo = (*MemoryRepo)(nil)
