// Package memory implements UserRepository in process memory, for development
// and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo is a map-backed user store. Returned users are copies.
type UserRepo struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*model.User
	byName map[string]uuid.UUID
}

// NewUserRepo returns an empty store.
func NewUserRepo() *UserRepo {
	return &UserRepo{byID: map[uuid.UUID]*model.User{}, byName: map[string]uuid.UUID{}}
}

// Create inserts u.
func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := r.byName[u.Username]; ok {
		return errs.ErrAlreadyExists
	}
	if u.Email != "" {
		for _, other := range r.byID {
			if strings.EqualFold(other.Email, u.Email) {
				return errs.ErrAlreadyExists
			}
		}
	}
	c := clone(u)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.byID[c.ID] = c
	r.byName[c.Username] = c.ID
	return nil
}

// GetByID loads a user by ID.
func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(u), nil
}

// GetByUsername loads a user by username.
func (r *UserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

// GetByEmail loads a user by email, case-insensitively.
func (r *UserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return clone(u), nil
		}
	}
	return nil, errs.ErrNotFound
}

// UpdatePassword swaps the password record if the stored version still equals from.
func (r *UserRepo) UpdatePassword(_ context.Context, id uuid.UUID, rec model.PasswordRecord, from model.PasswordVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	if u.Password.Version != from {
		return errs.ErrVersionConflict
	}
	u.Password = rec
	return nil
}

func clone(u *model.User) *model.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}
