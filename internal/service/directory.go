package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/credgate/internal/delegation"
	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// Directory answers remote identity lookups from the local store.
type Directory struct {
	users repository.UserRepository
}

// NewDirectory constructs a Directory.
func NewDirectory(users repository.UserRepository) *Directory { return &Directory{users: users} }

// Lookup finds the user whose field equals value. It never returns password material.
func (d *Directory) Lookup(ctx context.Context, field delegation.LookupField, value string) (*model.Identity, error) {
	var (
		u   *model.User
		err error
	)
	switch field {
	case delegation.ByUsername:
		u, err = d.users.GetByUsername(ctx, value)
	case delegation.ByEmail:
		u, err = d.users.GetByEmail(ctx, value)
	case delegation.ByID:
		id, perr := uuid.FromString(value)
		if perr != nil {
			return nil, errs.ErrUserNotFound
		}
		u, err = d.users.GetByID(ctx, id)
	default:
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	id := u.Identity()
	return &id, nil
}
