package strategy

import (
	"context"
	"errors"

	"github.com/and161185/credgate/internal/delegation"
	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"go.uber.org/zap"
)

// Peer is the remote instance that owns the users.
type Peer interface {
	ValidatePassword(ctx context.Context, username, password string) (bool, error)
	LookupUser(ctx context.Context, field delegation.LookupField, value string) (*model.Identity, error)
}

// Federation delegates the password check to a peer over signed requests.
type Federation struct {
	base
	peer Peer
}

func NewFederation(peer Peer, d Deps) *Federation {
	return &Federation{base: newBase(KindFederation, d), peer: peer}
}

func (s *Federation) Authenticate(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	username, password, err := s.resolve(creds)
	if err != nil {
		return nil, s.failed(ctx, creds, "", err)
	}
	if err := s.guard(ctx, username); err != nil {
		return nil, s.failed(ctx, creds, username, err)
	}

	ok, err := s.peer.ValidatePassword(ctx, username, password)
	if err != nil {
		// Peer outages are not the caller's fault and do not count toward lockout.
		return nil, s.failed(ctx, creds, username, err)
	}
	if !ok {
		return nil, s.failed(ctx, creds, username, s.reject(ctx, username, errs.ErrInvalidCredentials))
	}
	s.accept(ctx, username)

	id := model.MinimalIdentity(username)
	profile, err := s.peer.LookupUser(ctx, delegation.ByUsername, username)
	switch {
	case err == nil:
		if !profile.Enabled {
			return nil, s.failed(ctx, creds, username, errs.ErrAccountDisabled)
		}
		id = *profile
	case errors.Is(err, errs.ErrUserNotFound):
		s.Log.Info("peer has no profile, using minimal identity", zap.String("user", username))
	default:
		s.Log.Warn("peer profile lookup failed, using minimal identity", zap.String("user", username), zap.Error(err))
	}
	return s.finish(ctx, creds, id, model.LoginMetadata{})
}
