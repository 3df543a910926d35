package strategy

import (
	"context"

	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/service"
)

// Database verifies against the local user store.
type Database struct {
	base
	local *service.LocalAuth
}

// NewDatabase constructs the local strategy. Lockout is applied by local.
func NewDatabase(local *service.LocalAuth, d Deps) *Database {
	return &Database{base: newBase(KindDatabase, d), local: local}
}

func (s *Database) Authenticate(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	username, password, err := s.resolve(creds)
	if err != nil {
		return nil, s.failed(ctx, creds, "", err)
	}
	v, err := s.local.Verify(ctx, username, password)
	if err != nil {
		return nil, s.failed(ctx, creds, username, err)
	}
	return s.finish(ctx, creds, v.User.Identity(), model.LoginMetadata{PasswordVersion: v.Version})
}
