package service

import (
	"context"
	"errors"
	"testing"

	pkgcrypto "github.com/and161185/credgate/internal/crypto"
	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/limiter"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/repository"
	"github.com/and161185/credgate/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type fakeTracker struct {
	locked   bool
	lockErr  error
	failLock bool
	failErr  error

	lockCalls    int
	failureCalls int
	successCalls int
}

var _ limiter.Tracker = (*fakeTracker)(nil)

func (f *fakeTracker) IsLocked(context.Context, string) (bool, error) {
	f.lockCalls++
	return f.locked, f.lockErr
}

func (f *fakeTracker) RecordFailure(context.Context, string) (bool, error) {
	f.failureCalls++
	return f.failLock, f.failErr
}

func (f *fakeTracker) RecordSuccess(context.Context, string) error {
	f.successCalls++
	return nil
}

// failingUsers wraps a repository and fails every read.
type failingUsers struct {
	repository.UserRepository
	err error
}

func (f failingUsers) GetByUsername(context.Context, string) (*model.User, error) { return nil, f.err }

func seed(t *testing.T, r *memory.UserRepo, username, password string, v model.PasswordVersion, enabled bool) *model.User {
	t.Helper()
	input := password
	if v == model.PasswordV2 {
		input = pkgcrypto.PreDigest(password)
	}
	rec, err := pkgcrypto.HashWithCost(v, input, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Username: username, Email: username + "@bank.test",
		Enabled: enabled, Roles: []string{"user"}, Password: rec}
	if err := r.Create(context.Background(), u); err != nil {
		t.Fatalf("create: %v", err)
	}
	return u
}

func newLocal(t *testing.T, users repository.UserRepository, tr limiter.Tracker, p PasswordPolicy) *LocalAuth {
	t.Helper()
	log := zaptest.NewLogger(t)
	p.Cost = bcrypt.MinCost
	return NewLocalAuth(users, NewPasswordVerifier(users, p, nil, log), tr, log)
}

func TestLocalAuth_Success(t *testing.T) {
	repo := memory.NewUserRepo()
	seed(t, repo, "alice", "Secret123!", model.PasswordV1, true)
	tr := &fakeTracker{}
	a := newLocal(t, repo, tr, PasswordPolicy{})

	v, err := a.Verify(context.Background(), "alice", "Secret123!")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.User.Username != "alice" || v.Version != model.PasswordV1 || v.Migrated {
		t.Fatalf("unexpected result %+v", v)
	}
	if tr.lockCalls != 1 || tr.successCalls != 1 || tr.failureCalls != 0 {
		t.Fatalf("tracker calls: lock=%d success=%d failure=%d", tr.lockCalls, tr.successCalls, tr.failureCalls)
	}
}

func TestLocalAuth_FailuresCounted(t *testing.T) {
	repo := memory.NewUserRepo()
	seed(t, repo, "alice", "Secret123!", model.PasswordV1, true)
	tr := &fakeTracker{}
	a := newLocal(t, repo, tr, PasswordPolicy{})
	ctx := context.Background()

	if _, err := a.Verify(ctx, "alice", "wrong"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := a.Verify(ctx, "ghost", "x"); !errors.Is(err, errs.ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
	if tr.failureCalls != 2 || tr.successCalls != 0 {
		t.Fatalf("failure=%d success=%d", tr.failureCalls, tr.successCalls)
	}

	tr.failLock = true
	_, err := a.Verify(ctx, "alice", "wrong")
	if !errors.Is(err, errs.ErrAccountLocked) || errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("lock transition: %v", err)
	}
}

func TestLocalAuth_LockedShortCircuits(t *testing.T) {
	repo := memory.NewUserRepo()
	seed(t, repo, "alice", "Secret123!", model.PasswordV1, true)
	tr := &fakeTracker{locked: true}
	a := newLocal(t, repo, tr, PasswordPolicy{})

	if _, err := a.Verify(context.Background(), "alice", "Secret123!"); !errors.Is(err, errs.ErrAccountLocked) {
		t.Fatalf("want locked, got %v", err)
	}
	if tr.failureCalls != 0 || tr.successCalls != 0 {
		t.Fatalf("locked account must not touch counters")
	}

	tr.locked, tr.lockErr = false, errors.New("redis down")
	if _, err := a.Verify(context.Background(), "alice", "Secret123!"); err == nil || errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("tracker error must surface as internal, got %v", err)
	}
}

func TestLocalAuth_Disabled(t *testing.T) {
	repo := memory.NewUserRepo()
	seed(t, repo, "carol", "pw", model.PasswordV1, false)
	tr := &fakeTracker{}
	a := newLocal(t, repo, tr, PasswordPolicy{})
	ctx := context.Background()

	if _, err := a.Verify(ctx, "carol", "pw"); !errors.Is(err, errs.ErrAccountDisabled) {
		t.Fatalf("want disabled, got %v", err)
	}
	// Wrong password on a disabled account does not reveal the flag.
	if _, err := a.Verify(ctx, "carol", "nope"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("want invalid credentials, got %v", err)
	}
}

func TestLocalAuth_V2ClientDigest(t *testing.T) {
	repo := memory.NewUserRepo()
	seed(t, repo, "dave", "Secret123!", model.PasswordV2, true)
	tr := &fakeTracker{}
	a := newLocal(t, repo, tr, PasswordPolicy{Digest: DigestClient})
	ctx := context.Background()

	if _, err := a.Verify(ctx, "dave", pkgcrypto.PreDigest("Secret123!")); err != nil {
		t.Fatalf("digest login: %v", err)
	}
	_, err := a.Verify(ctx, "dave", "Secret123!")
	if !errors.Is(err, errs.ErrMalformedPassword) || errs.PublicCode(err) != errs.CodeInvalidCredentials {
		t.Fatalf("plaintext against V2 in client mode: %v", err)
	}
	if tr.failureCalls != 1 {
		t.Fatalf("malformed input must count as a failure")
	}

	server := newLocal(t, repo, tr, PasswordPolicy{Digest: DigestServer})
	if _, err := server.Verify(ctx, "dave", "Secret123!"); err != nil {
		t.Fatalf("server digest mode: %v", err)
	}
}

func TestLocalAuth_StoreError(t *testing.T) {
	tr := &fakeTracker{}
	a := newLocal(t, failingUsers{err: errors.New("pg down")}, tr, PasswordPolicy{})
	_, err := a.Verify(context.Background(), "alice", "x")
	if err == nil || errors.Is(err, errs.ErrUserNotFound) || tr.failureCalls != 0 {
		t.Fatalf("store error: %v failures=%d", err, tr.failureCalls)
	}
}

func TestLocalAuth_RealTrackerLockout(t *testing.T) {
	repo := memory.NewUserRepo()
	seed(t, repo, "erin", "right", model.PasswordV1, true)
	a := newLocal(t, repo, limiter.NewMemory(limiter.Policy{}, nil), PasswordPolicy{})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if _, err := a.Verify(ctx, "erin", "wrong"); !errors.Is(err, errs.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := a.Verify(ctx, "erin", "wrong"); !errors.Is(err, errs.ErrAccountLocked) {
		t.Fatalf("5th failure must lock: %v", err)
	}
	if _, err := a.Verify(ctx, "erin", "right"); !errors.Is(err, errs.ErrAccountLocked) {
		t.Fatalf("correct password while locked: %v", err)
	}
}
