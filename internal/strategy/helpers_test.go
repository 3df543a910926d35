package strategy

import (
	"context"
	"sync"
	"testing"

	"github.com/and161185/credgate/internal/audit"
	pkgcrypto "github.com/and161185/credgate/internal/crypto"
	"github.com/and161185/credgate/internal/crypto/credcodec"
	"github.com/and161185/credgate/internal/limiter"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/repository/memory"
	"github.com/and161185/credgate/internal/token"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

var (
	keyOnce sync.Once
	testKey *credcodec.KeyPair
	keyErr  error
)

func testCodec(t *testing.T) *credcodec.Codec {
	t.Helper()
	keyOnce.Do(func() { testKey, keyErr = credcodec.GenerateKeyPair(credcodec.DefaultBits) })
	require.NoError(t, keyErr)
	return credcodec.New(testKey)
}

type fakeTracker struct {
	mu       sync.Mutex
	locked   bool
	failLock bool

	failures  int
	successes int
}

var _ limiter.Tracker = (*fakeTracker)(nil)

func (f *fakeTracker) IsLocked(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked, nil
}

func (f *fakeTracker) RecordFailure(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	return f.failLock, nil
}

func (f *fakeTracker) RecordSuccess(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
	return nil
}

type env struct {
	deps    Deps
	codec   *credcodec.Codec
	tokens  *token.Issuer
	tracker *fakeTracker
	logs    *observer.ObservedLogs
}

func newEnv(t *testing.T) *env {
	t.Helper()
	codec := testCodec(t)
	tokens, err := token.New(token.Config{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	core, logs := observer.New(zapcore.DebugLevel)
	tr := &fakeTracker{}
	return &env{
		deps: Deps{
			Codec:   codec,
			Tokens:  tokens,
			Tracker: tr,
			Audit:   audit.New(zap.New(core)),
			Log:     zaptest.NewLogger(t),
		},
		codec:   codec,
		tokens:  tokens,
		tracker: tr,
		logs:    logs,
	}
}

// auditReasons returns the reason field of every audit entry.
func (e *env) auditReasons() []string {
	var out []string
	for _, entry := range e.logs.All() {
		if r, ok := entry.ContextMap()["reason"].(string); ok {
			out = append(out, r)
		} else {
			out = append(out, "")
		}
	}
	return out
}

func seedUser(t *testing.T, repo *memory.UserRepo, username, password string, enabled bool) *model.User {
	t.Helper()
	rec, err := pkgcrypto.HashWithCost(model.PasswordV1, password, bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{
		ID:        uuid.Must(uuid.NewV4()),
		Username:  username,
		Email:     username + "@bank.test",
		FirstName: "Test",
		Enabled:   enabled,
		Roles:     []string{"user", "teller"},
		Password:  rec,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}
