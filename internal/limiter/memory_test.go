package limiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/credgate/internal/audit"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMemory(t *testing.T) (*Memory, *clock, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(Policy{Threshold: 5, LockFor: 15 * time.Minute}, audit.New(zap.New(core))).WithClock(c.Now)
	return m, c, logs
}

func TestMemory_LocksAtThreshold(t *testing.T) {
	t.Parallel()
	m, c, logs := newTestMemory(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		locked, err := m.RecordFailure(ctx, "alice")
		require.NoError(t, err)
		require.False(t, locked, "attempt %d", i)
	}
	isLocked, err := m.IsLocked(ctx, "alice")
	require.NoError(t, err)
	require.False(t, isLocked)

	locked, err := m.RecordFailure(ctx, "alice")
	require.NoError(t, err)
	require.True(t, locked)

	isLocked, _ = m.IsLocked(ctx, "alice")
	require.True(t, isLocked)

	st := m.State("alice")
	require.Equal(t, 5, st.FailedAttempts)
	require.NotNil(t, st.LockedUntil)
	require.Equal(t, c.Now().Add(15*time.Minute), *st.LockedUntil)
	require.Equal(t, 1, logs.FilterField(zap.String("action", audit.ActionLockout)).Len())

	// Further failures while locked do not re-announce the lock.
	locked, _ = m.RecordFailure(ctx, "alice")
	require.False(t, locked)

	// Other keys are independent.
	isLocked, _ = m.IsLocked(ctx, "bob")
	require.False(t, isLocked)
}

func TestMemory_ExpiryClearsState(t *testing.T) {
	t.Parallel()
	m, c, _ := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = m.RecordFailure(ctx, "alice")
	}
	c.Advance(15*time.Minute - time.Second)
	isLocked, _ := m.IsLocked(ctx, "alice")
	require.True(t, isLocked)

	c.Advance(time.Second)
	isLocked, _ = m.IsLocked(ctx, "alice")
	require.False(t, isLocked)
	require.Equal(t, 0, m.State("alice").FailedAttempts)
	require.Nil(t, m.State("alice").LockedUntil)
}

func TestMemory_ExpiredLockRestartsCount(t *testing.T) {
	t.Parallel()
	m, c, _ := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = m.RecordFailure(ctx, "alice")
	}
	c.Advance(16 * time.Minute)
	// No IsLocked in between: RecordFailure itself notices the expiry.
	locked, _ := m.RecordFailure(ctx, "alice")
	require.False(t, locked)
	require.Equal(t, 1, m.State("alice").FailedAttempts)
}

func TestMemory_SuccessResets(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = m.RecordFailure(ctx, "alice")
	}
	require.NoError(t, m.RecordSuccess(ctx, "alice"))
	require.Equal(t, 0, m.State("alice").FailedAttempts)

	for i := 0; i < 4; i++ {
		locked, _ := m.RecordFailure(ctx, "alice")
		require.False(t, locked)
	}
	require.NoError(t, m.RecordSuccess(ctx, "nobody"))
}

func TestMemory_ConcurrentFailures(t *testing.T) {
	t.Parallel()
	m, _, logs := newTestMemory(t)
	ctx := context.Background()

	const n = 64
	var transitions atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			locked, err := m.RecordFailure(ctx, "alice")
			if err == nil && locked {
				transitions.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), transitions.Load())
	require.Equal(t, n, m.State("alice").FailedAttempts)
	require.Equal(t, 1, logs.FilterField(zap.String("action", audit.ActionLockout)).Len())
}

func TestMemory_IdleEntriesSwept(t *testing.T) {
	t.Parallel()
	m, c, _ := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		_, _ = m.RecordFailure(ctx, fmt.Sprintf("spray-%d", i))
	}
	for i := 0; i < 5; i++ {
		_, _ = m.RecordFailure(ctx, "locked")
	}
	// Still within the idle period: nothing is dropped.
	c.Advance(DefaultLockFor + time.Minute)
	_, _ = m.RecordFailure(ctx, "trigger")
	require.Equal(t, 1, m.State("spray-7").FailedAttempts)

	c.Advance(DefaultIdleFor)
	_, _ = m.RecordFailure(ctx, "trigger")

	n := 0
	m.entries.Range(func(any, any) bool { n++; return true })
	require.Equal(t, 1, n, "only the entry that triggered the sweep remains")
	require.Equal(t, 0, m.State("spray-7").FailedAttempts)
	require.Nil(t, m.State("locked").LockedUntil)
}
