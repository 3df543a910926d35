package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/credgate/internal/audit"
	"github.com/and161185/credgate/internal/model"
)

// Memory is an in-process tracker. Each key has its own entry and mutex; there is
// no lock spanning keys.
type Memory struct {
	entries sync.Map // string -> *entry
	policy  Policy
	now     func() time.Time
	audit   *audit.Logger

	sweepMu sync.Mutex
	sweepAt time.Time
}

type entry struct {
	mu          sync.Mutex
	failed      int
	lockedUntil time.Time
	seen        time.Time // last failure
	dead        bool      // removed from the map; writers must reload
}

// NewMemory constructs an in-process tracker. aud may be nil.
func NewMemory(p Policy, aud *audit.Logger) *Memory {
	return &Memory{policy: p.normalized(), now: time.Now, audit: aud}
}

// WithClock replaces the time source. Intended for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// IsLocked implements Tracker.
func (m *Memory) IsLocked(_ context.Context, key string) (bool, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return false, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lockedUntil.IsZero() {
		return false, nil
	}
	if m.now().Before(e.lockedUntil) {
		return true, nil
	}
	m.dropLocked(key, e)
	return false, nil
}

// RecordFailure implements Tracker.
func (m *Memory) RecordFailure(ctx context.Context, key string) (bool, error) {
	m.maybeSweep()
	for {
		v, _ := m.entries.LoadOrStore(key, &entry{})
		e := v.(*entry)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}

		now := m.now()
		if !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil) {
			e.failed, e.lockedUntil = 0, time.Time{}
		}
		e.failed++
		e.seen = now
		locked := e.failed == m.policy.Threshold
		if locked {
			e.lockedUntil = now.Add(m.policy.LockFor)
		}
		n, until := e.failed, e.lockedUntil
		e.mu.Unlock()

		if locked {
			m.audit.Lockout(ctx, key, n, until)
		}
		return locked, nil
	}
}

// RecordSuccess implements Tracker.
func (m *Memory) RecordSuccess(_ context.Context, key string) error {
	v, ok := m.entries.Load(key)
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	m.dropLocked(key, e)
	e.mu.Unlock()
	return nil
}

// State returns a snapshot of key's entry.
func (m *Memory) State(key string) model.LockoutState {
	st := model.LockoutState{Key: key}
	v, ok := m.entries.Load(key)
	if !ok {
		return st
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return st
	}
	st.FailedAttempts = e.failed
	if !e.lockedUntil.IsZero() {
		t := e.lockedUntil
		st.LockedUntil = &t
	}
	return st
}

// maybeSweep runs sweep at most once per IdleFor.
func (m *Memory) maybeSweep() {
	now := m.now()
	m.sweepMu.Lock()
	if now.Before(m.sweepAt) {
		m.sweepMu.Unlock()
		return
	}
	m.sweepAt = now.Add(m.policy.IdleFor)
	m.sweepMu.Unlock()
	m.sweep(now)
}

// sweep drops entries whose lock has passed and unlocked entries idle for IdleFor.
func (m *Memory) sweep(now time.Time) {
	m.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		switch {
		case e.dead:
		case !e.lockedUntil.IsZero():
			if !now.Before(e.lockedUntil) {
				m.dropLocked(k.(string), e)
			}
		case now.Sub(e.seen) >= m.policy.IdleFor:
			m.dropLocked(k.(string), e)
		}
		e.mu.Unlock()
		return true
	})
}

// dropLocked removes e; the caller holds e.mu.
func (m *Memory) dropLocked(key string, e *entry) {
	e.dead = true
	m.entries.CompareAndDelete(key, e)
}
