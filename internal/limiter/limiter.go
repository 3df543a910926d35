// Package limiter tracks failed logins per username and places temporary lockouts.
//
// One Tracker instance is shared by every authentication strategy, so failures
// against any backend count toward the same lock.
package limiter

import (
	"context"
	"time"
)

// Defaults.
const (
	DefaultThreshold = 5
	DefaultLockFor   = 15 * time.Minute
	DefaultIdleFor   = 24 * time.Hour
)

// Tracker counts failures and reports lock state.
type Tracker interface {
	// IsLocked reports whether key is locked now. Expired state is cleared.
	IsLocked(ctx context.Context, key string) (bool, error)
	// RecordFailure counts a failed attempt. locked is true only for the attempt
	// that reached the threshold and placed the lock.
	RecordFailure(ctx context.Context, key string) (locked bool, err error)
	// RecordSuccess clears the failure state of key.
	RecordSuccess(ctx context.Context, key string) error
}

// Policy configures a tracker.
type Policy struct {
	Threshold int
	LockFor   time.Duration
	// IdleFor is how long an unlocked entry with no new failures is kept.
	// It is never shorter than LockFor.
	IdleFor time.Duration
}

func (p Policy) normalized() Policy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.LockFor <= 0 {
		p.LockFor = DefaultLockFor
	}
	if p.IdleFor <= 0 {
		p.IdleFor = DefaultIdleFor
	}
	if p.IdleFor < p.LockFor {
		p.IdleFor = p.LockFor
	}
	return p
}
