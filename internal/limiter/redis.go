package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/credgate/internal/audit"
	"github.com/redis/go-redis/v9"
)

// failureScript increments the failure counter and places the lock when the
// counter reaches the threshold. Below the threshold the counter's TTL is the
// idle period, refreshed on every failure; once the lock is placed the counter
// expires together with it.
//
// KEYS[1] counter, KEYS[2] lock; ARGV[1] threshold, ARGV[2] lock duration in ms,
// ARGV[3] idle period in ms. Returns {count, locked}.
const failureScript = `
local n = redis.call('INCR', KEYS[1])
if n == tonumber(ARGV[1]) then
  redis.call('SET', KEYS[2], n, 'PX', ARGV[2])
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return {n, 1}
end
if redis.call('EXISTS', KEYS[2]) == 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {n, 0}
`

type redisCmdable interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis is a tracker shared by every instance pointing at the same Redis.
type Redis struct {
	rdb    redisCmdable
	policy Policy
	prefix string
	audit  *audit.Logger
	now    func() time.Time
}

// NewRedis constructs a Redis-backed tracker. rdb is usually a *redis.Client or
// *redis.ClusterClient.
func NewRedis(rdb redis.UniversalClient, p Policy, aud *audit.Logger) *Redis {
	return newRedis(rdb, p, aud)
}

func newRedis(rdb redisCmdable, p Policy, aud *audit.Logger) *Redis {
	return &Redis{rdb: rdb, policy: p.normalized(), prefix: "lockout", audit: aud, now: time.Now}
}

// keys share a hash tag so the script's keys map to one cluster slot.
func (l *Redis) keys(key string) (counter, lock string) {
	base := fmt.Sprintf("%s:{%s}", l.prefix, key)
	return base + ":fails", base + ":lock"
}

// IsLocked implements Tracker. Expiry is handled by Redis TTLs.
func (l *Redis) IsLocked(ctx context.Context, key string) (bool, error) {
	_, lock := l.keys(key)
	n, err := l.rdb.Exists(ctx, lock).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordFailure implements Tracker.
func (l *Redis) RecordFailure(ctx context.Context, key string) (bool, error) {
	counter, lock := l.keys(key)
	res, err := l.rdb.Eval(ctx, failureScript, []string{counter, lock},
		l.policy.Threshold, l.policy.LockFor.Milliseconds(), l.policy.IdleFor.Milliseconds()).Int64Slice()
	if err != nil {
		return false, err
	}
	if len(res) != 2 {
		return false, fmt.Errorf("lockout script: unexpected reply %v", res)
	}
	if res[1] != 1 {
		return false, nil
	}
	l.audit.Lockout(ctx, key, int(res[0]), l.now().Add(l.policy.LockFor))
	return true, nil
}

// RecordSuccess implements Tracker.
func (l *Redis) RecordSuccess(ctx context.Context, key string) error {
	counter, lock := l.keys(key)
	return l.rdb.Del(ctx, counter, lock).Err()
}
