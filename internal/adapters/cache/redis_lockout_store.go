package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sokopay/facepay-core/internal/ports"
)

const lockoutKeyPrefix = "facepay:lockout:"

// recordFailureScript performs the stale-lock reset, the failure increment
// and the threshold lock-set as one atomic unit per key. Two concurrent
// failures can therefore never both observe a lapsed lock and wipe each
// other's increment, and never both observe the pre-threshold count and skip
// the lock. Returns {failed_count, locked_until_unix_or_0}.
var recordFailureScript = redis.NewScript(`
local prev = tonumber(redis.call("HGET", KEYS[1], "locked_until"))
if prev and prev > 0 and prev <= tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
end
local count = redis.call("HINCRBY", KEYS[1], "failed_count", 1)
if count >= tonumber(ARGV[2]) then
  redis.call("HSET", KEYS[1], "locked_until", ARGV[3])
  redis.call("EXPIRE", KEYS[1], ARGV[4])
  return {count, tonumber(ARGV[3])}
end
redis.call("EXPIRE", KEYS[1], ARGV[5])
return {count, 0}
`)

// RedisLockoutStore implements brute-force lockout storage in Redis. One
// hash per key holds failed_count and locked_until; RecordFailure runs a
// single server-side script so the counter is exact under concurrency.
type RedisLockoutStore struct {
	client *redis.Client
}

// NewRedisLockoutStore creates a lockout store backed by Redis hashes.
func NewRedisLockoutStore(client *redis.Client) *RedisLockoutStore {
	return &RedisLockoutStore{client: client}
}

func (s *RedisLockoutStore) Get(ctx context.Context, key string) (ports.LockoutState, error) {
	data, err := s.client.HGetAll(ctx, lockoutKeyPrefix+key).Result()
	if err != nil {
		return ports.LockoutState{}, err
	}
	if len(data) == 0 {
		return ports.LockoutState{}, nil
	}
	return parseLockoutHash(data), nil
}

// RecordFailure counts one failure and locks the key once the count reaches
// the threshold. A lock that already lapsed leaves a stale counter behind;
// the script resets it first so the post-lock failure budget starts from
// zero again.
func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (ports.LockoutState, error) {
	lockedUntil := now.Add(lockoutWindow).UTC()
	res, err := recordFailureScript.Run(ctx, s.client, []string{lockoutKeyPrefix + key},
		now.Unix(),
		threshold,
		lockedUntil.Unix(),
		int((lockoutWindow + 30*time.Minute).Seconds()),
		int((24 * time.Hour).Seconds()),
	).Int64Slice()
	if err != nil {
		return ports.LockoutState{}, err
	}

	state := ports.LockoutState{FailedCount: int(res[0])}
	if len(res) > 1 && res[1] > 0 {
		t := time.Unix(res[1], 0).UTC()
		state.LockedUntil = &t
	}
	return state, nil
}

func (s *RedisLockoutStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, lockoutKeyPrefix+key).Err()
}

func parseLockoutHash(data map[string]string) ports.LockoutState {
	state := ports.LockoutState{}
	if raw, ok := data["failed_count"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			state.FailedCount = n
		}
	}
	if raw, ok := data["locked_until"]; ok && raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
			t := time.Unix(unix, 0).UTC()
			state.LockedUntil = &t
		}
	}
	return state
}
