package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisUserPrefix   = "presence:user:"
	redisWorkerPrefix = "presence:worker:"
)

// KEYS[1] user set, KEYS[2] worker hash; ARGV[1] connId, ARGV[2] userId
var addScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return {added, redis.call('SCARD', KEYS[1])}
`)

// KEYS[1] user set, KEYS[2] worker hash; ARGV[1] connId
var removeScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return {removed, redis.call('SCARD', KEYS[1])}
`)

// KEYS[1] worker hash; ARGV[1] user key prefix
var reapScript = redis.NewScript(`
local entries = redis.call('HGETALL', KEYS[1])
local gone = {}
local seen = {}
for i = 1, #entries, 2 do
  local key = ARGV[1] .. entries[i + 1]
  local removed = redis.call('SREM', key, entries[i])
  if removed == 1 and redis.call('SCARD', key) == 0 and not seen[entries[i + 1]] then
    seen[entries[i + 1]] = true
    table.insert(gone, entries[i + 1])
  end
end
redis.call('DEL', KEYS[1])
return gone
`)

// RedisCounter keeps a SET of connection ids per user and a HASH of
// connId -> userId per worker. Every mutation is one Lua script.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Add(ctx context.Context, workerId, userId, connId string) (int64, bool, error) {
	res, err := addScript.Run(ctx, c.rdb, []string{redisUserPrefix + userId, redisWorkerPrefix + workerId}, connId, userId).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("presence add: %w", err)
	}
	return res[1], res[0] == 1, nil
}

func (c *RedisCounter) Remove(ctx context.Context, workerId, userId, connId string) (int64, bool, error) {
	res, err := removeScript.Run(ctx, c.rdb, []string{redisUserPrefix + userId, redisWorkerPrefix + workerId}, connId).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("presence remove: %w", err)
	}
	return res[1], res[0] == 1, nil
}

func (c *RedisCounter) Count(ctx context.Context, userId string) (int64, error) {
	n, err := c.rdb.SCard(ctx, redisUserPrefix+userId).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count: %w", err)
	}
	return n, nil
}

func (c *RedisCounter) Reap(ctx context.Context, workerId string) ([]string, error) {
	gone, err := reapScript.Run(ctx, c.rdb, []string{redisWorkerPrefix + workerId}, redisUserPrefix).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("presence reap %s: %w", workerId, err)
	}
	sort.Strings(gone)
	return gone, nil
}
