package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/crop-market/internal/core/domain"
)

const (
	statsKeyPrefix       = "stats:"
	idempotencyKeyPrefix = "idem:"
	idempotencyKeyTTL    = 24 * time.Hour
)

const (
	fieldTotalPosts     = "totalPosts"
	fieldTotalSold      = "totalSold"
	fieldTotalPurchased = "totalPurchased"
)

// applyStatsScript increments each counter of a user hash and floors it at zero.
var applyStatsScript = redis.NewScript(`
local key = KEYS[1]
for i = 1, #ARGV, 2 do
	local field = ARGV[i]
	local delta = tonumber(ARGV[i + 1])
	if delta ~= 0 then
		local v = redis.call('HINCRBY', key, field, delta)
		if v < 0 then
			redis.call('HSET', key, field, 0)
		end
	end
end
return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) ApplyStats(ctx context.Context, uid string, delta domain.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	key := statsKeyPrefix + uid
	args := []any{
		fieldTotalPosts, delta.TotalPosts,
		fieldTotalSold, delta.TotalSold,
		fieldTotalPurchased, delta.TotalPurchased,
	}
	return applyStatsScript.Run(ctx, r.client, []string{key}, args...).Err()
}

func (r *RedisAdapter) GetStats(ctx context.Context, uid string) (domain.UserStats, error) {
	vals, err := r.client.HGetAll(ctx, statsKeyPrefix+uid).Result()
	if err != nil {
		return domain.UserStats{}, err
	}
	return domain.UserStats{
		TotalPosts:     parseCounter(vals[fieldTotalPosts]),
		TotalSold:      parseCounter(vals[fieldTotalSold]),
		TotalPurchased: parseCounter(vals[fieldTotalPurchased]),
	}, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func parseCounter(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
