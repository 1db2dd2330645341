package lastquery

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"moviestream/searchgateway/internal/metrics"
)

const redisKeyPrefix = "searchgw:lastquery:"

// RedisStore keeps last queries in Redis so restores survive gateway
// restarts and work across replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, owner string) (string, bool, error) {
	owner = normalizeOwner(owner)
	if owner == "" {
		return "", false, nil
	}
	value, err := s.client.Get(ctx, redisKeyPrefix+owner).Result()
	if err != nil {
		if err == redis.Nil {
			metrics.LastQueryCacheHits.WithLabelValues("get", "miss").Inc()
			return "", false, nil
		}
		metrics.LastQueryCacheHits.WithLabelValues("get", "error").Inc()
		return "", false, err
	}
	metrics.LastQueryCacheHits.WithLabelValues("get", "hit").Inc()
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, owner, query string) error {
	owner = normalizeOwner(owner)
	if owner == "" || query == "" {
		return nil
	}
	err := s.client.Set(ctx, redisKeyPrefix+owner, query, s.ttl).Err()
	if err != nil {
		metrics.LastQueryCacheHits.WithLabelValues("set", "error").Inc()
		return err
	}
	metrics.LastQueryCacheHits.WithLabelValues("set", "ok").Inc()
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, owner string) error {
	owner = normalizeOwner(owner)
	if owner == "" {
		return nil
	}
	err := s.client.Del(ctx, redisKeyPrefix+owner).Err()
	if err != nil {
		metrics.LastQueryCacheHits.WithLabelValues("clear", "error").Inc()
		return err
	}
	metrics.LastQueryCacheHits.WithLabelValues("clear", "ok").Inc()
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
