package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "revoked:"

// RedisSet shares the blacklist between instances. Redis expiry removes an
// entry when the token it describes would have expired anyway.
type RedisSet struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisSet(client redis.Cmdable) *RedisSet {
	return &RedisSet{client: client, now: time.Now}
}

func (s *RedisSet) Add(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, redisKeyPrefix+Fingerprint(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (s *RedisSet) Contains(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+Fingerprint(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return n > 0, nil
}
