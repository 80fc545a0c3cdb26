package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/security/token"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces refresh hashes in a shared Redis.
const DefaultRedisKeyPrefix = "autotm:session:refresh:"

// RedisStore keeps refresh hashes in Redis with the refresh TTL as key expiry.
// Swaps use WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore. ttl should match the refresh token TTL.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("session: nil redis client")
	}
	if ttl <= 0 {
		return nil, ErrConfig
	}
	return &RedisStore{rdb: rdb, prefix: DefaultRedisKeyPrefix, ttl: ttl}, nil
}

func (s *RedisStore) key(subject string) string {
	return s.prefix + subject
}

func (s *RedisStore) GetRefreshHash(ctx context.Context, subject string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) SetRefreshHash(ctx context.Context, subject, hash string) error {
	return s.rdb.Set(ctx, s.key(subject), hash, s.ttl).Err()
}

func (s *RedisStore) SwapRefreshHash(ctx context.Context, subject, oldHash, newHash string) (bool, error) {
	key := s.key(subject)
	swapped := false

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if !token.Equal(cur, oldHash) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newHash, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)

	// Another writer changed the key between WATCH and EXEC: this caller lost.
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *RedisStore) ClearRefreshHash(ctx context.Context, subject string) error {
	return s.rdb.Del(ctx, s.key(subject)).Err()
}

var _ Store = (*RedisStore)(nil)
