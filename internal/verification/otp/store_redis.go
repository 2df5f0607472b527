package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tipline/pkg/platform/sentinel"
	"tipline/pkg/requestcontext"
)

const (
	challengeKeyPrefix = "tipline:otp:"
	maxWatchRetries    = 4
)

// RedisStore shares challenges across instances. Keys carry the challenge
// expiry as their TTL; Verify runs under WATCH so two concurrent guesses can
// never both consume or both miss an increment.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func challengeKey(handle string) string {
	return challengeKeyPrefix + handle
}

func (s *RedisStore) Put(ctx context.Context, c Challenge) error {
	ttl := c.ExpiresAt.Sub(requestcontext.Now(ctx))
	if ttl <= 0 {
		return fmt.Errorf("otp challenge already expired: %w", sentinel.ErrExpired)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode otp challenge: %w", err)
	}
	if err := s.client.Set(ctx, challengeKey(c.Handle), data, ttl).Err(); err != nil {
		return fmt.Errorf("store otp challenge: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *RedisStore) Verify(ctx context.Context, handle, code string, now time.Time) (bool, error) {
	key := challengeKey(handle)

	for range maxWatchRetries {
		var accepted bool
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var c Challenge
			if err := json.Unmarshal(data, &c); err != nil {
				return fmt.Errorf("decode otp challenge: %w", err)
			}

			switch c.evaluate(code, now) {
			case verdictAccept:
				accepted = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
			case verdictDelete:
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
			case verdictIncrement:
				c.FailedAttempts++
				updated, encErr := json.Marshal(c)
				if encErr != nil {
					return encErr
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, redis.KeepTTL)
					return nil
				})
			}
			return err
		}, key)

		switch {
		case err == nil:
			return accepted, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return false, nil
		default:
			return false, fmt.Errorf("verify otp: %w", errors.Join(sentinel.ErrUnavailable, err))
		}
	}
	// Contention on one handle means concurrent guesses; fail closed.
	return false, nil
}

func (s *RedisStore) Delete(ctx context.Context, handle string) error {
	if err := s.client.Del(ctx, challengeKey(handle)).Err(); err != nil {
		return fmt.Errorf("delete otp challenge: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

// DeleteExpired is a no-op; Redis expires keys itself.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
