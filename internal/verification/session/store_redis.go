package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tipline/internal/verification/models"
	"tipline/pkg/platform/sentinel"
	"tipline/pkg/requestcontext"
)

const (
	sessionKeyPrefix = "tipline:vs:"
	maxWatchRetries  = 4
)

// RedisStore shares verification sessions across instances. Keys expire with
// the session's idle lifetime; updates use WATCH/MULTI so concurrent attempt
// counters never lose increments.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, sess models.Session) error {
	data, ttl, err := encode(ctx, sess)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, sessionKey(sess.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (models.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Session{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	sess, err := decode(data)
	if err != nil {
		return models.Session{}, err
	}
	if sess.IsExpired(requestcontext.Now(ctx)) {
		_ = s.client.Del(ctx, sessionKey(id)).Err()
		return models.Session{}, sentinel.ErrExpired
	}
	return sess, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn MutateFunc) (models.Session, error) {
	key := sessionKey(id)
	for range maxWatchRetries {
		var (
			updated models.Session
			fnErr   error
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			current, err := decode(data)
			if err != nil {
				return err
			}
			if current.IsExpired(requestcontext.Now(ctx)) {
				_, _ = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return sentinel.ErrExpired
			}
			next, err := fn(current)
			if err != nil {
				fnErr = err
				return err
			}
			encoded, ttl, err := encode(ctx, next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			if err == nil {
				updated = next
			}
			return err
		}, key)

		switch {
		case fnErr != nil:
			return models.Session{}, fnErr
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return models.Session{}, sentinel.ErrNotFound
		case errors.Is(err, sentinel.ErrExpired):
			return models.Session{}, err
		default:
			return models.Session{}, fmt.Errorf("update session: %w", errors.Join(sentinel.ErrUnavailable, err))
		}
	}
	return models.Session{}, fmt.Errorf("update session: too much contention: %w", sentinel.ErrConflict)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

// DeleteExpired is a no-op; Redis expires keys itself.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func encode(ctx context.Context, sess models.Session) ([]byte, time.Duration, error) {
	ttl := sess.ExpiresAt.Sub(requestcontext.Now(ctx))
	if ttl <= 0 {
		return nil, 0, fmt.Errorf("session already expired: %w", sentinel.ErrExpired)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, 0, fmt.Errorf("encode session: %w", err)
	}
	return data, ttl, nil
}

func decode(data []byte) (models.Session, error) {
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return models.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}
