package idempotency

import (
	"context"
	"errors"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfPending удаляет ключ только пока запрос не завершён,
// чтобы не стереть сохранённый результат.
const luaReleaseIfPending = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisStore хранит ключи в Redis и работает при нескольких репликах сервиса.
type RedisStore struct {
	rdb *rd.Client
}

// NewRedisStore создаёт хранилище поверх клиента Redis.
func NewRedisStore(rdb *rd.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, pendingValue, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	value, err := s.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, rd.Nil):
		// Ключ истёк между SETNX и GET, клиент повторит запрос.
		return "", false, ErrInProgress
	case err != nil:
		return "", false, err
	case value == pendingValue:
		return "", false, ErrInProgress
	}
	return value, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Eval(ctx, luaReleaseIfPending, []string{key}, pendingValue).Err()
}
