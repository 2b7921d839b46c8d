package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/ola-suite/internal/store"
)

type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects and pings. ttl <= 0 keeps keys without expiry.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewWithClient(rdb, ttl), nil
}

func NewWithClient(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, prefix: "ola:", ttl: ttl}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, s.prefix+key, value, s.ttl).Err()
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}
