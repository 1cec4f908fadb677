package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "quickdrop:metric:"

// RedisSink stores each counter as a plain string key.
type RedisSink struct {
	rdb *redis.Client
}

// NewRedisSink wraps an existing client.
func NewRedisSink(rdb *redis.Client) *RedisSink {
	return &RedisSink{rdb: rdb}
}

func (s *RedisSink) SetCounter(ctx context.Context, name string, value int64) error {
	if err := s.rdb.Set(ctx, redisKeyPrefix+name, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	return nil
}

func (s *RedisSink) GetCounter(ctx context.Context, name string) (int64, error) {
	v, err := s.rdb.Get(ctx, redisKeyPrefix+name).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	return v, nil
}

func (s *RedisSink) ListCounters(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	return names, nil
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
