package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "helm:ledger:entries"

// RedisConfig configures the Redis list sink.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Key      string `yaml:"key" json:"key"`
}

// Redis keeps the chain as a single list; RPUSH order is write order.
type Redis struct {
	client redis.Cmdable
	closer func() error
	key    string
}

// NewRedis connects to cfg.Addr and pings it.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sink: redis ping %s: %w", cfg.Addr, err)
	}
	s := NewRedisWithClient(client, cfg.Key)
	s.closer = client.Close
	return s, nil
}

// NewRedisWithClient wraps an existing client; Close leaves it open.
func NewRedisWithClient(client redis.Cmdable, key string) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{client: client, key: key, closer: func() error { return nil }}
}

func (s *Redis) Write(ctx context.Context, record []byte) error {
	if err := s.client.RPush(ctx, s.key, record).Err(); err != nil {
		return fmt.Errorf("sink: redis rpush %s: %w", s.key, err)
	}
	return nil
}

func (s *Redis) Last(ctx context.Context) ([]byte, error) {
	v, err := s.client.LIndex(ctx, s.key, -1).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("sink: redis lindex %s: %w", s.key, err)
	}
	return v, nil
}

func (s *Redis) ReadAll(ctx context.Context) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("sink: redis lrange %s: %w", s.key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *Redis) Close() error {
	return s.closer()
}
