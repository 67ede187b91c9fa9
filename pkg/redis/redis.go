package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/config"
)

// ClientInterface is the surface the route memo depends on; tests substitute
// an in-memory implementation.
type ClientInterface interface {
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	Close() error
}

// Client embeds the go-redis client behind ClientInterface.
type Client struct {
	*redis.Client
}

var _ ClientInterface = (*Client)(nil)

// NewClient dials Redis and pings it once, so a bad address fails at
// startup rather than on the first route lookup.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// SetWithExpiration stores value under key with a TTL.
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.Set(ctx, key, value, expiration).Err()
}

// GetString reads a string value. Returns redis.Nil when absent.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.Get(ctx, key).Result()
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// IsNil reports whether err is the redis cache-miss sentinel.
func IsNil(err error) bool {
	return err == redis.Nil
}
