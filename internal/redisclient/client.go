// Package redisclient builds the shared go-redis client for the parse cache and
// the serial counter.
package redisclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Client wraps the go-redis client with health checking.
type Client struct {
	*redis.Client
}

// New connects to addr, which may be a redis:// URL or a bare host:port.
// It returns nil, nil when addr is empty.
func New(ctx context.Context, addr, password string, db int) (*Client, error) {
	if addr == "" {
		return nil, nil
	}
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr, Password: password, DB: db}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health checks that the connection answers.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
