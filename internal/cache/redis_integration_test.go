//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisCacheSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
	cache     *RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	addr, err := container.ConnectionString(ctx)
	s.Require().NoError(err)
	opts, err := redis.ParseURL(addr)
	s.Require().NoError(err)
	s.client = redis.NewClient(opts)
	s.Require().NoError(s.client.Ping(ctx).Err())
	s.cache = NewRedis(s.client)
}

func (s *RedisCacheSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *RedisCacheSuite) TestSetThenGet() {
	ctx := context.Background()
	codes := []string{"010460710412345621A\x1d91EE06", "010460710412345621B"}
	s.Require().NoError(s.cache.Set(ctx, "d1", codes, time.Minute))

	got, ok, err := s.cache.Get(ctx, "d1")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(codes, got)

	ttl, err := s.client.TTL(ctx, keyPrefix+"d1").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

func (s *RedisCacheSuite) TestMissAndExpiry() {
	ctx := context.Background()
	_, ok, err := s.cache.Get(ctx, "absent")
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.Set(ctx, "short", []string{"x"}, time.Second))
	s.Eventually(func() bool {
		_, ok, _ := s.cache.Get(ctx, "short")
		return !ok
	}, 5*time.Second, 100*time.Millisecond)
}
