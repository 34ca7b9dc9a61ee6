package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps go-redis client with optional logger.
type Client struct {
	*redis.Client
	Breaker *CircuitBreakerHook
	logger  *zap.Logger
}

// NewClient creates a Redis client, verifies connectivity and installs the circuit breaker.
func NewClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	breaker := NewCircuitBreakerHook(logger)
	rdb.AddHook(breaker)

	logger.Info("Redis client connected", zap.String("addr", addr))
	return &Client{Client: rdb, Breaker: breaker, logger: logger}, nil
}
