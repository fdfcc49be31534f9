package redisclient

import (
	"time"

	"github.com/BimilLog/BimilLog-sub001/internal/config"

	"github.com/redis/go-redis/v9"
)

// New creates a Redis client from configuration. Every command carries the
// configured read/write timeout so remote failures surface quickly enough
// for the circuit breaker instead of hanging request handlers.
func New(cfg config.RedisConfig) *redis.Client {
	timeout := 500 * time.Millisecond
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}
