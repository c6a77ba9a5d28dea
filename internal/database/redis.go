package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisClient wraps the Redis client with connectivity tracking. The bus
// rides on this client; the degraded flag feeds the presence tracker so
// peer statuses freeze while the backend is unreachable.
type RedisClient struct {
	Client *redis.Client

	mu         sync.Mutex
	degraded   bool
	onDegraded func(degraded bool)
}

// NewRedisDB creates a Redis client from config
func NewRedisDB(cfg *RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})
	return &RedisClient{Client: client}, nil
}

// OnDegradedChange registers a callback fired when connectivity flips
func (r *RedisClient) OnDegradedChange(fn func(degraded bool)) {
	r.mu.Lock()
	r.onDegraded = fn
	r.mu.Unlock()
}

// IsDegraded reports whether the last health check failed
func (r *RedisClient) IsDegraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// StartHealthCheck pings Redis periodically until ctx is cancelled
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.HealthCheck(ctx)
			}
		}
	}()
}

// HealthCheck pings Redis and updates the degraded flag
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := r.Client.Ping(pingCtx).Err()
	r.setDegraded(err != nil)
	if err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (r *RedisClient) setDegraded(degraded bool) {
	r.mu.Lock()
	changed := r.degraded != degraded
	r.degraded = degraded
	fn := r.onDegraded
	r.mu.Unlock()

	if changed && fn != nil {
		fn(degraded)
	}
}

// Close closes the Redis client connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}
