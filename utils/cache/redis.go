package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("key not found in cache")

// DefaultNamespace prefixes every key written by this service
const DefaultNamespace = "study-textbook:"

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "status_cache_lookups_total",
	Help: "Status cache reads by result (hit, miss, corrupt, error)",
}, []string{"result"})

// Config configures the status snapshot cache
type Config struct {
	URL         string
	Namespace   string
	DialTimeout time.Duration
}

// RedisCache holds short-lived JSON snapshots under a key namespace
type RedisCache struct {
	client    *redis.Client
	namespace string
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(config Config) (*RedisCache, error) {
	opt, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	opt.DialTimeout = config.DialTimeout

	c := newRedisCache(redis.NewClient(opt), config.Namespace)

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func newRedisCache(client *redis.Client, namespace string) *RedisCache {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisCache{client: client, namespace: namespace}
}

func (r *RedisCache) key(k string) string {
	return r.namespace + k
}

// SetJSON stores value as JSON for expiration
func (r *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), data, expiration).Err()
}

// GetJSON decodes the value stored under key into dest. A missing key and an
// entry that no longer decodes are both reported as ErrNotFound; the latter
// is evicted so the next read repopulates it.
func (r *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		lookups.WithLabelValues("miss").Inc()
		return ErrNotFound
	}
	if err != nil {
		lookups.WithLabelValues("error").Inc()
		return err
	}

	if err := json.Unmarshal(val, dest); err != nil {
		lookups.WithLabelValues("corrupt").Inc()
		log.Warnf("[Cache] Evicting undecodable entry %s: %v", key, err)
		if derr := r.Delete(ctx, key); derr != nil {
			log.Debugf("[Cache] Eviction of %s failed: %v", key, derr)
		}
		return ErrNotFound
	}
	lookups.WithLabelValues("hit").Inc()
	return nil
}

// Delete removes keys
func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.client.Del(ctx, full...).Err()
}

// Ping checks the connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}
