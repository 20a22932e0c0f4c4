package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	id "membergate/pkg/domain"
)

var isRevokedDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "membergate_credential_revocation_check_duration_ms",
	Help:    "Latency of credential revocation cache checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const revokedKeyPrefix = "crl:credential:"

// RedisCache is a Redis-backed revocation cache shared across instances.
// The credential store remains the source of truth; the cache only makes the
// common revoked-credential rejection cheap.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a revocation cache. Entries live for ttl; a cache
// miss falls through to the store, so expiry is safe.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

// MarkRevoked records a revocation marker.
func (c *RedisCache) MarkRevoked(ctx context.Context, credentialID id.CredentialID) error {
	key := revokedKeyPrefix + credentialID.String()
	return c.client.Set(ctx, key, "1", c.ttl).Err()
}

// IsRevoked checks the marker. Missing key means "not known revoked here".
func (c *RedisCache) IsRevoked(ctx context.Context, credentialID id.CredentialID) (bool, error) {
	start := time.Now()
	defer func() {
		isRevokedDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	key := revokedKeyPrefix + credentialID.String()
	_, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
