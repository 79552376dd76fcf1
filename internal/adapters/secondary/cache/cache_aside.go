package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL de toute entrée posée par le cache-aside
const DefaultTTL = time.Hour

// GetOrCompute lit la clé dans Redis ; sur miss, erreur Redis ou JSON illisible,
// appelle compute puis repeuple le cache. Les pannes du cache sont loguées et
// avalées : seule l'erreur de compute remonte.
func GetOrCompute[T any](ctx context.Context, client redis.Cmdable, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	raw, err := client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached T
		decodeErr := json.Unmarshal(raw, &cached)
		if decodeErr == nil {
			return cached, nil
		}
		slog.Warn("Failed to decode cached value", "key", key, "error", decodeErr)
	case errors.Is(err, redis.Nil):
		// miss
	default:
		slog.Warn("Cache unavailable, fetching from source", "key", key, "error", err)
	}

	value, err := compute(ctx)
	if err != nil {
		return value, err
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("Failed to encode value for cache", "key", key, "error", err)
		return value, nil
	}
	if err := client.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Warn("Redis caching error", "key", key, "error", err)
	}
	return value, nil
}
