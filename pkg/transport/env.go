package transport

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
)

// FromEnvironment builds an HTTP transport, wrapped in a response cache when
// ENTITYSYNC_CACHE_SIZE is larger than zero.
func FromEnvironment(ctx context.Context) (Transport, error) {
	retries, err := strconv.Atoi(env.GetVariableOrDefault(ctx, "ENTITYSYNC_HTTP_RETRIES", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid value for ENTITYSYNC_HTTP_RETRIES: %w", err)
	}

	t := NewHTTPTransport(
		Debug(env.GetVariableOrDefault(ctx, "ENTITYSYNC_HTTP_DEBUG", "false")),
		Retries(retries),
	)

	cacheSize, err := strconv.ParseInt(env.GetVariableOrDefault(ctx, "ENTITYSYNC_CACHE_SIZE", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value for ENTITYSYNC_CACHE_SIZE: %w", err)
	}

	if cacheSize <= 0 {
		return t, nil
	}

	ttl, err := time.ParseDuration(env.GetVariableOrDefault(ctx, "ENTITYSYNC_CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid value for ENTITYSYNC_CACHE_TTL: %w", err)
	}

	cache, err := NewInMemoryCache(cacheSize, ttl)
	if err != nil {
		return nil, err
	}

	return NewCachedTransport(t, cache), nil
}
